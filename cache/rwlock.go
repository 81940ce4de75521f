package cache

import "sync"

// rwLock is a readers-preferring readers-writer lock.
// The first reader in locks writers out and the last reader out lets them back in,
// so a new reader never waits for a queued writer while other readers are active.
// A steady stream of readers can therefore keep a writer waiting indefinitely.
type rwLock struct {
	// mu guards readers
	mu      sync.Mutex
	readers int
	// write is held either by one writer or by the current group of readers
	write chan struct{}
}

func newRWLock() *rwLock {
	return &rwLock{write: make(chan struct{}, 1)}
}

func (l *rwLock) RLock() {
	l.mu.Lock()
	l.readers++
	if l.readers == 1 {
		l.write <- struct{}{}
	}
	l.mu.Unlock()
}

func (l *rwLock) RUnlock() {
	l.mu.Lock()
	l.readers--
	if l.readers == 0 {
		<-l.write
	}
	l.mu.Unlock()
}

func (l *rwLock) Lock() {
	l.write <- struct{}{}
}

func (l *rwLock) Unlock() {
	<-l.write
}
