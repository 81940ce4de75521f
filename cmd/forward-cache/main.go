package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	forwardcache "github.com/always-cache/forward-cache"
	"github.com/always-cache/forward-cache/cache"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	// CLI flags
	configFilenameFlag  string
	adminAddrFlag       string
	snapshotFlag        string
	userAgentFlag       string
	capacityFlag        int
	maxObjectSizeFlag   int
	maxConnectionsFlag  int64
	upstreamTimeoutFlag time.Duration
	verbosityTraceFlag  bool
	logFilenameFlag     string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to YAML config file")
	flag.StringVar(&adminAddrFlag, "admin", "", "Listen address for the admin endpoint (disabled if empty)")
	flag.StringVar(&snapshotFlag, "snapshot", "", "SQLite file to restore the cache from and save it to on shutdown")
	flag.StringVar(&userAgentFlag, "user-agent", "", "User-Agent sent to origin servers")
	flag.IntVar(&capacityFlag, "capacity", cache.DefaultCapacity, "Number of cached responses")
	flag.IntVar(&maxObjectSizeFlag, "max-object-size", forwardcache.DefaultMaxObjectSize, "Largest cached response in bytes")
	flag.Int64Var(&maxConnectionsFlag, "max-connections", 0, "Maximum concurrent connections (0 for no limit)")
	flag.DurationVar(&upstreamTimeoutFlag, "upstream-timeout", 0, "Deadline for an upstream exchange (0 waits forever)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <port>\n", os.Args[0])
		flag.PrintDefaults()
	}

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	port, err := strconv.Atoi(flag.Arg(0))
	if err != nil || port < 0 || port > 65535 {
		fmt.Fprintf(flag.CommandLine.Output(), "invalid port: %s\n", flag.Arg(0))
		flag.Usage()
		os.Exit(1)
	}

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	config, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Str("file", configFilenameFlag).Msg("Could not read config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, port, config); err != nil {
		log.Fatal().Err(err).Msg("Proxy stopped")
	}
	log.Info().Msg("Proxy stopped")
}

// loadConfig reads the config file, if any, and applies the flags set on the command line.
func loadConfig() (Config, error) {
	config := Config{
		Capacity:      cache.DefaultCapacity,
		MaxObjectSize: forwardcache.DefaultMaxObjectSize,
	}
	if configFilenameFlag != "" {
		fileConfig, err := getConfig(configFilenameFlag)
		if err != nil {
			return config, err
		}
		config = mergeConfig(config, fileConfig)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "admin":
			config.Admin = adminAddrFlag
		case "snapshot":
			config.Snapshot = snapshotFlag
		case "user-agent":
			config.UserAgent = userAgentFlag
		case "capacity":
			config.Capacity = capacityFlag
		case "max-object-size":
			config.MaxObjectSize = maxObjectSizeFlag
		case "max-connections":
			config.MaxConnections = maxConnectionsFlag
		case "upstream-timeout":
			config.UpstreamTimeout = upstreamTimeoutFlag
		}
	})
	return config, nil
}

// mergeConfig returns base with all non-zero values of override applied.
func mergeConfig(base, override Config) Config {
	if override.Capacity > 0 {
		base.Capacity = override.Capacity
	}
	if override.MaxObjectSize > 0 {
		base.MaxObjectSize = override.MaxObjectSize
	}
	if override.UserAgent != "" {
		base.UserAgent = override.UserAgent
	}
	if override.UpstreamTimeout > 0 {
		base.UpstreamTimeout = override.UpstreamTimeout
	}
	if override.MaxConnections > 0 {
		base.MaxConnections = override.MaxConnections
	}
	if override.Admin != "" {
		base.Admin = override.Admin
	}
	if override.Snapshot != "" {
		base.Snapshot = override.Snapshot
	}
	return base
}

// newProxy creates the cache, restores it from the snapshot if one is configured, and creates the proxy.
// Entries dropped while restoring a snapshot larger than the cache are not counted as evictions.
func newProxy(config Config) (*forwardcache.Proxy, *cache.SQLiteSnapshot, error) {
	responseCache := cache.New(config.Capacity)

	var snapshot *cache.SQLiteSnapshot
	if config.Snapshot != "" {
		var err error
		if snapshot, err = cache.NewSQLiteSnapshot(config.Snapshot); err != nil {
			return nil, nil, fmt.Errorf("open snapshot: %w", err)
		}
		entries, err := snapshot.Load()
		if err != nil {
			snapshot.Close()
			return nil, nil, fmt.Errorf("load snapshot: %w", err)
		}
		responseCache.Restore(entries)
		log.Info().Str("file", config.Snapshot).Int("entries", responseCache.Len()).Msg("Restored cache")
	}

	proxy := forwardcache.New(forwardcache.Config{
		Cache:           responseCache,
		Logger:          &log.Logger,
		UserAgent:       config.UserAgent,
		MaxObjectSize:   config.MaxObjectSize,
		UpstreamTimeout: config.UpstreamTimeout,
		MaxConnections:  config.MaxConnections,
	})
	return proxy, snapshot, nil
}

func run(ctx context.Context, port int, config Config) error {
	proxy, snapshot, err := newProxy(config)
	if err != nil {
		return err
	}
	if snapshot != nil {
		defer snapshot.Close()
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return proxy.Serve(gctx, listener)
	})

	if config.Admin != "" {
		adminServer := &http.Server{
			Addr:    config.Admin,
			Handler: proxy.AdminHandler(),
		}
		g.Go(func() error {
			log.Info().Str("addr", config.Admin).Msg("Serving admin endpoint")
			if err := adminServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin endpoint: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return adminServer.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()

	if snapshot != nil {
		if saveErr := snapshot.Save(proxy.Cache().Entries()); saveErr != nil {
			log.Error().Err(saveErr).Str("file", config.Snapshot).Msg("Could not save snapshot")
		} else {
			log.Info().Str("file", config.Snapshot).Int("entries", proxy.Cache().Len()).Msg("Saved cache")
		}
	}
	return err
}
