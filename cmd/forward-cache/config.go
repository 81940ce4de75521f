package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional config file. Command line flags override its values.
type Config struct {
	Capacity        int           `yaml:"capacity"`
	MaxObjectSize   int           `yaml:"maxObjectSize"`
	UserAgent       string        `yaml:"userAgent"`
	UpstreamTimeout time.Duration `yaml:"upstreamTimeout"`
	MaxConnections  int64         `yaml:"maxConnections"`
	// Listen address of the admin endpoint, disabled if empty.
	Admin string `yaml:"admin"`
	// SQLite file to restore the cache from on startup and save it to on shutdown.
	Snapshot string `yaml:"snapshot"`
}

func getConfig(filename string) (Config, error) {
	var config Config
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}
