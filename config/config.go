// File: config/config.go
// Author: momentics <momentics@gmail.com>

// Package config loads the pumpd INI configuration and applies environment
// overrides, so PaaS-injected variables win over the file on disk.
package config

import (
	"os"
	"strconv"

	"gopkg.in/ini.v1"
)

// File mirrors the pumpd.ini layout.
type File struct {
	Server ServerConf `ini:"server"`
	Log    LogConf    `ini:"log"`
}

// ServerConf configures the reactor core.
type ServerConf struct {
	Listen   string `ini:"listen"`
	Seed     string `ini:"seed"`
	MaxConns int    `ini:"max_conns"`
}

// LogConf configures logging output.
type LogConf struct {
	Level string `ini:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *File {
	return &File{
		Server: ServerConf{
			Listen:   ":8017",
			MaxConns: 2048,
		},
		Log: LogConf{
			Level: "info",
		},
	}
}

// Load reads path into cfg and applies the environment on top.
func Load(cfg *File, path string) error {
	f, err := ini.Load(path)
	if err != nil {
		return err
	}
	if err := f.MapTo(cfg); err != nil {
		return err
	}
	ApplyEnv(cfg)
	return nil
}

// ApplyEnv overrides cfg from the environment: PUMPD_LISTEN and PORT for the
// bind address, PUMPD_SEED for the secret seed, PUMPD_MAX_CONNS for the
// table capacity. PUMPD_LISTEN takes precedence over PORT.
func ApplyEnv(cfg *File) {
	if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err == nil {
			cfg.Server.Listen = ":" + port
		}
	}
	if listen := os.Getenv("PUMPD_LISTEN"); listen != "" {
		cfg.Server.Listen = listen
	}
	if seed := os.Getenv("PUMPD_SEED"); seed != "" {
		cfg.Server.Seed = seed
	}
	if max := os.Getenv("PUMPD_MAX_CONNS"); max != "" {
		if n, err := strconv.Atoi(max); err == nil && n > 0 {
			cfg.Server.MaxConns = n
		}
	}
}
