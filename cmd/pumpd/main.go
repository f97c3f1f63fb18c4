// File: cmd/pumpd/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/momentics/pumpd/config"
	"github.com/momentics/pumpd/proxy"
	"github.com/momentics/pumpd/pump"
)

func main() {
	configPath := flag.String("config", "", "path to pumpd.ini")
	listen := flag.String("listen", "", "listen address (overrides config)")
	seed := flag.String("seed", "", "secret seed (overrides config)")
	maxConns := flag.Int("max-conns", 0, "pump table capacity (overrides config)")
	logLevel := flag.String("log-level", "", "trace|debug|info|warn|error (overrides config)")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Default()
	if *configPath != "" {
		if err := config.Load(cfg, *configPath); err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
		}
	} else {
		config.ApplyEnv(cfg)
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *seed != "" {
		cfg.Server.Seed = *seed
	}
	if *maxConns > 0 {
		cfg.Server.MaxConns = *maxConns
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatal().Str("level", cfg.Log.Level).Msg("unknown log level")
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Server.Seed == "" {
		log.Fatal().Msg("a secret seed must be configured (-seed, PUMPD_SEED, or [server] seed)")
	}

	srv, err := proxy.New(&proxy.Config{
		ListenAddr: cfg.Server.Listen,
		Seed:       cfg.Server.Seed,
		MaxConns:   cfg.Server.MaxConns,
	}, pump.NewPSK)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	// Operators compare this across instances to verify seed agreement.
	log.Info().Str("secret", srv.SecretHex()).Msg("derived shared secret")

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		for key, val := range srv.Counters().Snapshot() {
			log.Info().Int64(key, val).Msg("final counter")
		}
		_ = srv.Close()
		os.Exit(0)
	}()

	if err := srv.Run(); err != nil {
		log.Fatal().Err(err).Msg("reactor failed")
	}
}
