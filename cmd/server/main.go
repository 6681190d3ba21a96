// Package main is the entry point of BoostProxy, a Claude Messages API proxy
// that forwards to an OpenAI-compatible backend and optionally steers tool
// use with a boost model.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/router-for-me/BoostProxy/internal/api"
	"github.com/router-for-me/BoostProxy/internal/buildinfo"
	"github.com/router-for-me/BoostProxy/internal/config"
	"github.com/router-for-me/BoostProxy/internal/logging"
	"github.com/router-for-me/BoostProxy/internal/transport"
	"github.com/router-for-me/BoostProxy/internal/util"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const shutdownTimeout = 30 * time.Second

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	var configPath string
	var envFile string
	var showVersion bool
	var asService bool

	flag.StringVar(&configPath, "config", "", "Configure File Path (YAML, or TOML with a .toml extension)")
	flag.StringVar(&envFile, "env-file", "", "Load environment variables from this file instead of ./.env")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.BoolVar(&asService, "service", false, "Run under the platform service manager")
	flag.Parse()

	if showVersion {
		fmt.Printf("BoostProxy Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}
	if handleServiceCommand(flag.Args()) {
		return
	}

	loadEnvFile(envFile)

	if asService {
		if err := runService(configPath); err != nil {
			log.Fatalf("service failed: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, configPath); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func loadEnvFile(path string) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			log.WithError(err).Fatalf("failed to load env file %s", path)
		}
		return
	}
	wd, err := os.Getwd()
	if err != nil {
		return
	}
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}
}

// run loads the configuration and serves until ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.SetLogLevel(cfg.LogLevel)
	if err = logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogDir, cfg.LogsMaxTotalSizeMB); err != nil {
		return fmt.Errorf("failed to configure log output: %w", err)
	}
	defer logging.CloseLogOutputs()

	reg := transport.NewRegistry()
	defer reg.Close()

	srv, err := api.NewServer(cfg, reg)
	if err != nil {
		return err
	}
	logStartup(cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	if configPath != "" {
		w, errWatch := config.NewWatcher(configPath, func(next *config.Config) {
			if errUpdate := srv.UpdateConfig(next); errUpdate != nil {
				log.Errorf("failed to apply reloaded config: %v", errUpdate)
			}
		})
		if errWatch != nil {
			log.Warnf("config hot reload disabled: %v", errWatch)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	return g.Wait()
}

func logStartup(cfg *config.Config) {
	log.Infof("BoostProxy %s (commit %s, built %s)", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
	log.Infof("backend %s key %s", cfg.Backend.BaseURL, util.HideAPIKey(cfg.Backend.APIKey))
	log.Infof("models: big=%s middle=%s small=%s", cfg.Models.Big, cfg.Models.Middle, cfg.Models.Small)
	if cfg.Boost.Enabled == config.TierNone {
		log.Info("boost support disabled")
	} else {
		log.Infof("boost support enabled for %s via %s (%s, max %d iterations)", cfg.Boost.Enabled, cfg.Boost.Model, cfg.Boost.BaseURL, cfg.Boost.MaxIterations)
	}
	if cfg.AnthropicAPIKey != "" || len(cfg.APIKeys) > 0 {
		log.Info("client API key validation enabled")
	}
}
