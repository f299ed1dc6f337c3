// Command transfs mounts a virtual, read-only FUSE presentation of one or
// more archive/ROM collections in client-specific directory layouts (see
// SPEC_FULL.md). It loads the three YAML configuration documents, builds
// the Core owner, mounts the filesystem, and waits for either the FUSE
// server to exit on its own or a termination signal to unmount it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/glennpegden2/transfs/internal/config"
	"github.com/glennpegden2/transfs/internal/core"
	"github.com/glennpegden2/transfs/pkg/utils"
)

var (
	appConfigPath     = flag.String("app-config", "", "path to the app config document (mountpoint, filestore path, cache dir)")
	clientsConfigPath = flag.String("clients-config", "", "path to the clients config document (clients, systems, maps)")
	sourcesConfigPath = flag.String("sources-config", "", "path to the sources config document")
	mountPoint        = flag.String("mountpoint", "", "override the mountpoint from app-config")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s -clients-config=clients.yaml [-app-config=app.yaml] [-sources-config=sources.yaml]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *clientsConfigPath == "" {
		usage()
		os.Exit(2)
	}

	// config.Load itself can't be logged through the structured logger
	// it configures, so bootstrap failures still go through stdlib log.
	cfg, err := config.Load(*appConfigPath, *clientsConfigPath, *sourcesConfigPath)
	if err != nil {
		log.Fatalf("transfs: loading configuration: %v", err)
	}
	if *mountPoint != "" {
		cfg.App.MountPoint = *mountPoint
	}

	logger := newLogger(cfg)
	defer logger.Close()

	owner, err := core.New(cfg)
	if err != nil {
		logger.Fatalf("assembling runtime: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := owner.Start(ctx); err != nil {
		logger.Fatalf("starting: %v", err)
	}
	logger.Infof("mounted at %s", cfg.App.MountPoint)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("received %s, unmounting", sig)
		if err := owner.Stop(ctx); err != nil {
			logger.Errorf("error during shutdown: %v", err)
		}
	}()

	owner.Wait()
	logger.Infof("server stopped")
}

// newLogger builds the process-wide structured logger from the app
// config's log_level/log_file, with size- and age-based rotation when a
// log file is configured. Falls back to a stdout logger at INFO if either
// setting is unusable, rather than failing to start a mount over a bad
// logging config.
func newLogger(cfg *config.Config) *utils.StructuredLogger {
	loggerConfig := utils.DefaultStructuredLoggerConfig()
	if level, err := utils.ParseLogLevel(cfg.App.LogLevel); err == nil {
		loggerConfig.Level = level
	}
	if cfg.App.LogFile != "" {
		loggerConfig.Rotation = &utils.RotationConfig{
			Filename:   cfg.App.LogFile,
			MaxSize:    100,
			MaxAge:     28,
			MaxBackups: 10,
			Compress:   true,
		}
	}
	logger, err := utils.NewStructuredLogger(loggerConfig)
	if err != nil {
		log.Printf("transfs: building structured logger: %v, falling back to stdout", err)
		logger, _ = utils.NewStructuredLogger(utils.DefaultStructuredLoggerConfig())
	}
	return logger.WithComponent("transfs")
}
