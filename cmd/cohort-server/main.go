package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log/level"
	"github.com/jessevdk/go-flags"

	"github.com/maxpoletaev/cohort/internal/multierror"
)

func main() {
	p := flags.NewParser(&opts, flags.Default)

	if _, err := p.Parse(); err != nil {
		if err.(*flags.Error).Type != flags.ErrHelp {
			fmt.Println("cli error:", err)
		}

		os.Exit(2)
	}

	logger, closeLogger := setupLogger()

	conf, err := loadFileConfig(opts.ConfigFile)
	if err != nil {
		level.Error(logger).Log("msg", "failed to load config", "err", err)
		os.Exit(1)
	}

	mergeOpts(conf)

	if conf.LocalURI == "" {
		level.Error(logger).Log("msg", "local uri is not set")
		os.Exit(1)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	// Initialize all components.
	coord, closeCoordinator, err := setupCoordinator(conf, logger)
	if err != nil {
		level.Error(logger).Log("msg", "failed to start coordinator", "err", err)
		os.Exit(1)
	}

	closeDetector, err := setupDetector(conf, coord, logger)
	if err != nil {
		level.Error(logger).Log("msg", "failed to start failure detector", "err", err)
		os.Exit(1)
	}

	if err := setupResources(conf, coord, logger); err != nil {
		level.Error(logger).Log("msg", "failed to set up resources", "err", err)
		os.Exit(1)
	}

	level.Info(logger).Log(
		"msg", "cohort server started",
		"uri", conf.LocalURI,
		"members", len(conf.Members),
	)

	// Components must be shut down in a particular order.
	shutdownOrder := []shutdownFunc{
		closeDetector,
		closeCoordinator,
		closeLogger,
	}

	// Block until we receive a signal to shut down.
	<-interrupt
	level.Info(logger).Log("msg", "received interrupt signal, shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	errs := multierror.New[int]()

	for idx, shutdown := range shutdownOrder {
		if err := shutdown(ctx); err != nil {
			errs.Add(idx, err)
		}
	}

	if err := errs.Combined(); err != nil {
		level.Error(logger).Log("msg", "shutdown finished with errors", "err", err)
	}
}
