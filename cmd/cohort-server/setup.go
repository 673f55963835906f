package main

import (
	"context"
	"fmt"
	"os"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/maxpoletaev/cohort/coordinator"
	"github.com/maxpoletaev/cohort/membership"
	"github.com/maxpoletaev/cohort/resource"
	"github.com/maxpoletaev/cohort/transport/grpcx"
)

type shutdownFunc func(ctx context.Context) error

var noopShutdown = func(ctx context.Context) error { return nil }

func setupLogger() (kitlog.Logger, shutdownFunc) {
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))

	if !opts.Verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	return logger, noopShutdown
}

func setupCoordinator(conf *fileConfig, logger kitlog.Logger) (*coordinator.Coordinator, shutdownFunc, error) {
	coord, err := coordinator.New(coordinator.Config{
		LocalURI:          conf.LocalURI,
		Members:           conf.Members,
		Transport:         grpcx.New(),
		ElectionTimeout:   time.Millisecond * time.Duration(conf.ElectionTimeoutMS),
		HeartbeatInterval: time.Millisecond * time.Duration(conf.HeartbeatIntervalMS),
		Logger:            logger,
	})
	if err != nil {
		return nil, nil, err
	}

	openCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := coord.Open().Wait(openCtx); err != nil {
		return nil, nil, fmt.Errorf("open coordinator: %w", err)
	}

	shutdown := func(ctx context.Context) error {
		if _, err := coord.Close().Wait(ctx); err != nil {
			return fmt.Errorf("close coordinator: %w", err)
		}

		return nil
	}

	return coord, shutdown, nil
}

func setupResources(conf *fileConfig, coord *coordinator.Coordinator, logger kitlog.Logger) error {
	for name, kind := range conf.Resources {
		if _, err := coord.GetResource(name, resource.Config{Kind: resource.Kind(kind)}); err != nil {
			return fmt.Errorf("resource %s: %w", name, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err := coord.AcquireResource(name).Wait(ctx)
		cancel()

		if err != nil {
			return fmt.Errorf("acquire resource %s: %w", name, err)
		}

		level.Info(logger).Log("msg", "resource acquired", "name", name, "kind", kind)
	}

	return nil
}

func setupDetector(conf *fileConfig, coord *coordinator.Coordinator, logger kitlog.Logger) (shutdownFunc, error) {
	if !conf.Gossip.Enabled {
		return noopShutdown, nil
	}

	detector, err := membership.NewDetector(membership.DetectorConfig{
		BindAddr: conf.Gossip.BindAddr,
		Peers:    conf.Gossip.Peers,
		Registry: coord.Registry(),
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	if err := detector.Join(); err != nil {
		level.Warn(logger).Log("msg", "gossip join failed", "err", err)
	}

	shutdown := func(ctx context.Context) error {
		return detector.Close(5 * time.Second)
	}

	return shutdown, nil
}
