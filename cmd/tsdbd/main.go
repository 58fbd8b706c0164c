// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command tsdbd is the minimal daemon wiring the core's exported
// constructors together: load config, open the engine, start the
// ingress listeners and lifecycle scheduler, serve the HTTP API, and
// block on SIGINT/SIGTERM for an orderly shutdown. It performs no
// business logic of its own, mirroring the teacher's own main.go
// (cmd/cc-backend/main.go) shape: parse flags, load config, construct
// singletons, block on signal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nova-ts/tsdb/internal/config"
	"github.com/nova-ts/tsdb/internal/engine"
	"github.com/nova-ts/tsdb/internal/lifecycle"
	"github.com/nova-ts/tsdb/pkg/cclog"
	"github.com/nova-ts/tsdb/pkg/compress"
	"github.com/nova-ts/tsdb/pkg/httpapi"
	"github.com/nova-ts/tsdb/pkg/ingest"
	"github.com/nova-ts/tsdb/pkg/nats"
	"github.com/nova-ts/tsdb/pkg/query"
)

// Exit codes per the surrounding daemon's documented CLI contract.
const (
	exitOK            = 0
	exitConfigError   = 1
	exitDataDirBroken = 2
	exitOutOfDisk     = 3
)

func main() {
	var flagConfigFile string
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Path to the tsdbd JSON configuration file")
	flag.Parse()

	if err := config.Init(flagConfigFile); err != nil {
		cclog.Errorf("config: %s", err.Error())
		os.Exit(exitConfigError)
	}

	opt, err := engineOptions(config.Keys)
	if err != nil {
		cclog.Errorf("config: %s", err.Error())
		os.Exit(exitConfigError)
	}

	eng, err := engine.Open(opt)
	if err != nil {
		cclog.Errorf("engine: open %s: %s", config.Keys.DataDir, err.Error())
		if errors.Is(err, syscall.ENOSPC) {
			os.Exit(exitOutOfDisk)
		}
		os.Exit(exitDataDirBroken)
	}

	ingress := ingest.New(eng)
	executor := query.NewExecutor(eng)

	sched, err := lifecycle.New(eng, nil, lifecycle.Options{
		Interval:          mustParseDuration(config.Keys.GCInterval, time.Minute),
		CompactionHour:    compactionHour(config.Keys.CompactionAt),
		CompactionMinute:  compactionMinute(config.Keys.CompactionAt),
		CompactionWorkers: config.Keys.CompactionWorkers,
		EnableCompaction:  config.Keys.EnableCompaction,
	})
	if err != nil {
		cclog.Errorf("lifecycle: %s", err.Error())
		os.Exit(exitConfigError)
	}
	if err := sched.Start(); err != nil {
		cclog.Errorf("lifecycle: start: %s", err.Error())
		os.Exit(exitConfigError)
	}

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	tcpListener := ingest.NewTCPListener(config.Keys.PutAddr, ingress)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tcpListener.Serve(ctx); err != nil {
			cclog.Errorf("put listener: %s", err.Error())
		}
	}()

	var natsClient *nats.Client
	if config.Keys.Nats != nil {
		client, err := nats.NewClient(config.Keys.Nats)
		if err != nil {
			cclog.Errorf("nats: connect: %s", err.Error())
		} else {
			natsClient = client
			format := ingest.FormatPutLine
			if config.Keys.NatsFormat == "influx" {
				format = ingest.FormatInflux
			}
			sub := ingest.NewNatsSubscriber(client, config.Keys.NatsSubject, format, ingress, config.Keys.NatsWorkers)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := sub.Run(ctx); err != nil {
					cclog.Errorf("nats subscriber: %s", err.Error())
				}
			}()
		}
	}

	api := &httpapi.Server{
		Executor: executor,
		Ingress:  ingress,
		Health:   httpapi.EngineHealth{Engine: eng},
	}
	httpServer := &http.Server{
		Addr:         config.Keys.HTTPAddr,
		Handler:      api.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	listener, err := net.Listen("tcp", config.Keys.HTTPAddr)
	if err != nil {
		cclog.Errorf("http: listen %s: %s", config.Keys.HTTPAddr, err.Error())
		os.Exit(exitConfigError)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			cclog.Errorf("http: serve: %s", err.Error())
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	cclog.Infof("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		cclog.Errorf("http: shutdown: %s", err.Error())
	}
	if err := sched.Shutdown(); err != nil {
		cclog.Errorf("lifecycle: shutdown: %s", err.Error())
	}
	if err := tcpListener.Close(); err != nil {
		cclog.Errorf("put listener: close: %s", err.Error())
	}
	if natsClient != nil {
		natsClient.Close()
	}
	if err := eng.Close(); err != nil {
		cclog.Errorf("engine: close: %s", err.Error())
	}

	wg.Wait()
	cclog.Infof("graceful shutdown complete")
}

func engineOptions(c config.Config) (engine.Options, error) {
	var res compress.Resolution
	switch c.TimestampRes {
	case "sec":
		res = compress.ResolutionSeconds
	case "ms", "":
		res = compress.ResolutionMillis
	default:
		return engine.Options{}, fmt.Errorf("unknown timestamp_resolution %q", c.TimestampRes)
	}

	var ver compress.Version
	switch c.CompressorVersion {
	case 0:
		ver = compress.V0
	case 1:
		ver = compress.V1
	case 2:
		ver = compress.V2
	default:
		return engine.Options{}, fmt.Errorf("unknown compressor_version %d", c.CompressorVersion)
	}

	bucketDuration, err := time.ParseDuration(c.BucketDuration)
	if err != nil {
		return engine.Options{}, fmt.Errorf("bucket_duration: %w", err)
	}
	readOnly, err := time.ParseDuration(c.ReadOnlyThreshold)
	if err != nil {
		return engine.Options{}, fmt.Errorf("read_only_threshold: %w", err)
	}
	archive, err := time.ParseDuration(c.ArchiveThreshold)
	if err != nil {
		return engine.Options{}, fmt.Errorf("archive_threshold: %w", err)
	}

	return engine.Options{
		DataDir:           c.DataDir,
		BucketDuration:    bucketDuration,
		PageSize:          c.PageSize,
		CompressorVersion: ver,
		Resolution:        res,
		ReadOnlyThreshold: readOnly,
		ArchiveThreshold:  archive,
	}, nil
}

func mustParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// compactionHour/compactionMinute parse the "HH:MM" compaction_at
// config key; a malformed or empty value yields 00:00. Whether the
// compaction job runs at all is decided by enable_compaction.
func compactionHour(hhmm string) int {
	h, _ := parseHHMM(hhmm)
	return h
}

func compactionMinute(hhmm string) int {
	_, m := parseHHMM(hhmm)
	return m
}

func parseHHMM(hhmm string) (int, int) {
	var h, m int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &h, &m); err != nil {
		return 0, 0
	}
	return h, m
}
