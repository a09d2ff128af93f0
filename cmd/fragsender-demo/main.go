// Copyright (c) 2026 Fragstream Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command fragsender-demo wires the sender core to a live UDP transport,
// a synthetic frame producer, and the optional diagnostics/capture/archive
// side channels, driven entirely by one YAML configuration file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fragstream/fragsender/internal/archive"
	"github.com/fragstream/fragsender/internal/capture"
	"github.com/fragstream/fragsender/internal/config"
	"github.com/fragstream/fragsender/internal/diagnostics"
	"github.com/fragstream/fragsender/internal/frame"
	"github.com/fragstream/fragsender/internal/logging"
	"github.com/fragstream/fragsender/internal/netmgr"
	"github.com/fragstream/fragsender/internal/sender"
)

func main() {
	configPath := flag.String("config", "/etc/fragsender/fragsender.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("fragsender-demo exited with an error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dscp := 0
	if cfg.Network.DSCP != "" {
		var err error
		dscp, err = netmgr.ParseDSCP(cfg.Network.DSCP)
		if err != nil {
			return fmt.Errorf("parsing network.dscp: %w", err)
		}
	}

	mgr, err := netmgr.New(netmgr.Config{
		LocalAddr:  cfg.Network.LocalAddr,
		RemoteAddr: cfg.Network.RemoteAddr,
		DSCP:       dscp,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("creating network manager: %w", err)
	}
	defer mgr.Close()

	callback := func(status frame.Status, f frame.Frame) {
		switch status {
		case frame.Sent:
			logger.Debug("frame delivered", "frame_number", f.Number, "size", f.Size)
		case frame.Cancel:
			logger.Debug("frame cancelled", "frame_number", f.Number, "size", f.Size)
		}
	}

	s, err := sender.New(sender.Config{
		Manager:           mgr,
		Callback:          callback,
		FragmentSize:      cfg.Sender.FragmentSize,
		MaxFrameSize:      cfg.Sender.MaxFrameSize,
		QueueCapacity:     cfg.Sender.QueueCapacity,
		MinRetry:          cfg.Sender.MinRetry(),
		MaxRetry:          cfg.Sender.MaxRetry(),
		DefaultLatency:    cfg.Sender.DefaultLatency(),
		EnableRetries:     cfg.Sender.EnableRetries,
		EnableAckWait:     cfg.Sender.EnableAckWait,
		RetryBandwidthBps: cfg.Sender.RetryBandwidthBps,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("creating sender: %w", err)
	}

	if cfg.Capture.Enabled {
		tracePath := filepath.Join(cfg.Capture.Path, fmt.Sprintf("trace-%d.ndjson.gz", time.Now().UnixNano()))
		trace, err := capture.Open(tracePath, cfg.Capture.Parallel, logger)
		if err != nil {
			return fmt.Errorf("opening capture trace: %w", err)
		}
		liveCapture := s.Capture(trace.Raw())

		defer func() {
			if err := liveCapture.Close(); err != nil {
				logger.Warn("closing live capture sink", "error", err)
			}
			if err := trace.Close(); err != nil {
				logger.Warn("closing capture trace", "error", err)
			}
			if cfg.Archive.Enabled {
				uploader, err := archive.New(ctx, cfg.Archive.Bucket, cfg.Archive.Prefix, logger)
				if err != nil {
					logger.Error("creating archive uploader", "error", err)
					return
				}
				if err := uploader.UploadFile(ctx, tracePath); err != nil {
					logger.Error("archiving capture trace", "error", err)
				}
			}
		}()
	}

	sink := func(snap diagnostics.Snapshot) {
		s.RecordDiagnostics(snap)
	}
	monitor, err := diagnostics.New(cfg.Diagnostics.Schedule, s, logger, sink)
	if err != nil {
		return fmt.Errorf("creating diagnostics monitor: %w", err)
	}
	monitor.Start()
	defer monitor.Stop(context.Background())

	go s.RunDataLoop()
	go s.RunAckLoop()

	go produceSyntheticFrames(ctx, s, cfg.Sender.FragmentSize, logger)

	<-ctx.Done()
	logger.Info("shutting down")
	s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := s.Delete(); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil
}

// produceSyntheticFrames stands in for a real video encoder: it emits
// randomly sized frames at a steady rate, occasionally marking one
// high-priority, until ctx is cancelled. A real integration replaces this
// with frames pulled off an encoder output queue.
func produceSyntheticFrames(ctx context.Context, s *sender.Sender, fragmentSize int, logger *slog.Logger) {
	ticker := time.NewTicker(33 * time.Millisecond)
	defer ticker.Stop()

	maxSize := fragmentSize*7 + 1
	var frameNumber uint32

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			size := fragmentSize*2 + rand.Intn(fragmentSize*5)
			if size > maxSize {
				size = maxSize
			}
			// The core stores this slice by reference until the frame's
			// callback fires, so each tick needs its own backing array
			// rather than reusing one buffer across frames.
			buf := make([]byte, size)
			rand.Read(buf)

			flush := frameNumber%30 == 0
			backlog, err := s.SendNewFrame(buf, size, flush)
			if err != nil {
				logger.Warn("dropping synthetic frame", "error", err)
				continue
			}
			logger.Debug("submitted synthetic frame", "frame_number", frameNumber, "size", size, "prior_backlog", backlog)
			frameNumber++
		}
	}
}
