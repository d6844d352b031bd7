// Package main обрабатывает список развертываний без HTTP сервера.
//
//	batch -deployments 3,4,7 -workers 4 -config config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"motor-quality-service/internal/app"
	"motor-quality-service/internal/config"
	"motor-quality-service/internal/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("MQS_CONFIG"), "path to YAML config file")
	list := flag.String("deployments", "", "comma separated deployment ids")
	workers := flag.Int("workers", 0, "parallel deployments (default worker.count)")
	flag.Parse()

	ids, err := parseIDs(*list)
	if err != nil || len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "usage: batch -deployments 1,2,3 [-workers N] [-config file]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *workers <= 0 {
		*workers = cfg.Worker.Count
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize service", zap.Error(err))
	}
	defer a.Close()

	failed := 0
	for _, o := range a.Service.RunMany(ctx, ids, *workers) {
		if o.Err != nil {
			failed++
			continue
		}
		s := o.Response.Summary
		log.Info("Deployment processed",
			zap.Int64("deployment_id", o.DeploymentID),
			zap.Int("measurements", s.DedupedRows),
			zap.Any("codes", s.CodeCounts),
			zap.Int("imputed_cells", s.ImputedCells),
			zap.Int("abstentions", len(o.Response.Abstentions)),
			zap.Int("inserted", o.Response.Persisted.Inserted),
			zap.Int("duplicates", o.Response.Persisted.Duplicates))
	}

	log.Info("Batch finished", zap.Int("total", len(ids)), zap.Int("failed", failed))
	if failed > 0 {
		a.Close()
		_ = log.Sync()
		os.Exit(1)
	}
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid deployment id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
