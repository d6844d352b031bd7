// Package main запускает сервис контроля качества данных датчиков моторов.
// Сервис реализует:
// - HTTP API для запуска обработки развертываний
// - оценку качества каждого измерения и сводку по кодам
// - синхронизацию на регулярную сетку и ограниченную импутацию
// - сохранение в PostgreSQL и/или REST API, кэширование итогов в Redis
// - экспорт метрик в Prometheus
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"motor-quality-service/internal/app"
	"motor-quality-service/internal/config"
	"motor-quality-service/internal/handlers"
	"motor-quality-service/internal/logger"
	"motor-quality-service/internal/worker"
)

func main() {
	configPath := flag.String("config", os.Getenv("MQS_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting motor quality service",
		zap.String("go_version", runtime.Version()),
		zap.Int("num_cpu", runtime.NumCPU()))

	ctx := context.Background()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize service", zap.Error(err))
	}
	defer a.Close()

	// Пул для асинхронной обработки развертываний
	pool := worker.NewPool(cfg.Worker.Count, cfg.Worker.QueueSize, log)
	poolCtx, cancelPool := context.WithCancel(ctx)
	defer cancelPool()
	pool.Start(poolCtx)

	deps := handlers.Deps{
		Service:      a.Service,
		Taxonomy:     a.Taxonomy,
		Pool:         pool,
		BatchWorkers: cfg.Worker.Count,
		Logger:       log,
	}
	if a.Cache != nil {
		deps.Cache = a.Cache
	}
	if a.Repo != nil {
		deps.DB = a.Repo
	}
	handler := handlers.NewHandler(deps)

	// Настраиваем маршруты
	router := mux.NewRouter()
	handler.Register(router)

	// Prometheus метрики
	router.Handle("/prometheus", promhttp.Handler())

	// Middleware для логирования и метрик
	router.Use(handlers.LoggingMiddleware(log))
	router.Use(handlers.MetricsMiddleware)

	// Создаем HTTP сервер с настройками таймаутов
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("Server listening",
			zap.String("addr", cfg.Server.Addr),
			zap.Strings("sinks", cfg.Output.Sinks),
			zap.Bool("postgres", cfg.HasSink(config.SinkPostgres)),
			zap.Bool("redis", a.Cache != nil))

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server error", zap.Error(err))
		}
	}()

	<-stop
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", zap.Error(err))
	}

	// Дожидаемся развертываний, уже принятых в очередь
	pool.Stop()

	log.Info("Server stopped")
}
