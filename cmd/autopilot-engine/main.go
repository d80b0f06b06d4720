// Autopilot Engine — автономный контур обработки задач.
//
// Движок:
//   - Принимает события через HTTP API, RabbitMQ и расписания
//   - Ведёт очередь pending, provenance-спаны и журнал в хранилище
//   - Прогоняет drain-цикл StepOrchestrator по зарегистрированным шагам
//   - Исполняет конвейер coordinate → plan → workflow → commit →
//     resolve → push
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/endorhq/rover-sub001/internal/agent"
	"github.com/endorhq/rover-sub001/internal/api"
	"github.com/endorhq/rover-sub001/internal/config"
	"github.com/endorhq/rover-sub001/internal/domain"
	"github.com/endorhq/rover-sub001/internal/gitops"
	"github.com/endorhq/rover-sub001/internal/ingest"
	"github.com/endorhq/rover-sub001/internal/mq"
	"github.com/endorhq/rover-sub001/internal/orchestrator"
	"github.com/endorhq/rover-sub001/internal/project"
	"github.com/endorhq/rover-sub001/internal/scheduler"
	"github.com/endorhq/rover-sub001/internal/step"
	"github.com/endorhq/rover-sub001/internal/steps"
	"github.com/endorhq/rover-sub001/internal/store"
	"github.com/endorhq/rover-sub001/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting autopilot-engine")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Конфигурация из workspace
	workspace := os.Getenv("AUTOPILOT_WORKSPACE")
	if workspace == "" {
		workspace = "."
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Хранилище
	st, err := store.Open(ctx, store.Config{
		Driver:    cfg.Store.Driver,
		DSN:       cfg.Store.DSN,
		Workspace: cfg.Workspace,
	})
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("store opened", "driver", cfg.Store.Driver)

	// Реестр шагов: полный конвейер автопилота
	reg := step.NewRegistry()
	steps.RegisterDefaults(reg, steps.Deps{
		Store: st,
		Invoker: agent.NewCLI(agent.Config{
			Command: cfg.Agent.Command,
			Args:    cfg.Agent.Args,
			Timeout: cfg.Agent.Timeout(),
			Logger:  logger,
		}),
		Project: project.NewFS(cfg.TasksRoot()),
		Launcher: project.NewExecLauncher(project.LauncherConfig{
			Command:   cfg.Launcher.Command,
			Args:      cfg.Launcher.Args,
			Workspace: cfg.Workspace,
			Timeout:   cfg.Launcher.Timeout(),
			Logger:    logger,
		}),
		Git:         gitops.NewExecGit(),
		Workspace:   cfg.Workspace,
		Workflows:   cfg.Workflows,
		Attribution: cfg.Commit.Attribution,
		AutoPush:    cfg.Push.AutoPush(),
		Remote:      cfg.Push.Remote,
		MergeBack:   cfg.MergeBack,
		MaxParallel: cfg.Steps.MaxParallel,
	})

	// RabbitMQ: опционален, без брокера движок работает от таймера и API
	var publisher *mq.Publisher
	var mqConn *mq.Connection
	mqURL := cfg.MQ.URL
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err = mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Оркестратор. Observers транслируют изменения в брокер, когда он
	// есть; замыкания берут orch по ссылке — к моменту первого вызова
	// (внутри Start) переменная уже присвоена.
	var orch *orchestrator.StepOrchestrator
	orch = orchestrator.New(orchestrator.Config{
		Store:         st,
		Registry:      reg,
		DrainInterval: cfg.DrainInterval(),
		OnTracesUpdated: func() {
			if publisher == nil {
				return
			}
			if err := publisher.PublishTraceUpdated(ctx, orch.TraceCount()); err != nil {
				logger.Debug("failed to publish trace update", "error", err)
			}
		},
		OnStatusChanged: func(actionType string, status domain.DispatchStatus, processed int) {
			if publisher == nil {
				return
			}
			if err := publisher.PublishStepStatus(ctx, actionType, status, processed); err != nil {
				logger.Debug("failed to publish step status", "error", err)
			}
		},
		Logger: logger,
	})

	// Запускаем оркестратор: восстановление traces синхронное
	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// Единая точка входа событий
	ing := ingest.New(ingest.Config{
		Store:   st,
		Drainer: orch,
		Logger:  logger,
	})

	// Потребитель событий из очереди
	var consumer *mq.Consumer
	if mqConn != nil {
		consumer = mq.NewEventConsumer(mqConn, ing, logger)
		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event consumer stopped", "error", err)
			}
		}()
	}

	// Расписания
	if len(cfg.Schedules) > 0 {
		sched, err := scheduler.New(scheduler.Config{
			Triggers: cfg.Triggers(),
			Ingestor: ing,
			Logger:   logger,
		})
		if err != nil {
			logger.Error("failed to init scheduler", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("scheduler stopped", "error", err)
			}
		}()
	}

	// HTTP: API + healthz + metrics
	handler := api.NewHandler(api.Config{
		Store:        st,
		Orchestrator: orch,
		Registry:     reg,
		Ingestor:     ing,
		Logger:       logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(mux)

	addr := fmt.Sprintf(":%d", cfg.API.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	if consumer != nil {
		consumer.Stop()
	}

	// Дожидаемся in-flight шагов
	orch.Stop()
	logger.Info("autopilot-engine stopped")
}
