package main

import (
	"context"
	stlog "log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/foglayer/dispatchd/internal/combine"
	"github.com/foglayer/dispatchd/internal/config"
	"github.com/foglayer/dispatchd/internal/consulreg"
	"github.com/foglayer/dispatchd/internal/container"
	"github.com/foglayer/dispatchd/internal/dispatch"
	"github.com/foglayer/dispatchd/internal/engine"
	"github.com/foglayer/dispatchd/internal/images"
	"github.com/foglayer/dispatchd/internal/ledger"
	"github.com/foglayer/dispatchd/internal/registry"
	"github.com/foglayer/dispatchd/internal/server"
	"github.com/foglayer/dispatchd/internal/task"
)

func main() {
	cfg, err := config.LoadConfig("configs/config.yaml")
	if err != nil {
		stlog.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := setupLogger(cfg.LogLevel)
	if err != nil {
		stlog.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("fog dispatcher starting up")

	var ready atomic.Bool

	consulClient, err := consulreg.Connect(cfg.ConsulAddress, logger)
	var serviceID string
	if err != nil {
		logger.Warn("failed to connect to Consul agent; continuing without service registration", zap.Error(err))
	} else {
		serviceID = config.GenerateServiceID(cfg.ServiceIDPrefix)
		if err := consulreg.RegisterService(consulClient, cfg, serviceID, logger); err != nil {
			logger.Warn("failed to register with Consul; continuing without service registration", zap.Error(err))
			consulClient = nil
		} else {
			logger.Info("registered with Consul", zap.String("service_id", serviceID))
		}
	}

	runtime, err := container.NewDockerRuntime(cfg.DockerHost, logger)
	if err != nil {
		logger.Fatal("failed to build docker runtime", zap.Error(err))
	}
	defer func() {
		if err := runtime.Close(); err != nil {
			logger.Warn("failed to close docker client", zap.Error(err))
		}
	}()

	eng := buildEngine(cfg, runtime, logger)
	eng.Start()
	ready.Store(true)

	router := server.NewRouter(eng, cfg, logger, ready.Load)
	httpSrv := server.New(cfg, router, logger)
	go httpSrv.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received, draining")

	if consulClient != nil {
		if err := consulreg.DeregisterService(consulClient, serviceID, logger); err != nil {
			logger.Error("failed to deregister from Consul", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Stop(ctx)

	eng.Stop()

	logger.Info("fog dispatcher stopped")
}

// buildEngine wires the ledger, registry, image map, combiner registry,
// container runtime, and HTTP dispatch client described in SPEC_FULL.md
// §4 into one Engine, from the static configuration file.
func buildEngine(cfg *config.Config, runtime container.Runtime, logger *zap.Logger) *engine.Engine {
	lg := ledger.New(task.Resources{
		CPU: decimal.NewFromFloat(cfg.LocalResources.CPU),
		RAM: decimal.NewFromFloat(cfg.LocalResources.RAM),
		GPU: decimal.NewFromFloat(cfg.LocalResources.GPU),
	})

	nodes := make([]registry.Node, 0, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		nodes = append(nodes, registry.Node{
			ID:   n.ID,
			Host: n.Host,
			Port: n.Port,
			Resources: task.Resources{
				CPU: decimal.NewFromFloat(n.CPU),
				RAM: decimal.NewFromFloat(n.RAM),
				GPU: decimal.NewFromFloat(n.GPU),
			},
			Active: n.Active,
		})
	}
	reg := registry.New(nodes)

	imgMap := images.New(cfg.ImageMap, cfg.DefaultImage)

	combiners := combine.NewRegistry()
	combiners.Register("aggregate-report", combine.MergeObjects)

	return engine.New(engine.Config{
		Ledger:                   lg,
		Registry:                 reg,
		Images:                   imgMap,
		Combiners:                combiners,
		Runtime:                  runtime,
		DispatchClient:           dispatch.New(logger),
		ScratchRoot:              cfg.ScratchDir,
		ContainerNamePrefix:      cfg.ContainerTag,
		MaxConcurrentTasks:       cfg.MaxConcurrentTasks,
		AdmissionQueueCapacity:   cfg.AdmissionQueueCapacity,
		RemoteDispatchTimeoutPad: cfg.RemoteDispatchTimeoutPad,
		Logger:                   logger,
	})
}

// setupLogger configures zap from a level string, the same shape as
// the teacher's scheduler-orchestrator main.go.
func setupLogger(levelString string) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.Set(levelString); err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	return zapCfg.Build()
}
