package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Lifeline/internal/aed"
	"Lifeline/internal/auth"
	"Lifeline/internal/dispatch"
	"Lifeline/internal/handler"
	"Lifeline/internal/ingest"
	"Lifeline/internal/models"
	"Lifeline/internal/push"
	"Lifeline/internal/realtime"
	"Lifeline/internal/store"
	"Lifeline/internal/triage"
	"Lifeline/pkg/cache"
	"Lifeline/pkg/config"
	"Lifeline/pkg/logger"
	"Lifeline/pkg/metrics"
	"Lifeline/pkg/scheduler"
	"Lifeline/pkg/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}
	cfg := config.GlobalConfig

	logger.Init(cfg.Log)
	defer logger.Sync()

	db, err := util.OpenDatabase(&gorm.Config{}, cfg.DBDriver, cfg.DSN)
	if err != nil {
		logger.Error("failed to open database", zap.Error(err))
		os.Exit(1)
	}
	if err := db.AutoMigrate(
		&models.User{}, &models.MedicalHistory{}, &models.Skill{},
		&models.Dependent{}, &models.Emergency{}, &models.PushSubscription{},
	); err != nil {
		logger.Error("failed to migrate schema", zap.Error(err))
		os.Exit(1)
	}

	c, err := cache.NewCache(cfg.Cache)
	if err != nil {
		logger.Error("failed to build cache", zap.Error(err))
		os.Exit(1)
	}
	defer c.Close()

	st := store.New(db)
	m := metrics.New(nil)

	sched := scheduler.New()
	defer sched.Stop()

	registry := dispatch.NewRegistry()
	locations := ingest.New(st, c)
	aedIndex := aed.NewHTTPIndex(cfg.AEDBaseURL, cfg.AEDAPIKey, cfg.AEDTimeout, c)
	assessor := triage.NewGroqAssessor(cfg.GroqAPIKey, cfg.GroqBaseURL, cfg.GroqModel)
	pusher := push.NewGatewaySender(cfg.PushBaseURL, cfg.PushAPIKey, 10*time.Second, st)

	engine := dispatch.NewEngine(dispatch.Options{
		TTL:          cfg.EmergencyTTL,
		FanoutRadius: cfg.FanoutRadius,
		AEDCount:     cfg.AEDCount,
		AEDTimeout:   cfg.AEDTimeout,
		AITimeout:    cfg.AITimeout,
	}, st, registry, aedIndex, assessor, pusher, sched, locations, m)
	engine.Recover()

	hub := realtime.NewHub(realtime.DefaultConfig(), engine)
	hub.SetConnectionsGauge(m.LiveConnections)

	// Safety net behind the live timers: retire anything the process missed.
	cr := scheduler.NewCron(nil)
	_, err = cr.Add(cfg.SweepCron, scheduler.FuncJob(func(ctx context.Context) {
		swept, err := st.ExpireOverdue(ctx, time.Now())
		if err != nil {
			logger.Error("expiry sweep failed", zap.Error(err))
			return
		}
		if len(swept) > 0 {
			logger.Info("expiry sweep retired emergencies", zap.Int("count", len(swept)))
		}
	}))
	if err != nil {
		logger.Error("failed to schedule expiry sweep", zap.Error(err))
		os.Exit(1)
	}
	cr.Start()
	defer cr.Stop()

	gin.SetMode(cfg.Mode)
	router := gin.New()
	router.Use(gin.Recovery())

	binder := auth.NewBinder(cfg.JWTSecret, st, c)
	h := handler.New(db, st, binder, hub)
	h.Register(router, cfg.RateLimit, cfg.MetricsRoute)

	srv := &http.Server{Addr: cfg.Addr, Handler: router}
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
	hub.Close()
	engine.Stop()
}
