package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/wfunc/quizbattle/battle"
	"github.com/wfunc/quizbattle/config"
	"github.com/wfunc/quizbattle/logger"
	"github.com/wfunc/quizbattle/monitor"
	"github.com/wfunc/quizbattle/persistence"
	"github.com/wfunc/quizbattle/server"
	"github.com/wfunc/quizbattle/services"
)

func main() {
	// Initialize logger
	logger.Init()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Database
	db, err := persistence.OpenGorm(cfg.Database)
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	logger.Log.Infof("Database connection successful (%s).", cfg.Database.Driver)
	store := persistence.NewGormStore(db)
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mon := monitor.NewMonitor("quizbattle", reg)

	engine := battle.NewEngine(store, cfg.Engine, battle.WithMetrics(mon.Metrics()))
	progress := services.NewProgressService(db, mon.Metrics())
	sweeper := services.NewSweeper(store, engine, cfg.Sweeper)

	storeServer, err := server.NewStoreServer(cfg.Server.HTTPAddress, cfg.Server.RPCAddress, store, progress, sweeper, mon)
	if err != nil {
		logger.Log.Fatalf("Failed to create store server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := storeServer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Errorf("Shutdown: %v", err)
		}
	}()

	// Start Server
	logger.Log.Infof("Starting session store on %s", storeServer.RPCAddr())
	if err := storeServer.Start(ctx); err != nil {
		logger.Log.Fatalf("Failed to start server: %v", err)
	}
}
