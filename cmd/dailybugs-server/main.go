package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"dailybugs-backend/internal/app"
	"dailybugs-backend/internal/config"
	"dailybugs-backend/internal/logger"
	"dailybugs-backend/internal/scheduler"
	"dailybugs-backend/internal/server"
	"dailybugs-backend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize services", err)
	}
	defer svc.Close()

	s := server.NewServer(cfg, server.Deps{
		Store:    svc.Store,
		Sessions: store.NewMemoryStore(),
		GitHub:   svc.GitHub,
		Runner:   svc.Runner,
		Log:      log,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	sched := scheduler.New(svc.Store, svc.Runner, scheduler.Config{
		Hour:       cfg.Schedule.Hour,
		Attempts:   cfg.Schedule.Attempts,
		RetryDelay: cfg.Schedule.RetryDelay,
		Retention:  cfg.Schedule.Retention,
	}, log.With("component", "scheduler"))

	errChan := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Infof("dailybugs server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("scheduler: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errChan:
		log.Error("service failed", err)
	case <-sigChan:
		log.Info("received shutdown signal")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("error during http server shutdown", err)
	}
	wg.Wait()
	s.Close()
	log.Info("shutdown complete")
}
