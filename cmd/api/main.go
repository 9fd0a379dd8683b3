package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"

	"tms-dashboard/internal/api"
	"tms-dashboard/internal/auth"
	"tms-dashboard/internal/config"
	"tms-dashboard/internal/ratelimit"
	"tms-dashboard/internal/store"
	"tms-dashboard/internal/telemetry"
	"tms-dashboard/internal/upstream"
	"tms-dashboard/internal/ws"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		<-ch
		cancel()
	}()

	jobsDB, err := store.Open(cfg.JobsDBPath)
	if err != nil {
		log.Fatalf("open jobs db: %v", err)
	}
	defer jobsDB.Close()
	auditDB, err := store.Open(cfg.AuditDBPath)
	if err != nil {
		log.Fatalf("open audit db: %v", err)
	}
	defer auditDB.Close()
	provisionDB, err := store.Open(cfg.ProvisionDBPath)
	if err != nil {
		log.Fatalf("open provision db: %v", err)
	}
	defer provisionDB.Close()

	jobs, err := store.NewJobStore(jobsDB)
	if err != nil {
		log.Fatalf("init jobs store: %v", err)
	}
	cache := store.NewAppStatusCache(jobsDB)
	audit, err := store.NewAuditStore(auditDB)
	if err != nil {
		log.Fatalf("init audit store: %v", err)
	}
	provision, err := store.NewProvisionStore(provisionDB)
	if err != nil {
		log.Fatalf("init provision store: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	sessions := auth.NewSessions(redisClient, cfg.SessionTTL)
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	directory := auth.NewDirectory(loadCredentials(), loadAdmins())

	hub := ws.NewHub()

	server := api.New(cfg, api.Deps{
		Jobs:      jobs,
		Cache:     cache,
		Audit:     audit,
		Provision: provision,
		Caller:    upstream.NewCaller(cfg.UpstreamTimeout),
		Fetcher:   upstream.NewStatusFetcher(cache, cfg.BatchFetchTimeout, cfg.SingleFetchTimeout),
		Directory: directory,
		Sessions:  sessions,
		Limiter:   limiter,
		Hub:       hub,
	})

	// Periodic expiry sweep for the app-status cache.
	go func() {
		ticker := time.NewTicker(cfg.CacheSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := cache.Sweep(ctx, cfg.DefaultCacheTTL)
				if err != nil {
					log.Printf("cache sweep: %v", err)
					continue
				}
				if deleted > 0 {
					telemetry.CacheSweepDrops.Add(float64(deleted))
					log.Printf("cache sweep removed %d entries", deleted)
				}
			}
		}
	}()

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
