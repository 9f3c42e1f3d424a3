package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/alertflow/internal/action"
	"github.com/ignite/alertflow/internal/api"
	"github.com/ignite/alertflow/internal/broker"
	"github.com/ignite/alertflow/internal/classify"
	"github.com/ignite/alertflow/internal/config"
	"github.com/ignite/alertflow/internal/ingest"
	"github.com/ignite/alertflow/internal/jira"
	"github.com/ignite/alertflow/internal/llm"
	"github.com/ignite/alertflow/internal/maintenance"
	"github.com/ignite/alertflow/internal/pkg/distlock"
	"github.com/ignite/alertflow/internal/router"
	"github.com/ignite/alertflow/internal/scheduler"
	"github.com/ignite/alertflow/internal/store"
	"github.com/ignite/alertflow/internal/summarize"
	"github.com/ignite/alertflow/internal/supervisor"
	"github.com/ignite/alertflow/internal/teams"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := store.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if err := store.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}
	st := store.New(db)
	log.Println("Database connected, schema ensured")

	// Redis is optional: without it the run lock falls back to PG
	// advisory locks
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis unreachable (%s): %v — using PG advisory locks", cfg.Redis.Addr, err)
			redisClient.Close()
			redisClient = nil
		} else {
			log.Printf("Redis connected: %s", cfg.Redis.Addr)
		}
		pingCancel()
	} else {
		log.Println("Redis not configured — using PG advisory locks")
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Broker and queue topology
	br, err := broker.Connect(cfg.Broker)
	if err != nil {
		log.Fatalf("Failed to connect broker: %v", err)
	}
	defer br.Close()
	queues := broker.Topology(cfg.Broker)
	if err := br.DeclareTopology(queues); err != nil {
		log.Fatalf("Failed to declare topology: %v", err)
	}
	log.Printf("Broker connected, queues declared: %s, %s, %s",
		cfg.Broker.ClassQueue, cfg.Broker.SummQueue, cfg.Broker.JiraQueue)

	// Trigger routing
	rt := router.New(st.Triggers, cfg.Storage.UnmatchedTriggerLog)
	if err := rt.Reload(ctx); err != nil {
		log.Printf("Warning: trigger mappings not loaded, routing to General: %v", err)
	}

	// Model
	gen, err := llm.NewBedrock(ctx, cfg.Model)
	if err != nil {
		log.Fatalf("Failed to initialize model: %v", err)
	}
	pool := llm.NewPool(cfg.Model.PoolWorkers)

	// Pipeline stages
	classifier := classify.New(st, br, gen, pool, rt, maintenance.New(st.Maintenance), cfg)
	summarizer := summarize.New(st, br, cfg)
	actioner := action.New(st, jira.NewClient(cfg.Jira), teams.NewNotifier(cfg.Teams), cfg)

	// Ingest scheduler
	lock := distlock.NewLock(redisClient, db, "alertflow:ingest", 10*time.Minute)
	mailbox := ingest.NewDirMailbox(cfg.Storage.InboxRoot)
	ingester := ingest.New(st, br, mailbox, cfg, lock)
	sched := scheduler.New(st.Settings, cfg, ingest.JobName, func(ctx context.Context) error {
		_, err := ingester.Run(ctx)
		return err
	})

	// Supervisor: probes plus the three consumer tasks
	sup := supervisor.New([]supervisor.Probe{
		{Name: "database", Check: func(ctx context.Context) error {
			return db.PingContext(ctx)
		}},
		{Name: "broker", Check: func(ctx context.Context) error {
			return broker.Ping(cfg.Broker.URL, 5*time.Second)
		}},
		{Name: "scheduler", Check: func(ctx context.Context) error {
			if !sched.Running() {
				return fmt.Errorf("schedule loop is not running")
			}
			return nil
		}, Restart: func(ctx context.Context) error {
			sched.Start(ctx)
			return nil
		}},
	})
	sup.Register(supervisor.Task{Name: "classifier", Run: func(ctx context.Context) error {
		return br.Consume(ctx, queues[0], 1, classifier.Handle)
	}})
	sup.Register(supervisor.Task{Name: "summarizer", Run: func(ctx context.Context) error {
		return br.Consume(ctx, queues[1], 2, summarizer.Handle)
	}})
	sup.Register(supervisor.Task{Name: "actioner", Run: func(ctx context.Context) error {
		return br.Consume(ctx, queues[2], 1, actioner.Handle)
	}})

	sched.Start(ctx)
	sup.Start(ctx)

	// Status API
	server := api.New(cfg.Server, st, sup, sched, rt)
	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	go func() {
		log.Printf("Status API listening on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server error: %v", err)
		}
	}()

	log.Println("Alert pipeline is up")

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done
	log.Println("Shutting down...")

	// teardown order matters: supervisor first so nothing restarts the
	// consumers we are about to stop, then the scheduler, then the rest
	// through the deferred closes
	sup.Stop()
	sched.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("API shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
