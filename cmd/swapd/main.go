package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"

	"main/internal/hub"
	"main/internal/model"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/queue"
	"main/internal/router"
	"main/internal/service"
	"main/internal/store"
	"main/internal/transport"
	"main/internal/worker"
)

const (
	shutdownTimeout = 10 * time.Second
	pruneInterval   = time.Minute
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config (empty = defaults)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if loaded.Profiler.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "swapd",
			ServerAddress:   loaded.Profiler.ServerAddress,
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() { _ = profiler.Stop() }()
	}

	metrics := obs.New()

	var st store.Store
	switch loaded.Store.Driver {
	case "postgres":
		pg, err := store.NewPostgres(loaded.Store.Postgres.PostgresOption())
		if err != nil {
			log.Fatalf("open postgres store: %v", err)
		}
		defer func() { _ = pg.Close() }()
		st = pg
	default:
		st = store.NewMemory()
	}

	broadcast := hub.New()
	broadcast.OnSend(func(delivered bool) {
		if delivered {
			metrics.BroadcastSent.Inc()
		} else {
			metrics.BroadcastDropped.Inc()
		}
	})

	sources := make([]router.Source, 0, len(loaded.Sources))
	for _, name := range loaded.Sources {
		sources = append(sources, router.NewSimSource(name, loaded.Sim))
	}
	rt, err := router.New(sources...)
	if err != nil {
		log.Fatalf("build router: %v", err)
	}

	workerCfg := loaded.Worker
	workerCfg.OnTransition = func(status model.Status) {
		metrics.Transitions.WithLabelValues(string(status)).Inc()
	}
	executor := worker.New(workerCfg, st, rt, broadcast)

	q, err := queue.New(loaded.Queue, executor.Process, queue.Hooks{
		JobActivated: metrics.JobsActive.Inc,
		JobFinished:  metrics.JobsActive.Dec,
		JobRetried:   metrics.JobRetries.Inc,
		JobFailed:    metrics.JobFailures.Inc,
	})
	if err != nil {
		log.Fatalf("build queue: %v", err)
	}
	if err := q.Start(ctx); err != nil {
		log.Fatalf("start queue: %v", err)
	}

	if loaded.RetainJobs > 0 || loaded.RetainJobsAge > 0 {
		go runPruner(ctx, q, loaded.RetainJobsAge, loaded.RetainJobs)
	}

	svc := service.New(st, q, service.Hooks{
		OrderSubmitted: metrics.OrdersSubmitted.Inc,
	})

	mux := transport.NewServer(svc, transport.NewWSUpgrader(broadcast)).Mux()
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: loaded.HTTPAddr, Handler: mux}
	go func() {
		logs.Infof("swapd listening on %s (sources: %v, store: %s)", loaded.HTTPAddr, loaded.Sources, loaded.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logs.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logs.Errorf("http shutdown, err: %+v", err)
	}
	if err := q.Close(); err != nil {
		logs.Errorf("queue shutdown, err: %+v", err)
	}
}

func runPruner(ctx context.Context, q *queue.Queue, maxAge time.Duration, maxCount int) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := q.Prune(maxAge, maxCount); removed > 0 {
				logs.Infof("pruned %d terminal job records", removed)
			}
		}
	}
}
