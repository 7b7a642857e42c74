package main

import (
	"context"
	"encoding/json"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cri-9/oficina-600/internal/config"
	"github.com/cri-9/oficina-600/internal/httpapi"
	"github.com/cri-9/oficina-600/internal/hub"
	"github.com/cri-9/oficina-600/internal/relay"
	"github.com/cri-9/oficina-600/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("display-relay")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	rdb := config.NewRedisClient(cfg)
	if rdb == nil {
		log.Fatalf("redis unreachable at %s", cfg.RedisAddr)
	}
	defer rdb.Close()

	h := hub.New(cfg.SendTimeout)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})

	welcome, _ := json.Marshal(relay.Event{Type: relay.TypeConnectionEstablished})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	sockjsHandler := sockjs.NewHandler("/display", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := h.Register(uuid.NewString(), welcome)
		defer h.Unregister(client.ID)

		go func() {
			for {
				select {
				case msg := <-client.Send:
					if err := session.Send(string(msg)); err != nil {
						return
					}
				case <-client.Done():
					_ = session.Close(4000, "closed")
					return
				}
			}
		}()

		// Displays only listen; drain incoming frames until the socket dies.
		for {
			if _, err := session.Recv(); err != nil {
				return
			}
		}
	})
	mux.Handle("/display/", sockjsHandler)

	ctx, cancelSubscriber := context.WithCancel(context.Background())
	subscriber := relay.NewSubscriber(rdb, cfg.RelayChannel)
	go func() {
		if err := subscriber.Run(ctx, h.Broadcast); err != nil && ctx.Err() == nil {
			log.Fatalf("subscriber error: %v", err)
		}
	}()

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "display-relay")
	server := &http.Server{
		Addr:         ":" + cfg.RelayPort,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("display-relay listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancelSubscriber()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
