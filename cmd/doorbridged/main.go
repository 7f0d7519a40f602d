// Command doorbridged runs the call orchestrator: it drives the telephony
// engine's REST and event-stream APIs, coordinates per-call state through
// the KV store and realtime config store, dispatches push wake-ups to
// mobile clients, and serves the stateless HTTP surface consumed by those
// clients.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/doorbridge/doorbridge/internal/api"
	"github.com/doorbridge/doorbridge/internal/config"
	"github.com/doorbridge/doorbridge/internal/engine"
	"github.com/doorbridge/doorbridge/internal/janitor"
	"github.com/doorbridge/doorbridge/internal/kv"
	"github.com/doorbridge/doorbridge/internal/metrics"
	"github.com/doorbridge/doorbridge/internal/orchestrator"
	"github.com/doorbridge/doorbridge/internal/push"
	"github.com/doorbridge/doorbridge/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting doorbridge",
		"app_port", cfg.AppPort,
		"ari_app_name", cfg.AriAppName,
		"server_domain", cfg.ServerDomain,
	)

	// Application context for background goroutines: the event-stream
	// reader and the janitor's two loops.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	kvStore, err := kv.Open(appCtx, kv.Config{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
	})
	if err != nil {
		slog.Error("failed to open kv store", "error", err)
		os.Exit(1)
	}
	defer kvStore.Close()

	realtimeStore, err := store.Open(cfg.PostgresDSN())
	if err != nil {
		slog.Error("failed to open realtime store", "error", err)
		os.Exit(1)
	}
	defer realtimeStore.Close()

	if err := realtimeStore.EnsureTemplates(appCtx); err != nil {
		slog.Error("failed to ensure endpoint templates", "error", err)
		os.Exit(1)
	}

	engineClient := engine.New(engine.Config{
		BaseURL:  cfg.AriBaseURL(),
		User:     cfg.AriUser,
		Password: cfg.AriPassword,
		AppName:  cfg.AriAppName,
	})
	if err := engineClient.SubscribeEndpointEvents(appCtx); err != nil {
		slog.Error("failed to subscribe to endpoint events", "error", err)
		os.Exit(1)
	}

	dispatcher := push.NewDispatcher(buildPushSender(cfg, appCtx), pushTokenSource{realtimeStore})

	orch := orchestrator.New(orchestrator.Config{
		ServerDomain:    cfg.ServerDomain,
		AppName:         cfg.AriAppName,
		CallTokenTTL:    time.Duration(cfg.CallTokenTTLSec) * time.Second,
		RingTimeout:     time.Duration(cfg.RingTimeoutSec) * time.Second,
		PushRecipient:   cfg.Realphone,
		InboundContext:  "doorbridge-inbound",
		OutboundContext: "doorbridge-outbound",
	}, engineClient, kvStore, realtimeStore, dispatcher)

	stream := engine.NewStream(engine.StreamConfig{
		WebSocketURL: cfg.AriWebSocketURL(),
		User:         cfg.AriUser,
		Password:     cfg.AriPassword,
		AppName:      cfg.AriAppName,
	})
	go stream.Run(appCtx, func(ev engine.Event) { orch.HandleEvent(appCtx, ev) })

	j := janitor.New(kvStore, realtimeStore, orch)
	go j.Run(appCtx)

	collector := metrics.NewCollector(orch, dispatcher, j, startTime)
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	apiServer := api.NewServer(orch, realtimeStore, cfg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", apiServer)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.AppPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	appCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("doorbridge stopped")
}

// buildPushSender wires one MultiSender platform entry per configured
// credential set (§4.4). A deployment missing both FCM and APNs
// credentials still starts: push dispatch then fails closed per-target,
// which Dispatch already aggregates into a non-fatal *errs.PushError.
func buildPushSender(cfg *config.Config, ctx context.Context) *push.MultiSender {
	senders := make(map[string]push.Sender)

	if cfg.FirebaseCredentialsFile != "" {
		fcm, err := push.NewFCMSender(ctx, cfg.FirebaseCredentialsFile)
		if err != nil {
			slog.Error("failed to initialize fcm sender, android push disabled", "error", err)
		} else {
			senders["fcm"] = fcm
		}
	}

	if cfg.ApnsKeyFile != "" {
		apns, err := push.NewAPNsSender(push.APNsConfig{
			KeyFile:  cfg.ApnsKeyFile,
			KeyID:    cfg.ApnsKeyID,
			TeamID:   cfg.ApnsTeamID,
			BundleID: cfg.ApnsBundleID,
			Sandbox:  cfg.ApnsSandbox,
		})
		if err != nil {
			slog.Error("failed to initialize apns sender, ios push disabled", "error", err)
		} else {
			senders["apns"] = apns
		}
	}

	if len(senders) == 0 {
		slog.Warn("no push credentials configured, push notifications disabled")
	}

	return push.NewMultiSender(senders)
}

// pushTokenSource adapts the realtime store's PushToken rows to the shape
// push.Dispatcher expects, so the push package never needs to import store.
type pushTokenSource struct {
	store *store.Store
}

func (a pushTokenSource) ListPushTokens(ctx context.Context, userID string) ([]push.Target, error) {
	tokens, err := a.store.ListPushTokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	targets := make([]push.Target, len(tokens))
	for i, t := range tokens {
		targets[i] = push.Target{Platform: t.Platform, Token: t.Token}
	}
	return targets, nil
}
