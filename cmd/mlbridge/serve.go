package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mlbridge/sidecar/internal/assist"
	"mlbridge/sidecar/internal/bridge"
	"mlbridge/sidecar/internal/controlplane"
	"mlbridge/sidecar/internal/events"
	"mlbridge/sidecar/internal/jsonrpc"
	"mlbridge/sidecar/internal/middleware"
	"mlbridge/sidecar/internal/mirror"
	"mlbridge/sidecar/internal/notify"
	"mlbridge/sidecar/internal/settings"
	"mlbridge/sidecar/internal/telemetry"
	"mlbridge/sidecar/internal/version"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sidecar daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().String("listen", "127.0.0.1:8237", "address the editor bridge listens on")
	cmd.Flags().String("session-token", "", "token the editor must present (empty generates one)")
	viper.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	viper.BindPFlag("session-token", cmd.Flags().Lookup("session-token"))
	return cmd
}

func runServe(ctx context.Context) error {
	loki := telemetry.NewLoki(telemetry.LokiConfig{
		URL:      viper.GetString("loki-url"),
		Username: viper.GetString("loki-username"),
		APIKey:   viper.GetString("loki-api-key"),
		AppName:  "mlbridge",
	})
	emitter := telemetry.NewEmitter(loki)

	dbPath := viper.GetString("db")
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	store, err := settings.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open settings store: %w", err)
	}
	log.Printf("Settings store at %s", dbPath)

	client := controlplane.NewClient(emitter)
	bus := events.NewBus()
	defer bus.Close()

	dialer := notify.Dialer(func(ctx context.Context, url, token string) (controlplane.Transport, error) {
		return controlplane.Dial(ctx, url, token)
	})
	dispatcher := notify.NewDispatcher(client, store, bus, emitter, dialer)
	defer dispatcher.Stop()

	// Flag/env overrides persist before the first connect, so a plain
	// restart reuses them.
	if url := viper.GetString("server-url"); url != "" {
		if err := store.SetServerConfig(url, viper.GetString("access-token")); err != nil {
			return fmt.Errorf("persist server config: %w", err)
		}
	}
	connectFromStore(ctx, store, dispatcher)

	m := mirror.New(client, bus)
	defer m.Dispose()
	go m.Run(ctx)

	var assistant *assist.Assistant
	if key := viper.GetString("openai-api-key"); key != "" {
		assistant, err = assist.New(assist.Config{APIKey: key, Model: viper.GetString("openai-model")})
		if err != nil {
			return err
		}
		log.Printf("Fix suggestions enabled (model %s)", viper.GetString("openai-model"))
	}

	handler := bridge.NewHandler(client, m, store, assistant, dispatcher, emitter)
	transport := middleware.NewTransport(handler)

	// Invalidation events flow to every connected editor session.
	go forwardInvalidations(ctx, bus, transport)

	// External `login` runs rewrite the profile file; treat that like a
	// server-changed push.
	if profile := viper.GetString("profile"); profile != "" {
		stop, err := settings.WatchProfile(profile, func(url, token string) {
			dispatcher.Handle(ctx, serverChangedNotification(url, token))
		})
		if err != nil {
			log.Printf("profile watch disabled: %v", err)
		} else {
			defer stop()
			log.Printf("Watching profile %s", profile)
		}
	}

	sessionToken := viper.GetString("session-token")
	if sessionToken == "" {
		sessionToken = generateSessionToken()
		log.Printf("Session token: %s", sessionToken)
	}
	guard := middleware.NewGuard(sessionToken)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","version":"%s","connected":%t,"sessions":%d}`,
			version.Version, client.Ready(), transport.SessionCount())
	})
	mux.Handle("/rpc", middleware.Recovery(emitter, guard.Protect(transport)))

	srv := &http.Server{
		Addr:    viper.GetString("listen"),
		Handler: mux,
	}

	go func() {
		log.Printf("Starting bridge on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start bridge: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Printf("Received signal %s, shutting down gracefully...", sig)
	case <-ctx.Done():
		log.Printf("Context canceled, shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Bridge forced to shutdown: %v", err)
	}
	client.SetTransport(nil)
	log.Printf("Sidecar stopped")
	return nil
}

// connectFromStore dials the stored control plane, if any. Failure is
// not fatal: the sidecar serves not-ready outcomes until a
// server-changed push or profile edit supplies a working address.
func connectFromStore(ctx context.Context, store *settings.Store, dispatcher *notify.Dispatcher) {
	url, err := store.ServerURL()
	if err != nil || url == "" {
		log.Printf("No control plane configured yet")
		return
	}
	token, _ := store.AccessToken()
	if token != "" && settings.TokenExpired(token, time.Now()) {
		log.Printf("WARNING: stored access token is expired; run login again")
	}
	dispatcher.Reconnect(ctx, url, token)
}

// forwardInvalidations mirrors bus events onto the editor's SSE streams.
func forwardInvalidations(ctx context.Context, bus *events.Bus, transport *middleware.Transport) {
	ch, cancel := bus.Subscribe() // all topics
	defer cancel()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			transport.Broadcast("invalidate", map[string]any{"topic": string(ev.Topic)})
		case <-ctx.Done():
			return
		}
	}
}

func serverChangedNotification(url, token string) jsonrpc.Notification {
	raw, _ := json.Marshal(notify.ServerChangedParams{URL: url, AccessToken: token})
	return jsonrpc.Notification{JSONRPC: "2.0", Method: notify.MethodServerChanged, Params: raw}
}

func generateSessionToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("fallback-%d", os.Getpid())
	}
	return hex.EncodeToString(b)
}
