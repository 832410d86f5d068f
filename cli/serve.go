package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flockhq/flock/config"
	"github.com/flockhq/flock/impersonation"
	"github.com/flockhq/flock/server"
	"github.com/flockhq/flock/tasks"
	"github.com/flockhq/flock/token"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Starts the flock HTTP server.

When worker.enabled is set, an Asynq worker is started alongside it to close
impersonation sessions at their deadline; sessions are expired on their next
read regardless.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Get(v)
	if err != nil {
		return err
	}

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	codec, err := token.NewCodec(cfg.Impersonation.SigningKey)
	if err != nil {
		return err
	}

	store := sessions.NewCookieStore([]byte(cfg.Session.AuthenticationKey), []byte(cfg.Session.EncryptionKey))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	}

	redis := tasks.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	opts := server.Options{
		DB:                db,
		Codec:             codec,
		SessionStore:      store,
		SessionCookieName: cfg.Session.CookieName,
		Impersonation: impersonation.Config{
			CookieName:   cfg.Impersonation.CookieName,
			SecureCookie: cfg.IsProduction(),
		},
		Logger: log.Logger,
	}

	if cfg.Worker.Enabled {
		client := tasks.NewClient(redis)
		defer client.Close()
		opts.Scheduler = client
	}

	srv := server.New(opts)

	if cfg.Worker.Enabled {
		workerCfg := tasks.DefaultServerConfig(redis)
		workerCfg.Concurrency = cfg.Worker.Concurrency
		worker := tasks.NewServer(workerCfg)
		worker.Handle(tasks.TaskTypeExpireImpersonation, tasks.NewExpiryHandler(srv.Impersonation))
		worker.Handle(tasks.TaskTypeSweepImpersonation, tasks.NewSweepHandler(srv.Impersonation))
		if err := worker.Start(); err != nil {
			return err
		}
		defer worker.Shutdown()

		scheduler := tasks.NewScheduler(redis)
		if err := scheduler.Register(cfg.Worker.SweepSpec, tasks.TaskTypeSweepImpersonation); err != nil {
			return err
		}
		if err := scheduler.Start(); err != nil {
			return err
		}
		defer scheduler.Shutdown()
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("listen_addr", cfg.ListenAddr).
			Str("environment", cfg.Environment).
			Bool("worker", cfg.Worker.Enabled).
			Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("HTTP server stopped")
	return nil
}
