package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/lthms/hierprops/internal/api"
)

// ServeCmd serves the HTTP API until interrupted.
type ServeCmd struct {
	Addr string `help:"Listen address (overrides [server] addr)."`
}

func (cmd *ServeCmd) Run(app *App) error {
	addr := app.Config.Server.Addr
	if cmd.Addr != "" {
		addr = cmd.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              addr,
		Handler:           app.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("serving forest", "addr", addr, "forest", app.Engine.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// routes mounts the API next to a view of recent log lines.
func (app *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/debug/logs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, line := range app.Logs.Lines() {
			w.Write([]byte(line + "\n"))
		}
	})
	r.Mount("/", api.New(app.Engine, slog.Default()).Routes())
	return r
}
