package apis

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Remote Remote
	Events *Events
	Keys   KeyMap
	Auth   Auth
	Logger *zap.SugaredLogger
}

func NewRouter(cfg RouterConfig) (*mux.Router, error) {
	remote, err := NewRemoteHandler(cfg.Remote, cfg.Keys, cfg.Logger)
	if err != nil {
		return nil, err
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods("GET")

	protected := r.PathPrefix("/").Subrouter()
	protected.Use(cfg.Auth.Middleware)
	protected.Handle("/ws", remote).Methods("GET")
	protected.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(cfg.Remote.Snapshot()); err != nil {
			cfg.Logger.Debugf("state response failed: %v", err)
		}
	}).Methods("GET")
	if cfg.Events != nil {
		protected.Handle("/events", cfg.Events.Handler()).Methods("GET")
	}
	return r, nil
}

// Serve runs an HTTP server on listener until ctx is done.
func Serve(ctx context.Context, listener net.Listener, handler http.Handler, logger *zap.SugaredLogger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errC := make(chan error, 1)
	go func() {
		errC <- srv.Serve(listener)
	}()
	logger.Infof("listening on %s", listener.Addr())

	select {
	case err := <-errC:
		return errors.Wrap(err, "http server exited")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// event streams never finish on their own
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return srv.Close()
	}
	return nil
}
