package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orthanc/postcleaner/cleaner"
	"github.com/orthanc/postcleaner/guard"
)

type PostCleaner interface {
	Clean(ctx context.Context, input string, actor cleaner.Actor) cleaner.Outcome
}

type ActorSource interface {
	Actor() cleaner.Actor
}

type Server struct {
	cleaner PostCleaner
	actors  ActorSource
	busy    *guard.Busy
	metrics *Metrics
	logger  *log.Logger
	newID   func() string
}

func NewServer(postCleaner PostCleaner, actors ActorSource, busy *guard.Busy, metrics *Metrics, logger *log.Logger, newID func() string) *Server {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Server{
		cleaner: postCleaner,
		actors:  actors,
		busy:    busy,
		metrics: metrics,
		logger:  logger,
		newID:   newID,
	}
}

func (server *Server) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/", server.indexPage)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	router.Get("/api/session", server.getSession)
	router.Post("/api/clean", server.clean)
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(server.metrics.Registry, promhttp.HandlerOpts{}))
	return router
}

// StartServer serves handler on address until ctx is done.
func StartServer(ctx context.Context, address string, handler http.Handler, logger *log.Logger) error {
	httpServer := &http.Server{
		Addr:              address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		logger.Info("starting server", "address", address)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	logger.Info("closing server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

type sessionResponse struct {
	Handle string `json:"handle,omitempty"`
	DID    string `json:"did"`
}

func (server *Server) getSession(w http.ResponseWriter, r *http.Request) {
	actor := server.actors.Actor()
	if actor.DID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "signed out"})
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Handle: actor.Handle, DID: actor.DID})
}
