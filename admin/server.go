// Package admin is the local HTTP endpoint operators use to inspect the daemon and trigger runs.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/Netflix/devdiag/logger"
	"github.com/Netflix/devdiag/runner"
	"github.com/Netflix/devdiag/settings"
	"github.com/Netflix/metrics-client-go/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// HoldingArea is the part of the MAR holding area the endpoint exposes
type HoldingArea interface {
	Pending() int
	Flush(ctx context.Context) error
}

// Server routes admin requests. Flushes and task runs happen in the server's context, so that
// work they start is not cancelled when the request ends. At most one run of a given task at a
// time.
type Server struct {
	router      *mux.Router
	ctx         context.Context
	m           metrics.Reporter
	settings    settings.Provider
	holdingArea HoldingArea

	mu      sync.Mutex
	tasks   map[string]runner.Task
	running map[string]bool
}

// NewServer builds the router. holdingArea may be nil when MAR uploads are not set up.
func NewServer(ctx context.Context, m metrics.Reporter, s settings.Provider, holdingArea HoldingArea, tasks ...runner.Task) *Server {
	srv := &Server{
		ctx:         ctx,
		m:           m,
		settings:    s,
		holdingArea: holdingArea,
		tasks:       make(map[string]runner.Task, len(tasks)),
		running:     make(map[string]bool, len(tasks)),
	}
	for _, t := range tasks {
		srv.tasks[t.Name()] = t
	}

	srv.router = mux.NewRouter()
	srv.router.HandleFunc("/healthz", srv.healthz).Methods("GET")
	srv.router.HandleFunc("/api/v1/settings", srv.getSettings).Methods("GET")
	srv.router.HandleFunc("/api/v1/holding", srv.getHolding).Methods("GET")
	srv.router.HandleFunc("/api/v1/holding/flush", srv.flushHolding).Methods("POST")
	srv.router.HandleFunc("/api/v1/tasks/{name}/run", srv.runTask).Methods("POST")

	return srv
}

func (srv *Server) ServeHTTP(resp http.ResponseWriter, req *http.Request) {
	id := uuid.New()
	log := logger.G(srv.ctx).WithField("id", id).WithField("url", req.URL)
	log.WithField("method", req.Method).Debug("Starting")
	srv.router.ServeHTTP(resp, req.WithContext(logger.WithLogger(req.Context(), log)))
	log.Debug("Stopping")
}

func (srv *Server) healthz(resp http.ResponseWriter, req *http.Request) {
	resp.WriteHeader(http.StatusOK)
	_, _ = resp.Write([]byte("ok"))
}

func (srv *Server) getSettings(resp http.ResponseWriter, req *http.Request) {
	writeJSON(resp, http.StatusOK, srv.settings.Get())
}

func (srv *Server) getHolding(resp http.ResponseWriter, req *http.Request) {
	if srv.holdingArea == nil {
		resp.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(resp, http.StatusOK, map[string]int{"pending": srv.holdingArea.Pending()})
}

func (srv *Server) flushHolding(resp http.ResponseWriter, req *http.Request) {
	if srv.holdingArea == nil {
		resp.WriteHeader(http.StatusNotFound)
		return
	}
	if err := srv.holdingArea.Flush(srv.requestContext(req)); err != nil {
		http.Error(resp, err.Error(), http.StatusInternalServerError)
		return
	}
	resp.WriteHeader(http.StatusAccepted)
}

func (srv *Server) runTask(resp http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	srv.mu.Lock()
	task, ok := srv.tasks[name]
	busy := srv.running[name]
	if ok && !busy {
		srv.running[name] = true
	}
	srv.mu.Unlock()

	if !ok {
		resp.WriteHeader(http.StatusNotFound)
		return
	}
	if busy {
		resp.WriteHeader(http.StatusConflict)
		return
	}
	defer func() {
		srv.mu.Lock()
		delete(srv.running, name)
		srv.mu.Unlock()
	}()

	result := runner.Run(srv.requestContext(req), srv.m, task)
	status := http.StatusOK
	if result == runner.Failure {
		status = http.StatusInternalServerError
	}
	writeJSON(resp, status, map[string]string{"task": name, "result": result.String()})
}

// requestContext carries the request's logger into the server's lifetime
func (srv *Server) requestContext(req *http.Request) context.Context {
	return logger.WithLogger(srv.ctx, logger.G(req.Context()))
}

func writeJSON(resp http.ResponseWriter, status int, v interface{}) {
	resp.Header().Set("Content-Type", "application/json")
	resp.WriteHeader(status)
	_ = json.NewEncoder(resp).Encode(v)
}
