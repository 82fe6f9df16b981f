package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/ethereum-optimism/infra/ut-runner/metrics"
	"github.com/ethereum-optimism/infra/ut-runner/runner"
)

const (
	wsWriteTimeout = 10 * time.Second
	maxRequestBody = 1 << 20
)

// Runs is what the observer API needs from a session of runs
type Runs interface {
	Start(req runner.Request) (*runner.Controller, error)
	RerunRecord(runID string, recordID string, coverage bool) (*runner.Controller, error)
	Get(runID string) (*runner.Controller, bool)
	Lookup(runID string) (runner.Snapshot, bool)
	Runs() []runner.Snapshot
}

// APIServer lets observers list runs, follow live snapshots over a websocket,
// start and cancel runs and rerun single tests.
type APIServer struct {
	runs     Runs
	log      log.Logger
	upgrader websocket.Upgrader
	server   *http.Server
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewAPIServer(runs Runs, lgr log.Logger) *APIServer {
	return &APIServer{
		runs: runs,
		log:  lgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (a *APIServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/runs", a.handleList).Methods(http.MethodGet)
	r.HandleFunc("/runs", a.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}", a.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/ws", a.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/cancel", a.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}/records/{record}", a.handleRecord).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/records/{record}/rerun", a.handleRerun).Methods(http.MethodPost)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	})
	return c.Handler(r)
}

func (a *APIServer) Start(addr string) error {
	a.server = &http.Server{
		Handler: a.Handler(),
		Addr:    addr,
	}
	a.log.Info("starting observer api", "addr", addr)
	return a.server.ListenAndServe()
}

func (a *APIServer) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

func (a *APIServer) handleList(w http.ResponseWriter, r *http.Request) {
	snaps := a.runs.Runs()
	// the list only carries progress, records are served per run
	for i := range snaps {
		snaps[i].Records = nil
	}
	a.writeJSON(w, http.StatusOK, snaps)
}

func (a *APIServer) handleStart(w http.ResponseWriter, r *http.Request) {
	var req runner.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding run request: %w", err))
		return
	}
	ctrl, err := a.runs.Start(req)
	a.writeStarted(w, ctrl, err)
}

func (a *APIServer) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, ok := a.runs.Lookup(id)
	if !ok {
		a.writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", runner.ErrRunNotFound, id))
		return
	}
	a.writeJSON(w, http.StatusOK, snap)
}

func (a *APIServer) handleRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	snap, ok := a.runs.Lookup(vars["id"])
	if !ok {
		a.writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", runner.ErrRunNotFound, vars["id"]))
		return
	}
	rec, ok := snap.Record(vars["record"])
	if !ok {
		a.writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", runner.ErrRecordNotFound, vars["record"]))
		return
	}
	a.writeJSON(w, http.StatusOK, rec)
}

func (a *APIServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctrl, ok := a.runs.Get(id)
	if !ok {
		if _, known := a.runs.Lookup(id); known {
			a.writeError(w, http.StatusConflict, fmt.Errorf("run %s already ended", id))
			return
		}
		a.writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", runner.ErrRunNotFound, id))
		return
	}
	a.log.Info("Cancelling run on request", "run", id)
	ctrl.Cancel()
	a.writeJSON(w, http.StatusAccepted, ctrl.Snapshot())
}

func (a *APIServer) handleRerun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	coverage := false
	if v := r.URL.Query().Get("coverage"); v != "" {
		var err error
		if coverage, err = strconv.ParseBool(v); err != nil {
			a.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid coverage parameter: %w", err))
			return
		}
	}
	ctrl, err := a.runs.RerunRecord(vars["id"], vars["record"], coverage)
	a.writeStarted(w, ctrl, err)
}

// handleWS streams snapshots of a run until it is ready or the client goes away.
// Slow clients skip intermediate snapshots but always receive the last one.
func (a *APIServer) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctrl, active := a.runs.Get(id)
	var final runner.Snapshot
	if !active {
		snap, ok := a.runs.Lookup(id)
		if !ok {
			a.writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", runner.ErrRunNotFound, id))
			return
		}
		final = snap
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn("Websocket upgrade failed", "run", id, "err", err)
		metrics.RecordErrorDetails("observer_ws_upgrade", err)
		return
	}
	defer conn.Close()

	if !active {
		if err := a.writeSnapshot(conn, final); err == nil {
			a.closeNormally(conn)
		}
		return
	}

	sub := ctrl.Subscribe()
	defer sub.Close()

	// the read loop only notices the client closing
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snap, ok := <-sub.C():
			if !ok {
				a.closeNormally(conn)
				return
			}
			if err := a.writeSnapshot(conn, snap); err != nil {
				a.log.Debug("Observer went away", "run", id, "err", err)
				return
			}
		case <-gone:
			return
		}
	}
}

func (a *APIServer) writeSnapshot(conn *websocket.Conn, snap runner.Snapshot) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(snap)
}

func (a *APIServer) closeNormally(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run ready")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
}

func (a *APIServer) writeStarted(w http.ResponseWriter, ctrl *runner.Controller, err error) {
	switch {
	case err == nil:
		a.writeJSON(w, http.StatusAccepted, ctrl.Snapshot())
	case errors.Is(err, runner.ErrEngineUnavailable) && ctrl != nil:
		a.writeJSON(w, http.StatusServiceUnavailable, ctrl.Snapshot())
	case errors.Is(err, runner.ErrRunNotFound), errors.Is(err, runner.ErrRecordNotFound):
		a.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, runner.ErrSessionClosed):
		a.writeError(w, http.StatusServiceUnavailable, err)
	default:
		a.writeError(w, http.StatusBadRequest, err)
	}
}

func (a *APIServer) writeError(w http.ResponseWriter, status int, err error) {
	a.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (a *APIServer) writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		a.log.Error("failed to marshal observer response", "error", err)
		status = http.StatusInternalServerError
		data = []byte(`{"error":"internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		a.log.Error("failed to send observer response", "error", err)
	}
}
