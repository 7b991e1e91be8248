package bubbleads

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router builds the operator web UI: run status, latest trends, and stage
// triggers. JSON only.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/trends", s.handleTrends)
	r.Post("/api/run/{stage}", s.handleRunStage)
	return r
}

// Serve runs the web UI until the context is canceled.
func (s *Service) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: s.config.Listen, Handler: s.Router()}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("web UI listening", "addr", s.config.Listen)

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.LatestTrendRun(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	stacks := make(map[string]string, len(s.config.Domains))
	for _, dom := range s.config.Domains {
		stacks[dom] = s.detector.Stack(dom)
	}
	status := map[string]any{"busy": s.Busy(), "run": run, "stacks": stacks}
	if run != nil {
		summary, err := s.store.PublishSummaryFor(r.Context(), run.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		status["summary"] = summary
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Service) handleTrends(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.LatestTrendRun(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, ErrNoRun)
		return
	}
	tags, err := s.store.TrendTags(r.Context(), run.ID, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": run.ID, "tags": tags})
}

// handleRunStage launches a stage in the background; the caller polls
// /api/status for completion. A stage already in flight answers 409.
func (s *Service) handleRunStage(w http.ResponseWriter, r *http.Request) {
	stage := chi.URLParam(r, "stage")
	switch stage {
	case StageTrends, StageUploads, StageAds, StageRun:
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown stage "+stage))
		return
	}
	if s.Busy() {
		writeError(w, http.StatusConflict, ErrStageBusy)
		return
	}

	go func() {
		if err := s.RunStage(context.Background(), stage); err != nil {
			s.logger.Error("stage failed", "stage", stage, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"stage": stage, "started": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
