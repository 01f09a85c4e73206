package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/matthewbaird/rentroll/internal/sweep"
)

// SweepRunner runs one billing sweep.
type SweepRunner interface {
	Run(ctx context.Context) (*sweep.Summary, error)
}

// SweepHandler triggers on-demand sweeps.
type SweepHandler struct {
	runner SweepRunner
	log    zerolog.Logger
}

func NewSweepHandler(runner SweepRunner, log zerolog.Logger) *SweepHandler {
	return &SweepHandler{runner: runner, log: log}
}

// RunSweep runs the sweep synchronously and returns its summary. A run
// that finished with stage or item errors still answers 200; the summary
// carries the failures.
// POST /v1/sweeps
func (h *SweepHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	sum, err := h.runner.Run(r.Context())
	if errors.Is(err, sweep.ErrSweepInProgress) {
		writeError(w, http.StatusConflict, "SWEEP_IN_PROGRESS", err.Error())
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("sweep failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
