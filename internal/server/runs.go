package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"dailybugs-backend/internal/pipeline"
	"dailybugs-backend/internal/types"
)

// POST /api/runs { testRun? }
// Starts a run for the signed-in user in the background and returns its id.
// A user has at most one manual run in flight.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		s.writeError(w, http.StatusServiceUnavailable, "runs are not configured")
		return
	}
	var req types.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	params := pipeline.Params{
		RunID:   "manual-" + uuid.NewString(),
		UserID:  userID(r),
		TestRun: req.TestRun,
		Now:     time.Now().UTC(),
	}
	if !s.claimRun(params.UserID) {
		s.writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	lg := s.log.With("run_id", params.RunID).With("user_id", params.UserID)

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer s.releaseRun(params.UserID)
		ctx, cancel := context.WithTimeout(s.baseCtx, s.runTimeout)
		defer cancel()
		res, err := s.runner.Run(ctx, params)
		if errors.Is(err, pipeline.ErrRunInProgress) {
			lg.Warn("manual run skipped: the scheduled run is still going")
			return
		}
		if err != nil {
			lg.Error("manual run failed", err)
			return
		}
		lg.Infof("manual run finished: %d findings, delivered=%t", res.Findings, res.Delivered)
	}()

	s.writeJSON(w, http.StatusAccepted, types.RunResponse{RunID: params.RunID})
}

func (s *Server) claimRun(uid string) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if _, busy := s.active[uid]; busy {
		return false
	}
	s.active[uid] = struct{}{}
	return true
}

func (s *Server) releaseRun(uid string) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	delete(s.active, uid)
}
