package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/reachrl/trainwatch/internal/episodelog"
	"github.com/reachrl/trainwatch/internal/progress"
	"github.com/reachrl/trainwatch/internal/publisher"
	"github.com/reachrl/trainwatch/internal/run"
	"github.com/reachrl/trainwatch/internal/store"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	maxArtifactSize = 512 << 20
)

type createRunRequest struct {
	Name        string          `json:"name"`
	EnvID       string          `json:"env_id"`
	Hyperparams run.Hyperparams `json:"hyperparams"`
}

type episodeRequest struct {
	Timestep int64   `json:"timestep"`
	Reward   float64 `json:"reward"`
	Length   int     `json:"length"`
	WallTime float64 `json:"wall_time"`
}

type heartbeatRequest struct {
	Timestep int64 `json:"timestep"`
}

type evaluationRequest struct {
	Episodes   int     `json:"episodes"`
	MeanReward float64 `json:"mean_reward"`
	StdReward  float64 `json:"std_reward"`
}

type failRequest struct {
	Error string `json:"error"`
}

// stepResponse is returned from episode and heartbeat ingestion. The monitor
// never stops training, so continue_training is true in every response; the
// field exists so trainers can honor a future stopping policy without a
// protocol change.
type stepResponse struct {
	ContinueTraining bool `json:"continue_training"`
	// SaveCheckpoint asks the trainer to persist its current model; set when
	// the best mean improved on this step and best-model saving is enabled.
	SaveCheckpoint bool `json:"save_checkpoint,omitempty"`
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.EnvID) == "" {
		writeError(s.logger, w, http.StatusBadRequest, "env_id is required")
		return
	}
	runID, err := s.idGen.NewID()
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "generate run id")
		return
	}
	// Runs registered without hyperparameters inherit the configured trainer
	// defaults so the stored record reflects what the trainer will actually use.
	if req.Hyperparams == (run.Hyperparams{}) {
		req.Hyperparams = s.cfg.Trainer
	}
	rec := run.Run{
		ID:          runID,
		Name:        req.Name,
		EnvID:       req.EnvID,
		Status:      run.StatusPending,
		Submitted:   s.clock.Now(),
		Hyperparams: req.Hyperparams,
	}
	if err := s.repo.CreateRun(r.Context(), rec); err != nil {
		s.logger.Error("create run failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to create run")
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	var status *run.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, parseErr := parseStatus(raw)
		if parseErr != nil {
			writeError(s.logger, w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &parsed
	}
	runs, err := s.repo.ListRuns(r.Context(), status, limit, offset)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []run.Run{}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"run": rec})
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"run_id":   rec.ID,
		"status":   rec.Status,
		"progress": rec.Progress,
	})
}

func (s *Server) appendEpisode(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	var req episodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Timestep <= 0 {
		writeError(s.logger, w, http.StatusBadRequest, "timestep must be > 0")
		return
	}
	if req.Length < 0 {
		writeError(s.logger, w, http.StatusBadRequest, "length must be >= 0")
		return
	}
	entry := episodelog.Entry{
		Timestep: req.Timestep,
		Reward:   req.Reward,
		Length:   req.Length,
		WallTime: req.WallTime,
	}
	if err := s.repo.AppendEpisode(r.Context(), rec.ID, entry); err != nil {
		s.logger.Error("append episode failed", zap.String("run_id", rec.ID), zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to append episode")
		return
	}
	s.markRunning(r.Context(), rec)
	s.emit(progress.Event{
		RunID:    rec.ID,
		TS:       s.clock.Now(),
		Stage:    progress.StageEpisode,
		EnvID:    rec.EnvID,
		Timestep: req.Timestep,
		Reward:   req.Reward,
	})
	writeJSON(s.logger, w, http.StatusAccepted, s.step(r.Context(), rec.ID, req.Timestep))
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Timestep <= 0 {
		writeError(s.logger, w, http.StatusBadRequest, "timestep must be > 0")
		return
	}
	s.markRunning(r.Context(), rec)
	s.emit(progress.Event{
		RunID:    rec.ID,
		TS:       s.clock.Now(),
		Stage:    progress.StageRunHB,
		EnvID:    rec.EnvID,
		Timestep: req.Timestep,
	})
	writeJSON(s.logger, w, http.StatusOK, s.step(r.Context(), rec.ID, req.Timestep))
}

func (s *Server) recordEvaluation(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	var req evaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Episodes <= 0 {
		writeError(s.logger, w, http.StatusBadRequest, "episodes must be > 0")
		return
	}
	now := s.clock.Now()
	ev := run.Evaluation{
		RunID:      rec.ID,
		Episodes:   req.Episodes,
		MeanReward: req.MeanReward,
		StdReward:  req.StdReward,
		At:         now,
	}
	if err := s.repo.RecordEvaluation(r.Context(), ev); err != nil {
		s.logger.Error("record evaluation failed", zap.String("run_id", rec.ID), zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to record evaluation")
		return
	}
	s.emit(progress.Event{
		RunID:      rec.ID,
		TS:         now,
		Stage:      progress.StageEvalDone,
		EnvID:      rec.EnvID,
		Episodes:   int64(req.Episodes),
		MeanReward: req.MeanReward,
	})
	s.notify(r.Context(), publisher.Notification{
		RunID:      rec.ID,
		Kind:       publisher.KindEvalDone,
		Episodes:   int64(req.Episodes),
		MeanReward: req.MeanReward,
		At:         now,
	})
	writeJSON(s.logger, w, http.StatusCreated, map[string]any{"evaluation": ev})
}

func (s *Server) uploadArtifact(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	kind, err := parseArtifactKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	filename := sanitizeFilename(r.URL.Query().Get("filename"))
	if filename == "" {
		filename = defaultArtifactName(kind)
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	objectPath := fmt.Sprintf("%s/%s/%s/%s", s.cfg.Storage.Prefix, rec.ID, kind, filename)
	body := http.MaxBytesReader(w, r.Body, maxArtifactSize)
	uri, err := s.blobs.PutObject(r.Context(), objectPath, contentType, body)
	if err != nil {
		s.logger.Error("artifact upload failed", zap.String("run_id", rec.ID), zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to store artifact")
		return
	}
	art := run.Artifact{
		RunID: rec.ID,
		Kind:  kind,
		URI:   uri,
		Bytes: r.ContentLength,
		At:    s.clock.Now(),
	}
	if err := s.repo.RecordArtifact(r.Context(), art); err != nil {
		s.logger.Error("record artifact failed", zap.String("run_id", rec.ID), zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to record artifact")
		return
	}
	writeJSON(s.logger, w, http.StatusCreated, map[string]any{"artifact": art})
}

func (s *Server) completeRun(w http.ResponseWriter, r *http.Request) {
	s.finishRun(w, r, run.StatusSucceeded, "")
}

func (s *Server) failRun(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.finishRun(w, r, run.StatusFailed, req.Error)
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	s.finishRun(w, r, run.StatusCanceled, "canceled via API")
}

func (s *Server) finishRun(w http.ResponseWriter, r *http.Request, status run.Status, errText string) {
	rec, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	now := s.clock.Now()
	if err := s.repo.UpdateRunStatus(r.Context(), rec.ID, status, errText, now); err != nil {
		s.logger.Error("update run status failed", zap.String("run_id", rec.ID), zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to update run")
		return
	}
	s.trackers.Remove(rec.ID)

	evt := progress.Event{RunID: rec.ID, TS: now, EnvID: rec.EnvID, Note: errText}
	if rec.Started != nil {
		evt.Dur = now.Sub(*rec.Started)
	}
	n := publisher.Notification{RunID: rec.ID, At: now}
	switch status {
	case run.StatusSucceeded:
		evt.Stage = progress.StageRunDone
		n.Kind = publisher.KindRunDone
	case run.StatusFailed, run.StatusCanceled:
		evt.Stage = progress.StageRunError
		n.Kind = publisher.KindRunError
		n.Error = errText
	}
	s.emit(evt)
	s.notify(r.Context(), n)
	writeJSON(s.logger, w, http.StatusOK, map[string]string{
		"run_id": rec.ID,
		"status": string(status),
	})
}

// step drives the run's monitor with the reported step counter. Episode ends
// rarely land on an exact check boundary, so the tracker walks every boundary
// crossed since the run's previous report.
func (s *Server) step(ctx context.Context, runID string, timestep int64) stepResponse {
	tr := s.trackers.Get(runID)
	prevBest := tr.BestMeanReward()
	cont := tr.Advance(ctx, timestep)
	resp := stepResponse{ContinueTraining: cont}
	if s.cfg.Monitor.SaveBest && tr.BestMeanReward() > prevBest {
		resp.SaveCheckpoint = true
	}
	return resp
}

// loadRun resolves {run_id} and fetches the run, writing the error response
// itself when either step fails.
func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (run.Run, bool) {
	runID := strings.TrimSpace(chi.URLParam(r, "run_id"))
	if runID == "" {
		writeError(s.logger, w, http.StatusBadRequest, "run_id is required")
		return run.Run{}, false
	}
	rec, err := s.repo.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(s.logger, w, http.StatusNotFound, "run not found")
			return run.Run{}, false
		}
		s.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to load run")
		return run.Run{}, false
	}
	return rec, true
}

// markRunning transitions a pending run to running on its first signal from
// the trainer.
func (s *Server) markRunning(ctx context.Context, rec run.Run) {
	if rec.Status != run.StatusPending {
		return
	}
	now := s.clock.Now()
	if err := s.repo.UpdateRunStatus(ctx, rec.ID, run.StatusRunning, "", now); err != nil {
		s.logger.Warn("mark run running failed", zap.String("run_id", rec.ID), zap.Error(err))
		return
	}
	s.emit(progress.Event{
		RunID: rec.ID,
		TS:    now,
		Stage: progress.StageRunStart,
		EnvID: rec.EnvID,
	})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (run.Status, error) {
	switch strings.ToLower(input) {
	case "pending":
		return run.StatusPending, nil
	case "running":
		return run.StatusRunning, nil
	case "succeeded", "success":
		return run.StatusSucceeded, nil
	case "failed", "error", "failure":
		return run.StatusFailed, nil
	case "canceled", "cancelled":
		return run.StatusCanceled, nil
	default:
		return "", errors.New("invalid status")
	}
}

func parseArtifactKind(input string) (run.ArtifactKind, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "checkpoint":
		return run.ArtifactCheckpoint, nil
	case "video":
		return run.ArtifactVideo, nil
	default:
		return "", errors.New("kind must be checkpoint or video")
	}
}

// sanitizeFilename strips any directory components from a caller-supplied
// name so object paths cannot escape the run's prefix.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

func defaultArtifactName(kind run.ArtifactKind) string {
	if kind == run.ArtifactVideo {
		return "rollout.mp4"
	}
	return "model.zip"
}
