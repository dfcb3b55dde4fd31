package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/soilsense/internal/cli"
	"github.com/hyperjump/soilsense/internal/config"
	"github.com/hyperjump/soilsense/internal/inference"
	"github.com/hyperjump/soilsense/internal/models"
	"github.com/hyperjump/soilsense/internal/registry"
	"github.com/hyperjump/soilsense/internal/spectral"
	"github.com/hyperjump/soilsense/internal/storage"
	"go.uber.org/zap"
)

// statusFor maps an inference error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, inference.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, spectral.ErrNumericDomain):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) decimalPlaces() int {
	return s.config.Output.DecimalPlacesOrDefault()
}

// predict runs one reading and stores it when history is enabled. A storage failure
// is logged and leaves the reading ID empty; it never fails the prediction.
func (s *Server) predict(ctx context.Context, req *models.InferenceRequest) (*models.InferenceResponse, error) {
	batch, err := s.engine.Predict(ctx, s.registry, req.Reflectance)
	if err != nil {
		return nil, err
	}
	resp := &models.InferenceResponse{PredictionBatch: cli.RoundBatch(batch, s.decimalPlaces())}
	if s.history != nil {
		reading := models.NewReading("", req, batch)
		if err := s.history.SaveReading(ctx, reading); err != nil {
			s.logger.Warn("save reading failed", zap.Error(err))
		} else {
			resp.ReadingID = reading.ID
		}
	}
	return resp, nil
}

func (s *Server) handleInference(w http.ResponseWriter, r *http.Request) {
	var req models.InferenceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("inference request", zap.Int("values", len(req.Reflectance)), zap.String("source", req.Source))
	resp, err := s.predict(r.Context(), &req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("inference failed", zap.Error(err))
		}
		s.respondError(w, status, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleProcessData serves the legacy envelope: HTTP 200 with isSucceed=false on
// any inference error.
func (s *Server) handleProcessData(w http.ResponseWriter, r *http.Request) {
	var req models.InferenceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, models.LegacyOutput{ErrorMessage: "invalid request body"})
		return
	}
	out := models.LegacyOutput{Data: []models.PredictionResult{}}
	if err := req.Validate(); err != nil {
		out.ErrorMessage = err.Error()
		s.respondJSON(w, http.StatusOK, out)
		return
	}
	resp, err := s.predict(r.Context(), &req)
	if err != nil {
		out.ErrorMessage = err.Error()
		s.respondJSON(w, http.StatusOK, out)
		return
	}
	out.IsSucceed = true
	out.Data = resp.Results
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"directory": s.registry.Dir(),
		"models":    s.registry.Info(),
	})
}

func (s *Server) handleReloadModels(w http.ResponseWriter, r *http.Request) {
	summary, err := s.registry.Reload(r.Context())
	if err != nil {
		s.logger.Error("model reload failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, http.StatusNotImplemented, "history not enabled")
		return
	}
	q := models.HistoryQuery{
		Offset: queryInt(r, "offset"),
		Limit:  queryInt(r, "limit"),
	}
	q.Normalize()
	readings, err := s.history.ListReadings(r.Context(), q)
	if err != nil {
		s.logger.Error("list readings failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.history.CountReadings(r.Context())
	if err != nil {
		s.logger.Error("count readings failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if readings == nil {
		readings = []*models.Reading{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"readings": readings,
		"total":    total,
		"offset":   q.Offset,
		"limit":    q.Limit,
	})
}

func (s *Server) handleGetReading(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, http.StatusNotImplemented, "history not enabled")
		return
	}
	reading, err := s.history.GetReading(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "reading not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, reading)
}

func (s *Server) handleDeleteReading(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, http.StatusNotImplemented, "history not enabled")
		return
	}
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete reading request", zap.String("id", id))
	err := s.history.DeleteReading(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "reading not found")
		return
	}
	if err != nil {
		s.logger.Error("deletion failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := BuildStatus(r.Context(), s.registry, s.history, s.config)
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

// BuildStatus reports model and history state. history may be nil.
func BuildStatus(ctx context.Context, reg *registry.Registry, history storage.Storage, cfg *config.Config) (*models.StatusResponse, error) {
	infos := reg.Info()
	status := &models.StatusResponse{Models: len(infos)}
	for _, m := range infos {
		if m.Loaded {
			status.LoadedModels++
		}
	}
	paths := []string{reg.Dir()}
	if history != nil {
		n, err := history.CountReadings(ctx)
		if err != nil {
			return nil, err
		}
		status.Readings = &n
		if sqlStore, ok := history.(*storage.SQLStorage); ok {
			paths = append(paths, sqlStore.Path())
		}
	}
	if diskBytes, err := storage.DiskUsageBytes(paths...); err == nil {
		status.DiskUsageBytes = &diskBytes
	}
	if cfg != nil {
		status.Config = &models.StatusConfig{
			ModelsDirectory: cfg.Models.Directory,
			WatchModels:     cfg.Models.Watch,
			LegacyWindowing: cfg.Preprocess.LegacyWindowing,
			EvalTimeout:     cfg.Inference.EvalTimeout.String(),
			MaxParallel:     cfg.Inference.MaxParallel,
			HistoryEnabled:  history != nil,
		}
		if history != nil {
			status.Config.HistoryDriver = cfg.History.Driver
		}
	}
	return status, nil
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
