package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"island/internal/domain"
	"island/internal/usecase"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

type buildResponse struct {
	Success         bool     `json:"success"`
	WorldID         string   `json:"world_id"`
	ManifoldVersion int      `json:"manifold_version"`
	NumChunks       int      `json:"num_chunks"`
	Dim             int      `json:"dim"`
	TAccept         float64  `json:"T_accept"`
	TReview         float64  `json:"T_review"`
	ModelID         string   `json:"model_id"`
	IndexKind       string   `json:"index_kind"`
	EmptySources    []string `json:"empty_sources,omitempty"`
	Message         string   `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidRequest:
		return http.StatusBadRequest
	case domain.KindCorpusNotFound, domain.KindWorldNotFound:
		return http.StatusNotFound
	case domain.KindEmptyCorpus:
		return http.StatusUnprocessableEntity
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	details := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err,
			"request_id", requestIDFrom(r.Context()))
	}
	writeJSON(w, status, errorBody{Error: string(kind), Details: details})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: body exceeds %d bytes", domain.ErrInvalidRequest, tooLarge.Limit)
		}
		return fmt.Errorf("%w: malformed JSON body: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service":     ServiceName,
		"version":     s.cfg.Version,
		"description": "Vector-first prose world coherence gating",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req usecase.BuildRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.cfg.Build.Build(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	m := res.Meta
	writeJSON(w, http.StatusOK, buildResponse{
		Success:         true,
		WorldID:         m.WorldID,
		ManifoldVersion: m.ManifoldVersion,
		NumChunks:       m.NumChunks,
		Dim:             m.Dim,
		TAccept:         m.TAccept,
		TReview:         m.TReview,
		ModelID:         m.ModelID,
		IndexKind:       m.IndexKind,
		EmptySources:    res.EmptySource,
		Message:         fmt.Sprintf("Island built successfully with %d chunks", m.NumChunks),
	})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req usecase.ScoreRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.cfg.Score.Score(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.cfg.Status.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleClearWorld(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	evicted, err := s.cfg.Score.ClearWorld(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Cache cleared for world '%s'", id),
		"evicted": evicted,
	})
}

func (s *Server) handleClearAll(w http.ResponseWriter, _ *http.Request) {
	n := s.cfg.Score.ClearAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Cache cleared",
		"evicted": n,
	})
}

func (s *Server) handleWorlds(w http.ResponseWriter, r *http.Request) {
	worlds, err := s.cfg.Status.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"worlds": worlds})
}
