package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/michaelbrown/pyrunner/internal/runner"
)

const executionIDHeader = "X-Execution-ID"

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Descriptor handlers ---

type capabilities struct {
	MaxTimeout  int      `json:"max_timeout"`
	MaxMemoryMB int      `json:"max_memory_mb"`
	Libraries   []string `json:"libraries"`
}

type descriptor struct {
	Service      string       `json:"service"`
	Status       string       `json:"status"`
	Version      string       `json:"version"`
	Capabilities capabilities `json:"capabilities"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	bounds := s.runner.Bounds()
	libs := s.info.Libraries
	if libs == nil {
		libs = []string{}
	}
	writeJSON(w, http.StatusOK, descriptor{
		Service: "PyRunner",
		Status:  "healthy",
		Version: s.info.Version,
		Capabilities: capabilities{
			MaxTimeout:  bounds.MaxTimeout,
			MaxMemoryMB: bounds.MaxMemoryMB,
			Libraries:   libs,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// --- Run handler ---

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}

	req, err := runner.DecodeRequest(bytes.NewReader(body))
	if err != nil {
		s.writeRequestError(w, err)
		return
	}

	res, err := s.runner.Handle(r.Context(), req)
	if err != nil {
		s.writeRequestError(w, err)
		return
	}

	w.Header().Set(executionIDHeader, res.ID)
	writeJSON(w, http.StatusOK, res.Response)
}

// writeRequestError answers 422 with the field details, or 500 for
// anything that is not a *runner.ValidationError.
func (s *Server) writeRequestError(w http.ResponseWriter, err error) {
	var verr *runner.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, verr)
		return
	}
	s.logger.Error("unexpected request error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}
