package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// successEnvelope wraps every 2xx JSON response.
type successEnvelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// errorBody is the error half of the envelope.
type errorBody struct {
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func (s *Server) writeSuccess(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	env := successEnvelope{Success: true, Data: data, Timestamp: s.clock.Now()}
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

// writeError emits the uniform error envelope. An empty code defaults to
// HTTP_<status>.
func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	if code == "" {
		code = fmt.Sprintf("HTTP_%d", status)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	env := errorEnvelope{
		Success: false,
		Error: errorBody{
			Message:   message,
			Code:      code,
			Timestamp: s.clock.Now(),
		},
	}
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}
