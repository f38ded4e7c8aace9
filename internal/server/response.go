package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"gold-bot/internal/xerrors"
	"gold-bot/pkg/logger"
)

const maxBodyBytes = 1 << 20

type APIResponse struct {
	Status  string `json:"status"`
	Kind    string `json:"kind,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Status: "success", Data: data})
}

// Error writes the public part of err. The cause is logged, never sent.
func Error(w http.ResponseWriter, r *http.Request, l *logger.Logger, err error) {
	kind := xerrors.KindOf(err)
	status := xerrors.HTTPStatus(kind)
	code, message := xerrors.Public(err)

	if status >= http.StatusInternalServerError {
		l.Errorw("Request failed", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	} else {
		l.Infow("Request rejected", "method", r.Method, "path", r.URL.Path, "kind", kind, "code", code)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{
		Status:  "error",
		Kind:    string(kind),
		Code:    code,
		Message: message,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return xerrors.ErrInvalidRequest.WithMessage("request body is empty")
		}
		return xerrors.ErrInvalidRequest.Wrap(err)
	}
	return nil
}
