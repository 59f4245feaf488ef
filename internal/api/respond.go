package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/btouchard/tasklist/internal/task"
)

var errBodyTooLarge = errors.New("request body too large")

type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		slog.Error("encoding response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"Internal server error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

// writeError maps service errors onto status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *task.ValidationError
	var se *task.StoreError
	switch {
	case errors.Is(err, errBodyTooLarge):
		writeDetail(w, http.StatusRequestEntityTooLarge, "Request body too large")
	case errors.As(err, &ve):
		writeDetail(w, http.StatusUnprocessableEntity, ve.Error())
	case errors.Is(err, task.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "Task not found")
	case errors.As(err, &se):
		slog.Error("store failure", "op", se.Op, "error", se.Err, "path", r.URL.Path)
		writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("Failed to %s", se.Op))
	default:
		slog.Error("unexpected error", "error", err, "path", r.URL.Path)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decodeBody reads a bounded JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return &task.ValidationError{Field: "body", Message: "could not be read"}
	}
	if len(data) == 0 {
		return &task.ValidationError{Field: "body", Message: "is required"}
	}
	if err := sonic.ConfigStd.Unmarshal(data, v); err != nil {
		return &task.ValidationError{Field: "body", Message: "must be a valid JSON object"}
	}
	return nil
}
