package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/btouchard/tasklist/internal/task"
)

type statusUpdate struct {
	Status *string `json:"status"`
}

type deleteResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in task.CreateInput
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	t, err := s.board.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	tasks, err := s.board.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	t, err := s.board.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var body statusUpdate
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Status == nil {
		writeError(w, r, &task.ValidationError{Field: "status", Message: "is required"})
		return
	}
	status, err := task.ParseStatus(*body.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}

	t, err := s.board.SetStatus(r.Context(), id, status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.board.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Message: "Task deleted successfully"})
}

func taskID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, &task.ValidationError{Field: "id", Message: "must be an integer"}
	}
	return id, nil
}

// parseFilter reads status, search, skip and limit from the query string.
func parseFilter(r *http.Request) (task.Filter, error) {
	q := r.URL.Query()
	var f task.Filter

	if v := q.Get("status"); v != "" {
		status, err := task.ParseStatus(v)
		if err != nil {
			return task.Filter{}, err
		}
		f.Status = status
	}

	f.Search = q.Get("search")

	if v := q.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return task.Filter{}, &task.ValidationError{Field: "skip", Message: "must be an integer"}
		}
		f.Offset = n
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return task.Filter{}, &task.ValidationError{Field: "limit", Message: "must be an integer"}
		}
		if n < 1 {
			return task.Filter{}, &task.ValidationError{Field: "limit", Message: "must be at least 1"}
		}
		f.Limit = n
	}

	return f, nil
}
