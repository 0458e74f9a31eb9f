package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/agentgate/agentgate/internal/fsview"
)

func (s *Server) handleFilesystemList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path := q.Get("path")
	if path == "" {
		writeValidation(w, "missing_param", "path is required")
		return
	}
	if !filepath.IsAbs(path) {
		writeValidation(w, "invalid_path", "path must be absolute")
		return
	}
	recursive, _ := strconv.ParseBool(q.Get("recursive"))
	respectGitignore, _ := strconv.ParseBool(q.Get("respectGitignore"))

	entries, err := fsview.List(path, recursive, respectGitignore)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "path not found")
			return
		}
		writeValidation(w, "invalid_path", err.Error())
		return
	}
	if entries == nil {
		entries = []fsview.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":    path,
		"entries": entries,
	})
}

func (s *Server) handleFilesystemRead(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeValidation(w, "missing_param", "path is required")
		return
	}
	if !filepath.IsAbs(path) {
		writeValidation(w, "invalid_path", "path must be absolute")
		return
	}

	data, err := fsview.Read(path)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			writeError(w, http.StatusNotFound, "file not found")
		case errors.Is(err, fsview.ErrTooLarge):
			writeValidation(w, "too_large", err.Error())
		default:
			writeValidation(w, "invalid_path", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":    path,
		"content": string(data),
		"size":    len(data),
	})
}
