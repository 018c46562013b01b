package remote

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// maxFileSize bounds one written document.
const maxFileSize = 4 << 20

// Handler serves the remote file API over a FileStore.
type Handler struct {
	store  FileStore
	token  string
	logger zerolog.Logger
	router chi.Router
}

// NewHandler creates a handler. An empty token disables authentication.
func NewHandler(store FileStore, token string, logger zerolog.Logger) *Handler {
	h := &Handler{
		store:  store,
		token:  token,
		logger: logger.With().Str("component", "remote").Logger(),
		router: chi.NewRouter(),
	}
	h.router.Use(middleware.Recoverer)
	h.router.Route("/api", func(r chi.Router) {
		r.Use(h.authenticate)
		r.Get("/file", h.handleRead)
		r.Post("/file", h.handleWrite)
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	content, found, err := h.store.Read(r.Context(), p)
	switch {
	case errors.Is(err, ErrBadPath):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error().Err(err).Str("path", p).Msg("read failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	case !found:
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, fileResponse{Path: p, Content: content})
}

func (h *Handler) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFileSize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	err := h.store.Write(r.Context(), req.Path, req.Content, req.Message)
	switch {
	case errors.Is(err, ErrBadPath):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error().Err(err).Str("path", req.Path).Msg("write failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Debug().Str("path", req.Path).Str("message", req.Message).Msg("file written")
	writeJSON(w, http.StatusOK, map[string]string{"path": req.Path})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
