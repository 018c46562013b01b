package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/michaelbrown/algoprep/internal/practice"
	"github.com/michaelbrown/algoprep/internal/storage"
	"github.com/michaelbrown/algoprep/internal/task"
	"github.com/michaelbrown/algoprep/internal/verdict"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Task handlers ---

type statusResponse struct {
	Engine   string `json:"engine"`
	Remote   bool   `json:"remote"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Engine:   s.cfg.Engine.Mode,
		Remote:   s.cfg.Remote.Enabled(),
		Sessions: s.sessions.Len(),
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.catalog.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tasks == nil {
		tasks = []task.Summary{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// loadTask resolves the {slug} parameter, writing the error response itself.
func (s *Server) loadTask(w http.ResponseWriter, r *http.Request) (*task.Descriptor, bool) {
	desc, err := s.catalog.Get(chi.URLParam(r, "slug"))
	switch {
	case errors.Is(err, task.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
		return nil, false
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return desc, true
}

// session resolves the {slug} parameter to an open session.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*practice.Session, bool) {
	desc, ok := s.loadTask(w, r)
	if !ok {
		return nil, false
	}
	sess, err := s.sessions.GetOrCreate(r.Context(), desc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "opening session: "+err.Error())
		return nil, false
	}
	return sess, true
}

type taskResponse struct {
	*task.Descriptor
	Stub string `json:"stub"`
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	desc, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Descriptor: desc, Stub: desc.Signature.Def()})
}

type stateResponse struct {
	practice.Snapshot
	Visible []string `json:"visible"`
}

func newStateResponse(sess *practice.Session) stateResponse {
	resp := stateResponse{Snapshot: sess.Snapshot(), Visible: []string{}}
	for _, t := range sess.Visible() {
		resp.Visible = append(resp.Visible, t.ID)
	}
	return resp
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newStateResponse(sess))
}

// --- Edit handlers ---

type codeRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleSetCode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	sess.SetCode(req.Code)
	w.WriteHeader(http.StatusNoContent)
}

type testRequest struct {
	Case *task.TestCase `json:"case"`
}

func (s *Server) handleAddTest(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req testRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}
	id := sess.AddTest(req.Case)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleUpdateTest(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req testRequest
	if err := decodeJSON(r, &req); err != nil || req.Case == nil {
		writeError(w, http.StatusBadRequest, "a test case is required")
		return
	}
	if err := sess.UpdateTest(chi.URLParam(r, "id"), *req.Case); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveTest(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.RemoveTest(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req practice.Settings
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	sess.ApplySettings(req)
	writeJSON(w, http.StatusOK, newStateResponse(sess))
}

// --- Run handlers ---

type runResponse struct {
	Report  verdict.Report `json:"report"`
	Summary string         `json:"summary"`
	State   stateResponse  `json:"state"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	// A dropped request cancels the batch.
	report, err := sess.Run(r.Context())
	if err != nil {
		writeError(w, runErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runResponse{Report: report, Summary: sess.Status(), State: newStateResponse(sess)})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": sess.Cancel()})
}

type saveRequest struct {
	Force bool `json:"force"`
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req saveRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}
	res, err := sess.Save(r.Context(), req.Force)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	snap := sess.Snapshot()
	st := storage.NewUserState()
	st.Code, st.HidePassed, st.HideSample, st.Timeout = snap.Code, snap.HidePassed, snap.HideSample, snap.Timeout
	for _, t := range snap.Tests {
		if !t.Sample {
			st.Tests = append(st.Tests, t.Case)
		}
	}

	switch r.URL.Query().Get("format") {
	case "markdown", "md":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte(storage.ExportMarkdown(snap.Slug, st, &snap.Signature)))
	case "yaml":
		data, err := storage.ExportYAML(snap.Slug, st)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(data)
	default:
		data, err := storage.ExportJSON(snap.Slug, st)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

// runErrorStatus maps a run failure to an HTTP status.
func runErrorStatus(err error) int {
	switch {
	case errors.Is(err, verdict.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, verdict.ErrEngineUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
