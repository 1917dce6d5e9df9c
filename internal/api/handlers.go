// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"tusk/internal/commits"
	tuskerr "tusk/internal/errors"
	"tusk/internal/objects"
	"tusk/internal/remote"
	"tusk/internal/tree"
)

func (s *Server) getObject(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	if !objects.ValidHash(hash) {
		writeError(w, tuskerr.Validation("malformed object hash", nil))
		return
	}

	rd, err := s.objects.Open(r.Context(), hash)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rd.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, rd); err != nil {
		s.logger.WithRequestID(r.Context()).Warn("object stream interrupted",
			zap.String("hash", hash),
			zap.Error(err))
	}
}

func (s *Server) putObject(w http.ResponseWriter, r *http.Request) {
	content, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, tuskerr.Validation("reading request body", nil))
		return
	}

	hash, err := s.objects.Put(r.Context(), content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"hash": hash})
}

func (s *Server) existsObjects(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hashes []string `json:"hashes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, tuskerr.Validation("invalid request body", nil))
		return
	}

	present := make(map[string]bool, len(req.Hashes))
	for _, h := range req.Hashes {
		ok, err := s.objects.Exists(r.Context(), h)
		if err != nil {
			writeError(w, err)
			return
		}
		present[h] = ok
	}
	writeJSON(w, http.StatusOK, map[string]any{"present": present})
}

func (s *Server) getTree(w http.ResponseWriter, r *http.Request) {
	node, err := tree.Load(r.Context(), s.objects, r.PathValue("hash"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) getCommit(w http.ResponseWriter, r *http.Request) {
	c, err := s.commits.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// putCommit accepts a fully-formed commit from a pushing client. The store
// recomputes the id, so a tampered commit is rejected, not stored.
func (s *Server) putCommit(w http.ResponseWriter, r *http.Request) {
	var c commits.Commit
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, tuskerr.Validation("invalid request body", nil))
		return
	}

	if err := s.commits.Put(&c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) listBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := s.refs.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, branches)
}

func (s *Server) getBranch(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	id, err := s.refs.Get(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "commit_id": id})
}

// swapBranch is the compare-and-swap endpoint every push terminates in. A
// stale expected_old answers 409 with the current tip in the details.
func (s *Server) swapBranch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExpectedOld string `json:"expected_old"`
		NewID       string `json:"new_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, tuskerr.Validation("invalid request body", nil))
		return
	}

	if err := s.refs.CompareAndSwap(r.PathValue("name"), req.ExpectedOld, req.NewID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"name":      r.PathValue("name"),
		"commit_id": req.NewID,
	})
}

func (s *Server) stageFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Dir     string `json:"dir"`
		Name    string `json:"name"`
		Content []byte `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, tuskerr.Validation("invalid request body", nil))
		return
	}

	e, err := s.staging.StageUpload(r.Context(), r.PathValue("branch"), req.Dir, req.Name, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) listStaged(w http.ResponseWriter, r *http.Request) {
	entries, err := s.staging.ListStaged(r.PathValue("branch"))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []remote.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) getStagedFile(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		writeError(w, tuskerr.Validation("missing path query parameter", nil))
		return
	}

	content, err := s.staging.GetStaged(r.Context(), r.PathValue("branch"), p)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(content)
}

func (s *Server) appendRow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string     `json:"path"`
		Row  remote.Row `json:"row"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, tuskerr.Validation("invalid request body", nil))
		return
	}

	e, err := s.staging.AppendRow(r.Context(), r.PathValue("branch"), req.Path, req.Row)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) commitStaged(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
		Author  string `json:"author"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, tuskerr.Validation("invalid request body", nil))
		return
	}

	c, err := s.staging.CommitStaged(r.Context(), r.PathValue("branch"), req.Message, req.Author)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps typed errors onto status codes and ships the typed body
// so clients can rebuild the same error on their side.
func writeError(w http.ResponseWriter, err error) {
	var te *tuskerr.Error
	if !errors.As(err, &te) {
		te = &tuskerr.Error{
			Type:    tuskerr.ErrorTypeInternal,
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		}
	}
	writeJSON(w, te.Code, map[string]*tuskerr.Error{"error": te})
}
