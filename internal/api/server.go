// internal/api/server.go
package api

import (
	"net/http"

	"tusk/internal/commits"
	"tusk/internal/logging"
	"tusk/internal/middleware"
	"tusk/internal/objects"
	"tusk/internal/refs"
	"tusk/internal/remote"
)

// Server exposes a repository over HTTP: objects, trees, commits and
// branch pointers for sync, plus the per-branch staging endpoints.
type Server struct {
	objects objects.Store
	commits *commits.Store
	refs    *refs.Store
	staging *remote.Staging
	logger  *logging.Logger
}

func NewServer(store objects.Store, cs *commits.Store, rs *refs.Store, staging *remote.Staging, logger *logging.Logger) *Server {
	return &Server{
		objects: store,
		commits: cs,
		refs:    rs,
		staging: staging,
		logger:  logger,
	}
}

// Handler builds the routed, middleware-wrapped handler the http.Server
// serves.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/objects/{hash}", s.getObject)
	mux.HandleFunc("POST /api/objects", s.putObject)
	mux.HandleFunc("POST /api/objects/exists", s.existsObjects)

	mux.HandleFunc("GET /api/trees/{hash}", s.getTree)

	mux.HandleFunc("GET /api/commits/{id}", s.getCommit)
	mux.HandleFunc("POST /api/commits", s.putCommit)

	mux.HandleFunc("GET /api/branches", s.listBranches)
	mux.HandleFunc("GET /api/branches/{name}", s.getBranch)
	mux.HandleFunc("POST /api/branches/{name}", s.swapBranch)

	mux.HandleFunc("POST /api/staging/{branch}/files", s.stageFile)
	mux.HandleFunc("GET /api/staging/{branch}", s.listStaged)
	mux.HandleFunc("GET /api/staging/{branch}/file", s.getStagedFile)
	mux.HandleFunc("POST /api/staging/{branch}/rows", s.appendRow)
	mux.HandleFunc("POST /api/staging/{branch}/commit", s.commitStaged)

	return middleware.Chain(mux,
		middleware.Recover(s.logger),
		middleware.Logger(s.logger),
		middleware.RequestID,
	)
}
