// Package web exposes the approval pipeline over HTTP: the public
// decision endpoint used by approvers following an emailed link, and
// the status bundle read used by dashboards. Page rendering happens
// elsewhere, this layer speaks JSON.
package web

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/schema"
	"github.com/jspaans/permitdesk/internal/approval"
)

// AuthorizeFunc decides if a request may read the status bundle. The
// surrounding application injects this, the core does not authenticate
// anyone itself.
type AuthorizeFunc func(r *http.Request) bool

// ServerDeps are the dependencies for the server.
type ServerDeps struct {
	Logger          *slog.Logger
	Approvals       *approval.Service
	AuthorizeStatus AuthorizeFunc
}

type Server struct {
	deps    *ServerDeps
	mux     *http.ServeMux
	decoder *schema.Decoder
}

func NewServer(deps *ServerDeps) *Server {
	s := &Server{
		deps:    deps,
		mux:     http.NewServeMux(),
		decoder: schema.NewDecoder(),
	}

	s.decoder.IgnoreUnknownKeys(true)

	// Decision endpoint for unauthenticated approvers. The link token
	// is the only credential.
	s.mux.Handle("GET /approvals", http.HandlerFunc(s.previewDecision))
	s.mux.Handle("POST /approvals", http.HandlerFunc(s.submitDecision))

	// Status bundle for dashboards, behind the injected authorization.
	s.mux.Handle("GET /permit-status", http.HandlerFunc(s.permitStatus))

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
