// Package httpapi exposes the Request Processor over a local HTTP
// interface keyed by caller pid, the transport a client on this device
// uses to reach the broker.
package httpapi

import (
	"context"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/jolla/secretsbrokerd/internal/processor"
)

// Server is the HTTP transport in front of a Processor.
type Server struct {
	proc *processor.Processor
	log *logrus.Logger
	mux *http.ServeMux
	handler http.Handler
	server *http.Server
}

// New creates a transport server bound to addr, forwarding every request
// to proc.
func New(proc *processor.Processor, addr string, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	s := &Server{proc: proc, log: log}
	s.mux = http.NewServeMux()
	s.registerRoutes()
	s.handler = securityHeadersMiddleware(bodySizeMiddleware(s.mux))
	s.server = &http.Server{Addr: addr, Handler: s.handler}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /secrets/plugins", s.handleGetPluginInfo)

	s.mux.HandleFunc("GET /secrets/collections", s.handleCollectionNames)
	s.mux.HandleFunc("POST /secrets/collections/devicelock", s.handleCreateDeviceLockCollection)
	s.mux.HandleFunc("POST /secrets/collections/customlock", s.handleCreateCustomLockCollection)
	s.mux.HandleFunc("DELETE /secrets/collections/{name}", s.handleDeleteCollection)

	s.mux.HandleFunc("PUT /secrets/collections/{name}/secrets/{secret}", s.handleSetCollectionSecret)
	s.mux.HandleFunc("GET /secrets/collections/{name}/secrets/{secret}", s.handleGetCollectionSecret)
	s.mux.HandleFunc("DELETE /secrets/collections/{name}/secrets/{secret}", s.handleDeleteCollectionSecret)
	s.mux.HandleFunc("POST /secrets/collections/{name}/find", s.handleFindCollectionSecrets)

	s.mux.HandleFunc("PUT /secrets/standalone/devicelock/{secret}", s.handleSetStandaloneDeviceLockSecret)
	s.mux.HandleFunc("PUT /secrets/standalone/customlock/{secret}", s.handleSetStandaloneCustomLockSecret)
	s.mux.HandleFunc("GET /secrets/standalone/{secret}", s.handleGetStandaloneSecret)
	s.mux.HandleFunc("DELETE /secrets/standalone/{secret}", s.handleDeleteStandaloneSecret)

	s.mux.HandleFunc("POST /secrets/lock/database/provide", s.handleProvideDatabaseLockCode)
	s.mux.HandleFunc("POST /secrets/lock/database/modify", s.handleModifyDatabaseLockCode)
	s.mux.HandleFunc("POST /secrets/lock/database/forget", s.handleForgetDatabaseLockCode)
}

// Start begins listening in the background, returning the listener so
// callers (and tests) can learn the bound port.
func (s *Server) Start() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("http transport serve failed")
		}
	}()
	return ln, nil
}

// Stop gracefully shuts the transport down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
