// Package server provides a TCP server for the smart protocol, serving file
// access requests against a backing transport.
package server

import (
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/mrod0101/bazaar/pkg/logging"
	"github.com/mrod0101/bazaar/pkg/smart/medium"
	"github.com/mrod0101/bazaar/pkg/smart/request"
	"github.com/mrod0101/bazaar/pkg/transport"
)

// Server is a smart protocol server listening on a TCP address. Each
// connection is served concurrently; requests on a connection are served in
// order.
type Server struct {
	// listener is the bound listener.
	listener net.Listener
	// registry dispatches commands for all connections.
	registry *request.Registry
	// logger receives diagnostics. May be nil.
	logger *logging.Logger
	// shutdown signals the accept loop to stop.
	shutdown chan struct{}
	// connections tracks in-flight connection handlers.
	connections sync.WaitGroup
	// accepting tracks the accept loop.
	accepting sync.WaitGroup
}

// New creates a server bound to the specified address, serving the specified
// transport. When readOnly is set, mutating commands fail with
// ReadOnlyError. The server does not accept connections until Start is
// called.
func New(address string, backing transport.Transport, readOnly bool, logger *logging.Logger) (*Server, error) {
	if readOnly {
		backing = transport.NewReadOnly(backing)
	}
	registry, err := request.NewDefaultRegistry(backing, logger)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create command registry")
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrap(err, "unable to bind listener")
	}
	return &Server{
		listener: listener,
		registry: registry,
		logger:   logger,
		shutdown: make(chan struct{}),
	}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start begins accepting connections in the background.
func (s *Server) Start() {
	s.accepting.Add(1)
	go s.accept()
}

// accept runs the accept loop until shutdown.
func (s *Server) accept() {
	defer s.accepting.Done()
	for {
		connection, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
			default:
				s.logger.Error(errors.Wrap(err, "accept failed"))
			}
			return
		}
		s.logger.Debugf("connection from %s", connection.RemoteAddr())
		s.connections.Add(1)
		go s.serve(connection)
	}
}

// serve handles a single connection.
func (s *Server) serve(connection net.Conn) {
	defer s.connections.Done()
	defer connection.Close()
	if err := medium.NewStreamServer(s.registry, s.logger).Serve(connection); err != nil {
		s.logger.Warn(errors.Wrapf(err, "connection from %s terminated", connection.RemoteAddr()))
	}
}

// Stop shuts the server down, waiting for the accept loop and all in-flight
// connections to terminate.
func (s *Server) Stop() error {
	close(s.shutdown)
	err := s.listener.Close()
	s.accepting.Wait()
	s.connections.Wait()
	return err
}
