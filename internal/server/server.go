// Package server runs kegdb's TCP accept loop: one goroutine per
// connection, each running an executor.Executor against a shared store,
// with structured logging and a correlation ID per connection. Modeled on
// iamNilotpal-ignite/internal/engine's Config-struct construction style,
// generalized from its single-process engine to a listening server.
package server

import (
	"context"
	"net"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kegdb/kegdb/internal/executor"
	"github.com/kegdb/kegdb/internal/metrics"
)

// Store is the subset of *store.Store a server needs to hand to each
// connection's executor.
type Store = executor.Store

// Config holds everything Server needs to start listening.
type Config struct {
	ListenAddr string
	Store      Store
	Logger     *zap.SugaredLogger
	Metrics    *metrics.Registry
}

// Server accepts connections on a single listening socket and runs one
// executor per connection until Shutdown is called.
type Server struct {
	addr   string
	store  Store
	log    *zap.SugaredLogger
	met    *metrics.Registry
	ln     net.Listener
	group  *errgroup.Group
	cancel context.CancelFunc
}

// New builds a Server from cfg. It does not start listening yet; call Run.
func New(cfg Config) *Server {
	return &Server{addr: cfg.ListenAddr, store: cfg.Store, log: cfg.Logger, met: cfg.Metrics}
}

// Run binds the listening socket and serves connections until ctx is
// canceled, at which point it stops accepting, closes the listener, and
// waits for every open connection's executor to return (that is, for each
// client to disconnect) before returning. Open connections are not closed
// by the server.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	s.group = group

	s.log.Infow("listening", "addr", ln.Addr().String())

	group.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-gctx.Done():
				return s.group.Wait()
			default:
				return err
			}
		}
		connID := uuid.NewString()
		group.Go(func() error {
			s.serve(connID, conn)
			return nil
		})
	}
}

// Shutdown stops the accept loop and waits for in-flight connections to
// drain.
func (s *Server) Shutdown() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.group != nil {
		return s.group.Wait()
	}
	return nil
}

func (s *Server) serve(connID string, conn net.Conn) {
	log := s.log.With("conn", connID, "remote", conn.RemoteAddr().String())
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("connection panicked", "panic", r)
		}
		_ = conn.Close()
	}()

	log.Infow("connection opened")
	exec := executor.New(s.store, conn, conn, s.met)
	if err := exec.Run(); err != nil {
		log.Warnw("connection ended with error", "error", err)
		return
	}
	log.Infow("connection closed")
}
