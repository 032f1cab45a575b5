package server

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// Server owns the listener, the session registry, and the background sweep.
// Each accepted connection is served by its own goroutine; the server only
// coordinates admission and shutdown.
type Server struct {
	store    Store
	files    *FileStore
	registry *Registry
	config   ServerConfig
	metrics  *Metrics

	listener net.Listener
	shutdown chan struct{}
	wg       sync.WaitGroup
	handlers sync.WaitGroup
}

// NewServer creates a server over the given store. Start must be called
// before the server accepts connections.
func NewServer(store Store, config ServerConfig) *Server {
	return &Server{
		store:    store,
		files:    NewFileStore(config.UploadDir),
		registry: NewRegistry(),
		config:   config,
		shutdown: make(chan struct{}),
	}
}

// SetMetrics attaches metrics. Must be called before Start.
func (s *Server) SetMetrics(metrics *Metrics) {
	s.metrics = metrics
	s.registry.SetMetrics(metrics)
}

// Registry exposes the session registry for stats endpoints.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Start binds the TCP listener and launches the accept and sweep loops.
// Returns once the listener is bound; serving continues in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.TCPPort))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.config.TCPPort, err)
	}
	s.listener = listener

	log.Printf("Server listening on %s (max %d connections)", listener.Addr(), s.config.MaxConnections)

	s.wg.Add(2)
	go s.acceptLoop()
	go s.sweepLoop()

	return nil
}

// Addr returns the bound listener address. Only valid after Start; lets
// callers that bound port 0 discover the real port.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// acceptLoop admits connections until the listener closes. The global
// capacity check happens here, before the handler goroutine is spawned, so
// a full server refuses work at the door. Shutdown closes handler sockets
// through the registry rather than waiting on their reads, then drains
// their cleanups before the store goes away.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("Accept error: %v", err)
			continue
		}

		if s.registry.Total() >= s.config.MaxConnections {
			log.Printf("Server at capacity (%d), rejecting connection from %s",
				s.config.MaxConnections, conn.RemoteAddr())
			s.metrics.RecordConnectionRejected("capacity")
			conn.Close()
			continue
		}

		s.spawnHandler(conn, "tcp")
	}
}

// spawnHandler runs the per-connection handler on its own goroutine, tracked
// so Stop can wait for in-flight cleanups.
func (s *Server) spawnHandler(conn net.Conn, transport string) {
	s.handlers.Add(1)
	go func() {
		defer s.handlers.Done()
		s.handleConnection(conn, transport)
	}()
}

// sweepLoop periodically evicts idle sessions and reconciles the persisted
// connected flags against the live registry.
func (s *Server) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			stale := s.registry.SweepInactive(s.config.SessionTimeout())
			for _, sess := range stale {
				log.Printf("Swept inactive session %s (user %s, idle since %s)",
					sess.ID, sess.Username, sess.LastActivity().Format(time.RFC3339))
			}
			if fixed, err := s.store.ReconcileConnectedFlags(); err != nil {
				log.Printf("Failed to reconcile connected flags: %v", err)
			} else if fixed > 0 {
				log.Printf("Reconciled %d stale connected flags", fixed)
			}
		}
	}
}

// Stop shuts the server down: stops accepting, waits for the loops, closes
// every live session, and closes the store. Safe to call once.
func (s *Server) Stop() error {
	close(s.shutdown)

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			log.Printf("Error closing listener: %v", err)
		}
	}

	s.wg.Wait()
	s.registry.Shutdown()

	// Closing the sessions wakes every handler; their deferred cleanups
	// record the final accounting, which needs the store still open.
	drained := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		log.Printf("Timed out waiting for connection handlers to finish")
	}

	if _, err := s.store.ReconcileConnectedFlags(); err != nil {
		log.Printf("Failed to reconcile connected flags on shutdown: %v", err)
	}

	return s.store.Close()
}
