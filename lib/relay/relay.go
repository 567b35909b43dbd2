package relay

import (
	"net"
	"sync"
	"time"

	"github.com/go-i2p/go-datapump/lib/config"
	"github.com/go-i2p/go-datapump/lib/netio"
	"github.com/go-i2p/go-datapump/lib/pump"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/time/rate"
)

var log = logger.GetGoI2PLogger()

const dialTimeout = 10 * time.Second

// Server is a TCP port forwarder built on the tunnel state machine: every
// accepted connection is paired with a fresh upstream connection and relayed
// full-duplex until either side ends, errors, or is torn down by its peer
// direction.
type Server struct {
	cfg *config.RelayConfig

	ln       net.Listener
	done     chan struct{}
	stopOnce sync.Once
	handlers sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// NewServer builds a relay for cfg; call Start to begin accepting.
func NewServer(cfg *config.RelayConfig) *Server {
	return &Server{
		cfg:   cfg,
		done:  make(chan struct{}),
		conns: make(map[net.Conn]struct{}),
	}
}

// Start binds the listen address and accepts in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return oops.Errorf("relay listen failed: %w", err)
	}
	s.ln = ln
	log.WithFields(logger.Fields{
		"listen":   ln.Addr().String(),
		"upstream": s.cfg.Upstream,
	}).Debug("relay accepting connections")

	s.handlers.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr reports the bound listen address (useful with ":0").
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes the listener and every active client connection, then waits
// for the relays to unwind. Closing the connections fails their endpoint
// reads, which tears both tunnel directions down.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.ln != nil {
			s.ln.Close()
		}
		s.connMu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.connMu.Unlock()
	})
	s.handlers.Wait()
}

func (s *Server) track(conn net.Conn) {
	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
}

// Close implements io.Closer so the server can be registered for shutdown.
func (s *Server) Close() error {
	s.Stop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.handlers.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				log.WithError(err).Warn("accept failed")
				return
			}
		}
		s.handlers.Add(1)
		go s.handle(conn)
	}
}

// handle relays one client connection: dial upstream, start one tunnel per
// direction over a shared lock, pair them, and wait for both completions.
func (s *Server) handle(client net.Conn) {
	defer s.handlers.Done()
	s.track(client)
	defer s.untrack(client)

	upstreamAddr, err := resolveUpstream(s.cfg.Upstream, s.cfg.Resolver)
	if err != nil {
		log.WithError(err).Warn("upstream resolution failed")
		client.Close()
		return
	}
	origin, err := net.DialTimeout("tcp", upstreamAddr, dialTimeout)
	if err != nil {
		log.WithError(err).Warn("upstream dial failed")
		client.Close()
		return
	}

	var clientOpts []netio.Option
	if s.cfg.RateLimit > 0 {
		burst := s.cfg.BufferSize
		if burst <= 0 {
			burst = s.cfg.RateLimit
		}
		clientOpts = append(clientOpts,
			netio.WithReadLimiter(rate.NewLimiter(rate.Limit(s.cfg.RateLimit), burst)))
	}
	clientEP := netio.New(client, clientOpts...)
	originEP := netio.New(origin)

	lock := new(sync.Mutex)
	var both sync.WaitGroup
	both.Add(2)
	completion := func(direction string) func(pump.Result) {
		return func(r pump.Result) {
			log.WithFields(logger.Fields{
				"direction": direction,
				"bytes":     r.BytesWritten,
				"success":   r.OK(),
			}).Debug("relay direction finished")
			both.Done()
		}
	}

	east := pump.Start(clientEP, originEP, pump.Config{
		Lock:       lock,
		ByteBudget: pump.Unbounded,
		BufferSize: s.cfg.BufferSize,
		Watermark:  s.cfg.Watermark,
		Completion: completion("client->upstream"),
	})
	west := pump.Start(originEP, clientEP, pump.Config{
		Lock:       lock,
		ByteBudget: pump.Unbounded,
		BufferSize: s.cfg.BufferSize,
		Watermark:  s.cfg.Watermark,
		Completion: completion("upstream->client"),
	})
	pair := pump.SetupTwoWayTunnel(east, west)

	both.Wait()
	pair.Release()
}
