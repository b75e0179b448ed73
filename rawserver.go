// Package rawserver provides a low-level HTTP/1.1 server engine built on a
// single-threaded-per-worker, completion-based I/O runtime. Each worker owns
// an independent listening socket (SO_REUSEPORT), a fixed-capacity
// Provision pool, and a connection state machine; workers share no mutable
// state beyond the route table, which is read-only once the server starts.
package rawserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/WhileEndless/go-rawserver/internal/rlog"
	"github.com/WhileEndless/go-rawserver/pkg/acceptloop"
	"github.com/WhileEndless/go-rawserver/pkg/config"
	"github.com/WhileEndless/go-rawserver/pkg/connsm"
	"github.com/WhileEndless/go-rawserver/pkg/constants"
	"github.com/WhileEndless/go-rawserver/pkg/ioruntime"
	"github.com/WhileEndless/go-rawserver/pkg/pool"
	"github.com/WhileEndless/go-rawserver/pkg/provision"
	"github.com/WhileEndless/go-rawserver/pkg/router"
	"github.com/WhileEndless/go-rawserver/pkg/sockets"
	"github.com/WhileEndless/go-rawserver/pkg/tlsconfig"
	"github.com/WhileEndless/go-rawserver/pkg/tlsengine"
	"github.com/WhileEndless/go-rawserver/pkg/tlsslot"
)

// Version identifies this engine's release.
const Version = "0.1.0"

// Handler is re-exported so callers need not import pkg/connsm directly to
// register routes.
type Handler = connsm.Handler

// Context is re-exported for the same reason.
type Context = connsm.Context

// Server owns a set of workers, each a complete accept/recv/send/close
// loop, and the single route table they share.
type Server struct {
	cfg    *config.Config
	log    hclog.Logger
	router *router.Router

	mu      sync.Mutex
	workers []*worker
	started bool
}

// worker bundles one goroutine's entire I/O runtime.
type worker struct {
	id   int
	ln   net.Listener
	rt   *ioruntime.Runtime
	pool *pool.Pool
	sm   *connsm.SM
	loop *acceptloop.Loop
}

// New builds a Server from a validated Config. Register routes on
// Router() before calling ListenAndServe.
func New(cfg *config.Config) *Server {
	return &Server{
		cfg:    cfg,
		log:    rlog.New(rlog.Options{}),
		router: router.New(),
	}
}

// Router exposes the shared route table for handler registration.
func (s *Server) Router() *router.Router { return s.router }

// SetLogger overrides the root logger New builds by default.
func (s *Server) SetLogger(l hclog.Logger) { s.log = l }

// ListenAndServe binds one listening socket per worker and runs each
// worker's accept/recv/send/close loop until Close is called and the
// worker's in-flight connections have closed, or a handler signals Kill.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("rawserver: already started")
	}
	s.started = true
	s.mu.Unlock()

	var tlsCfg *tls.Config
	if s.cfg.Security.TLSEnabled() {
		built, err := s.buildTLSConfig()
		if err != nil {
			return err
		}
		tlsCfg = built
	}

	n := workerCount(s.cfg)
	workers := make([]*worker, 0, n)
	for i := 0; i < n; i++ {
		w, err := s.newWorker(i, tlsCfg)
		if err != nil {
			for _, started := range workers {
				started.rt.Close()
			}
			return err
		}
		workers = append(workers, w)
	}

	s.mu.Lock()
	s.workers = workers
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			runWorker(w)
		}(w)
	}
	wg.Wait()
	return nil
}

// Close shuts down every worker's listening socket, unblocking its
// outstanding accept so the worker loop can exit. In-flight connections are
// not waited on; use Shutdown to drain them first.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, w := range s.workers {
		if err := w.rt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Shutdown stops admission (closing every worker's listener, as Close does)
// and then polls until every worker's pool has drained to zero in-flight
// Provisions or ctx is done: a stop-then-join idiom applied to connections
// instead of pooled dialers.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.Close(); err != nil {
		return err
	}

	s.mu.Lock()
	workers := s.workers
	s.mu.Unlock()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		drained := true
		for _, w := range workers {
			if w.pool.Stats().Active > 0 {
				drained = false
				break
			}
		}
		if drained {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Server) newWorker(id int, tlsCfg *tls.Config) (*worker, error) {
	ln, err := sockets.Listen(s.cfg.Listen, s.cfg.Sizes.Backlog)
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", id, err)
	}

	rt := ioruntime.New(ln, s.cfg.Sizes.CompletionsReapMax)
	provCfg := provision.Config{
		SocketBufferSize: s.cfg.Sizes.SocketBuffer,
		RecvBufferRetain: s.cfg.Sizes.RecvBufferRetain,
		ArenaRetain:      s.cfg.Sizes.ConnectionArenaRetain,
		RequestMax:       s.cfg.Sizes.RequestMax,
		CapturesMax:      s.cfg.Sizes.CapturesMax,
		QueriesMax:       s.cfg.Sizes.QueriesMax,
	}
	p := pool.New(s.cfg.Sizes.ConnectionsMax, provCfg)
	slots := tlsslot.New(s.cfg.Sizes.ConnectionsMax)
	workerLog := rlog.Worker(s.log, id)

	sm := &connsm.SM{
		RT:     rt,
		Pool:   p,
		TLS:    slots,
		Router: s.router,
		Limits: connsm.Limits{
			SocketBufferSize:  s.cfg.Sizes.SocketBuffer,
			RequestMax:        s.cfg.Sizes.RequestMax,
			HeaderMax:         s.cfg.Sizes.HeaderMax,
			URIMax:            s.cfg.Sizes.RequestURIMax,
			CapturesMax:       s.cfg.Sizes.CapturesMax,
			QueriesMax:        s.cfg.Sizes.QueriesMax,
			HandshakeCycleMax: constants.HandshakeCycleMax,
		},
		Log: workerLog,
	}

	loop := &acceptloop.Loop{
		RT:   rt,
		Pool: p,
		TLS:  slots,
		SM:   sm,
		Log:  workerLog,
	}
	if tlsCfg != nil {
		loop.TLSConfigFactory = func() *tlsengine.Engine {
			return tlsengine.NewServerEngine(tlsCfg)
		}
	}
	sm.OnConnectionClosed = loop.OnClose

	return &worker{id: id, ln: ln, rt: rt, pool: p, sm: sm, loop: loop}, nil
}

// runWorker is the single-goroutine loop that owns w's entire state: it
// drains completions, routing OpAccept to the accept loop and everything
// else to the connection state machine. No mutable state is shared
// between workers, so none of this needs a lock.
func runWorker(w *worker) {
	w.loop.Start()
	listenerClosed := false
	for {
		c := w.rt.Next()
		if c.Op == ioruntime.OpAccept {
			w.loop.OnAccept(c.Conn, c.Err)
			if errors.Is(c.Err, net.ErrClosed) {
				listenerClosed = true
			}
		} else {
			w.sm.Handle(c)
			if w.sm.Stopped() {
				return
			}
		}
		if listenerClosed && w.pool.Stats().Active == 0 {
			return
		}
	}
}

func (s *Server) buildTLSConfig() (*tls.Config, error) {
	certPEM, err := os.ReadFile(s.cfg.Security.Cert)
	if err != nil {
		return nil, fmt.Errorf("reading security.cert: %w", err)
	}
	keyPEM, err := os.ReadFile(s.cfg.Security.Key)
	if err != nil {
		return nil, fmt.Errorf("reading security.key: %w", err)
	}
	return tlsengine.BuildServerConfig(tlsengine.SecurityConfig{
		CertPEM: certPEM,
		KeyPEM:  keyPEM,
		Profile: resolveProfile(s.cfg.Security.Profile),
	})
}

// resolveProfile maps a config.SecurityConfig.Profile name to the
// tlsconfig.VersionProfile it names. applyDefaults fills "secure" when
// the operator leaves it unset.
func resolveProfile(name string) tlsconfig.VersionProfile {
	switch name {
	case "modern":
		return tlsconfig.ProfileModern
	case "compatible":
		return tlsconfig.ProfileCompatible
	case "legacy":
		return tlsconfig.ProfileLegacy
	default:
		return tlsconfig.ProfileSecure
	}
}

// workerCount resolves the configured threading mode: auto, single, or a
// fixed worker count.
func workerCount(cfg *config.Config) int {
	switch cfg.Threading.Mode {
	case "single":
		return 1
	case "fixed":
		return cfg.Threading.Workers
	default: // "auto"
		if n := runtime.NumCPU(); n > 0 {
			return n
		}
		return 1
	}
}
