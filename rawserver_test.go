package rawserver

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/WhileEndless/go-rawserver/pkg/config"
)

// startTestServer builds and starts a one-worker plaintext server on an
// ephemeral port, registering routes via register before ListenAndServe.
func startTestServer(t *testing.T, register func(s *Server)) (addr string, srv *Server) {
	t.Helper()

	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.Threading.Mode = "fixed"
	cfg.Threading.Workers = 1

	s := New(cfg)
	register(s)

	// Reserve a free port via a throwaway listener, since the real listener
	// isn't reachable until a worker goroutine is up and ListenAndServe
	// doesn't report back the bound address.
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	port := probe.Addr().String()
	probe.Close()
	cfg.Listen = port

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.ListenAndServe()
	}()

	t.Cleanup(func() {
		s.Close()
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c, err := net.DialTimeout("tcp", port, 100*time.Millisecond)
		if err == nil {
			c.Close()
			return port, s
		}
		select {
		case err := <-errCh:
			t.Fatalf("ListenAndServe exited early: %v", err)
		default:
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server never started listening on %s", port)
	return "", nil
}

func TestServerServesPlaintextGET(t *testing.T) {
	addr, _ := startTestServer(t, func(s *Server) {
		s.Router().Handle("GET", "/hello", Handler(func(ctx *Context) {
			ctx.SetHeader("Content-Type", "text/plain")
			ctx.Respond(200, []byte("world"))
		}))
	})

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("GET /hello HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if status != "HTTP/1.1 200 OK\r\n" {
		t.Fatalf("status line = %q", status)
	}
}

func TestServerServes404ForUnknownRoute(t *testing.T) {
	addr, _ := startTestServer(t, func(s *Server) {})

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("GET /nope HTTP/1.1\r\nHost: x\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if status != "HTTP/1.1 404 Not Found\r\n" {
		t.Fatalf("status line = %q", status)
	}
}

func TestShutdownDrainsAfterConnectionCloses(t *testing.T) {
	addr, srv := startTestServer(t, func(s *Server) {
		s.Router().Handle("GET", "/", Handler(func(ctx *Context) {
			ctx.Respond(200, []byte("ok"))
		}))
	})

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	bufio.NewReader(conn).ReadString('\n')
	conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestWorkerCountRespectsThreadingMode(t *testing.T) {
	cfg := config.Default()

	cfg.Threading.Mode = "single"
	if n := workerCount(cfg); n != 1 {
		t.Fatalf("single: workerCount = %d, want 1", n)
	}

	cfg.Threading.Mode = "fixed"
	cfg.Threading.Workers = 3
	if n := workerCount(cfg); n != 3 {
		t.Fatalf("fixed: workerCount = %d, want 3", n)
	}

	cfg.Threading.Mode = "auto"
	if n := workerCount(cfg); n < 1 {
		t.Fatalf("auto: workerCount = %d, want >= 1", n)
	}
}
