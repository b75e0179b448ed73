package sockets

import (
	"net"
	"testing"
	"time"
)

func TestListenAcceptsConnections(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", 16)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- c
	}()

	client, err := net.DialTimeout("tcp", ln.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	select {
	case c := <-accepted:
		defer c.Close()
	case err := <-acceptErr:
		t.Fatalf("accept: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for accept")
	}
}

func TestListenTwoSocketsShareAddressViaReusePort(t *testing.T) {
	ln1, err := Listen("127.0.0.1:0", 16)
	if err != nil {
		t.Fatalf("Listen 1: %v", err)
	}
	defer ln1.Close()

	addr := ln1.Addr().(*net.TCPAddr)
	ln2, err := Listen(addr.String(), 16)
	if err != nil {
		t.Fatalf("Listen 2 on same address with SO_REUSEPORT: %v", err)
	}
	defer ln2.Close()
}

func TestListenRejectsUnresolvableAddress(t *testing.T) {
	if _, err := Listen("not-an-address", 16); err == nil {
		t.Fatalf("expected error for unresolvable address")
	}
}
