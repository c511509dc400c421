package testutil

import (
	"net"
	"testing"
)

// ListenTCP opens a loopback listener on a random port and closes it
// when the test finishes. Returns the listener and its "host:port"
// address.
func ListenTCP(t testing.TB) (net.Listener, string) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create TCP listener: %v", err)
	}

	t.Cleanup(func() {
		_ = listener.Close()
	})

	return listener, listener.Addr().String()
}

// TCPPair dials a loopback listener and returns the two ends of the
// resulting connection. Unlike net.Pipe the conns carry real TCP
// addresses, which session code parses.
func TCPPair(t testing.TB) (client, server net.Conn) {
	t.Helper()

	listener, addr := ListenTCP(t)

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	client, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dialing test listener: %v", err)
	}

	server = <-accepted

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	return client, server
}
