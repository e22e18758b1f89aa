package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	sock := filepath.Join(dir, "es40mon.sock")
	s := NewServer(sock)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s, sock
}

func TestExecuteRoundTrip(t *testing.T) {
	s, sock := newTestServer(t)
	s.Handle("query-status", func(args map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"status": "running"}, nil
	})

	c, err := Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	result, err := c.Execute("query-status", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	m, ok := result.(map[string]interface{})
	if !ok || m["status"] != "running" {
		t.Fatalf("result = %#v, want status=running", result)
	}
}

func TestExecuteWithArguments(t *testing.T) {
	s, sock := newTestServer(t)
	s.Handle("echo", func(args map[string]interface{}) (interface{}, error) {
		return args["value"], nil
	})

	c, err := Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	result, err := c.Execute("echo", map[string]interface{}{"value": "hello"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result != "hello" {
		t.Fatalf("result = %#v, want hello", result)
	}
}

func TestExecuteUnknownCommandReturnsError(t *testing.T) {
	_, sock := newTestServer(t)

	c, err := Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if _, err := c.Execute("no-such-command", nil); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestExecutePropagatesHandlerError(t *testing.T) {
	s, sock := newTestServer(t)
	s.Handle("fail", func(args map[string]interface{}) (interface{}, error) {
		return nil, fmt.Errorf("boom")
	})

	c, err := Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if _, err := c.Execute("fail", nil); err == nil {
		t.Fatal("expected error from handler")
	}
}

func TestMultipleClientsServedIndependently(t *testing.T) {
	s, sock := newTestServer(t)
	s.Handle("query-status", func(args map[string]interface{}) (interface{}, error) {
		return "ok", nil
	})

	a, err := Dial(sock)
	if err != nil {
		t.Fatalf("Dial a: %v", err)
	}
	defer a.Close()
	b, err := Dial(sock)
	if err != nil {
		t.Fatalf("Dial b: %v", err)
	}
	defer b.Close()

	if _, err := a.Execute("query-status", nil); err != nil {
		t.Fatalf("a Execute: %v", err)
	}
	if _, err := b.Execute("query-status", nil); err != nil {
		t.Fatalf("b Execute: %v", err)
	}
}

func TestBroadcastDeliversEventToClient(t *testing.T) {
	s, sock := newTestServer(t)

	c, err := Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	// give the server a moment to register the accepted connection
	// before broadcasting, since accept happens in its own goroutine.
	time.Sleep(10 * time.Millisecond)

	s.Broadcast(Event{Event: "SHUTDOWN", Data: map[string]interface{}{"reason": "graceful"}})

	select {
	case ev := <-c.Events():
		if ev.Event != "SHUTDOWN" {
			t.Fatalf("event = %q, want SHUTDOWN", ev.Event)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast event")
	}
}

func TestStopClosesListenerSocket(t *testing.T) {
	s, sock := newTestServer(t)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := Dial(sock); err == nil {
		t.Fatal("expected Dial to fail after Stop")
	}
}

func TestNewServerRemovesStaleSocket(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "stale.sock")
	if err := os.WriteFile(sock, []byte("not a socket"), 0644); err != nil {
		t.Fatalf("seeding stale file: %v", err)
	}

	s := NewServer(sock)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
}
