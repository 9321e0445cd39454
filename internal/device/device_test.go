package device_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rkmjld2/mahajan-remote2/internal/device"
	"github.com/rkmjld2/mahajan-remote2/internal/message"
)

// newDevice starts a self-signed TLS server and returns a client pointed at it.
func newDevice(t *testing.T, handler http.HandlerFunc) (*device.Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewTLSServer(handler)
	t.Cleanup(server.Close)

	client, err := device.New(strings.TrimPrefix(server.URL, "https://"))
	if err != nil {
		t.Fatalf("device.New: %v", err)
	}
	return client, server
}

func TestClient_URLComposition(t *testing.T) {
	hosts := []string{
		"abcd.ngrok-free.app",
		"abcd.ngrok-free.app/",
		"https://abcd.ngrok-free.app",
		"https://abcd.ngrok-free.app//",
		" http://abcd.ngrok-free.app ",
	}
	paths := []string{"/", "/d1/on", "/d1/off", "/d2/on", "/d2/off"}

	for _, h := range hosts {
		c, err := device.New(h)
		if err != nil {
			t.Fatalf("device.New(%q): %v", h, err)
		}
		for _, p := range paths {
			want := "https://abcd.ngrok-free.app" + p
			if got := c.URL(p); got != want {
				t.Errorf("URL(%q) with host %q: got %q, want %q", p, h, got, want)
			}
		}
	}
}

func TestClient_SendSuccess(t *testing.T) {
	var gotPath, gotMethod string
	client, _ := newDevice(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		_, _ = io.WriteString(w, "  D1 ON\n")
	})

	res := client.Send(context.Background(), "/d1/on")
	if res != (message.DispatchResult{OK: true, Message: "D1 ON"}) {
		t.Errorf("result: got %+v", res)
	}
	if gotPath != "/d1/on" || gotMethod != http.MethodGet {
		t.Errorf("request: got %s %s", gotMethod, gotPath)
	}
}

func TestClient_SendHTTPError(t *testing.T) {
	client, _ := newDevice(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "err\n")
	})

	res := client.Send(context.Background(), "/d2/off")
	want := message.DispatchResult{OK: false, Message: "HTTP 500 – err"}
	if res != want {
		t.Errorf("result: got %+v, want %+v", res, want)
	}
}

func TestClient_SendOnly200Succeeds(t *testing.T) {
	client, _ := newDevice(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	res := client.Send(context.Background(), "/d1/off")
	if res.OK || res.Message != "HTTP 204 – " {
		t.Errorf("only 200 counts as success, got %+v", res)
	}
}

func TestClient_SendTimeout(t *testing.T) {
	client, _ := newDevice(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res := client.Send(ctx, "/d1/on")
	if res.OK {
		t.Fatal("expected failure")
	}
	if !strings.HasPrefix(res.Message, "Connection failed: ") {
		t.Errorf("message: got %q", res.Message)
	}
	if !strings.Contains(res.Message, "deadline exceeded") {
		t.Errorf("message should carry the underlying error, got %q", res.Message)
	}
}

func TestClient_SendConnectionRefused(t *testing.T) {
	server := httptest.NewTLSServer(http.NotFoundHandler())
	host := strings.TrimPrefix(server.URL, "https://")
	server.Close()

	client, err := device.New(host)
	if err != nil {
		t.Fatalf("device.New: %v", err)
	}

	res := client.Send(context.Background(), "/")
	if res.OK || !strings.HasPrefix(res.Message, "Connection failed: ") {
		t.Errorf("result: got %+v", res)
	}
}

func TestClient_RejectsUnknownRoute(t *testing.T) {
	called := false
	client, _ := newDevice(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	for _, p := range []string{"/d3/on", "https://evil.example/d1/on", "turn on d1", ""} {
		res := client.Send(context.Background(), p)
		if res.OK {
			t.Errorf("%q should be refused", p)
		}
	}
	if called {
		t.Error("no request should reach the device for unsupported routes")
	}
}

func TestClient_SendIsIndependent(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	client, _ := newDevice(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.String())
		n := len(paths)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, "busy")
			return
		}
		_, _ = io.WriteString(w, "D1 ON")
	})

	first := client.Send(context.Background(), "/d1/on")
	second := client.Send(context.Background(), "/d1/on")

	if first.OK || first.Message != "HTTP 503 – busy" {
		t.Errorf("first: got %+v", first)
	}
	if !second.OK || second.Message != "D1 ON" {
		t.Errorf("second: got %+v", second)
	}
	if len(paths) != 2 || paths[0] != paths[1] || paths[0] != "/d1/on" {
		t.Errorf("requests: got %v, want two identical /d1/on", paths)
	}
}

func TestClient_Probe(t *testing.T) {
	client, _ := newDevice(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "ESP8266 ready")
	})

	if err := client.Probe(context.Background()); err != nil {
		t.Errorf("Probe: %v", err)
	}
}

func TestClient_WithScheme(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "D2 OFF")
	}))
	t.Cleanup(server.Close)

	client, err := device.New(strings.TrimPrefix(server.URL, "http://"), device.WithScheme("http"))
	if err != nil {
		t.Fatalf("device.New: %v", err)
	}
	if res := client.Send(context.Background(), "/d2/off"); !res.OK || res.Message != "D2 OFF" {
		t.Errorf("got %+v", res)
	}

	if _, err := device.New("example.com", device.WithScheme("ftp")); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}
