package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/rkmjld2/mahajan-remote2/internal/config"
	"github.com/rkmjld2/mahajan-remote2/internal/message"
	"github.com/rkmjld2/mahajan-remote2/internal/session"
)

func TestManager_GetOrCreate(t *testing.T) {
	m := newManager(newFakePipeline(false), time.Second)
	defer m.Close()

	s, created := m.GetOrCreate("")
	if !created || s.ID() == "" {
		t.Fatalf("empty id should create, got created=%v id=%q", created, s.ID())
	}

	again, created := m.GetOrCreate(s.ID())
	if created || again != s {
		t.Error("known id should return the existing session")
	}

	other, created := m.GetOrCreate("not-a-session")
	if !created || other.ID() == "not-a-session" {
		t.Error("unknown ids are replaced with a fresh id")
	}

	if m.Len() != 2 {
		t.Errorf("Len: got %d, want 2", m.Len())
	}
}

func TestManager_Sweep(t *testing.T) {
	m := session.NewManager(newFakePipeline(false), config.SessionConfig{
		InteractionTimeout: time.Second,
		IdleTTL:            time.Minute,
	})
	defer m.Close()

	idle := m.Create()
	owned := m.CreateOwned()
	idle.Command(context.Background(), "turn on d1")

	if n := m.Sweep(time.Now()); n != 0 {
		t.Errorf("fresh sessions swept: %d", n)
	}

	if n := m.Sweep(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Errorf("Sweep: got %d, want 1", n)
	}
	if _, ok := m.Get(idle.ID()); ok {
		t.Error("idle session should be forgotten")
	}
	if _, ok := m.Get(owned.ID()); !ok {
		t.Error("owned session must not be swept")
	}

	select {
	case <-idle.Done():
	default:
		t.Error("swept session should be closed")
	}
}

func TestManager_SweepDisabled(t *testing.T) {
	m := session.NewManager(newFakePipeline(false), config.SessionConfig{InteractionTimeout: time.Second})
	defer m.Close()
	m.Create()

	if n := m.Sweep(time.Now().Add(24 * time.Hour)); n != 0 {
		t.Errorf("zero TTL should disable sweeping, removed %d", n)
	}
}

func TestManager_Close(t *testing.T) {
	m := newManager(newFakePipeline(false), time.Second)
	s := m.Create()
	m.Close()

	select {
	case <-s.Done():
	default:
		t.Error("Close should tear down sessions")
	}
	if m.Len() != 0 {
		t.Errorf("Len after Close: got %d", m.Len())
	}

	late := m.Create()
	it := late.Press(context.Background(), message.ActionD1On)
	if it.Level != message.LevelError {
		t.Errorf("session created after Close should refuse work, got %+v", it)
	}
}

func TestManager_RunClosesOnCancel(t *testing.T) {
	m := newManager(newFakePipeline(false), time.Second)
	s := m.Create()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	select {
	case <-s.Done():
	default:
		t.Error("Run should close sessions on shutdown")
	}
}

func TestManager_LookupKeepsSessionAlive(t *testing.T) {
	m := session.NewManager(newFakePipeline(false), config.SessionConfig{
		InteractionTimeout: time.Second,
		IdleTTL:            50 * time.Millisecond,
	})
	defer m.Close()

	s := m.Create()
	time.Sleep(80 * time.Millisecond)

	got, created := m.GetOrCreate(s.ID())
	if created || got != s {
		t.Fatal("expected the existing session")
	}
	if n := m.Sweep(time.Now()); n != 0 {
		t.Errorf("a session just looked up must not be swept, removed %d", n)
	}
	if it := got.Press(context.Background(), message.ActionD1On); it.Level != message.LevelSuccess {
		t.Errorf("got %+v", it)
	}
}
