package session_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rkmjld2/mahajan-remote2/internal/config"
	"github.com/rkmjld2/mahajan-remote2/internal/message"
	"github.com/rkmjld2/mahajan-remote2/internal/session"
)

// fakePipeline echoes its input into Display. When block is set, every call
// waits for release or for ctx to end; lag delays the return after ctx ends.
type fakePipeline struct {
	block   bool
	lag     time.Duration
	release chan struct{}
	started chan struct{}

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakePipeline(block bool) *fakePipeline {
	return &fakePipeline{
		block:   block,
		release: make(chan struct{}),
		started: make(chan struct{}, 16),
	}
}

func (f *fakePipeline) do(ctx context.Context, kind message.Kind, display string) message.Interaction {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		peak := f.maxActive.Load()
		if n <= peak || f.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}
	f.started <- struct{}{}

	if f.block {
		select {
		case <-f.release:
		case <-ctx.Done():
			time.Sleep(f.lag)
			return message.Interaction{Kind: kind, Display: "aborted", Level: message.LevelError}
		}
	}
	return message.Interaction{Kind: kind, Display: display, Speak: display, Level: message.LevelSuccess, Timestamp: time.Now()}
}

func (f *fakePipeline) Health(ctx context.Context) message.Interaction {
	return f.do(ctx, message.KindHealth, "ESP responds → connection OK")
}

func (f *fakePipeline) Press(ctx context.Context, a message.Action) message.Interaction {
	return f.do(ctx, message.KindPress, string(a))
}

func (f *fakePipeline) Command(ctx context.Context, text string) message.Interaction {
	return f.do(ctx, message.KindCommand, text)
}

func (f *fakePipeline) Voice(ctx context.Context, capture []byte) message.Interaction {
	return f.do(ctx, message.KindVoice, "voice")
}

func newManager(p session.Pipeline, timeout time.Duration) *session.Manager {
	return session.NewManager(p, config.SessionConfig{InteractionTimeout: timeout, IdleTTL: time.Minute})
}

func TestSession_StatusOverwrittenEveryInteraction(t *testing.T) {
	m := newManager(newFakePipeline(false), time.Second)
	defer m.Close()
	s := m.Create()

	if got := s.Status(); got != "" {
		t.Errorf("initial status: got %q", got)
	}

	s.Press(context.Background(), message.ActionD1On)
	if got := s.Status(); got != "D1_ON" {
		t.Errorf("after press: got %q", got)
	}

	s.Command(context.Background(), "turn off d2")
	if got := s.Status(); got != "turn off d2" {
		t.Errorf("after command: got %q", got)
	}

	s.Health(context.Background())
	last, ok := s.Last()
	if !ok || last.Kind != message.KindHealth || s.Status() != "ESP responds → connection OK" {
		t.Errorf("after health: got %+v", last)
	}
}

func TestSession_StatusIsPerSession(t *testing.T) {
	m := newManager(newFakePipeline(false), time.Second)
	defer m.Close()
	a, b := m.Create(), m.Create()

	a.Command(context.Background(), "from a")
	b.Command(context.Background(), "from b")

	if a.Status() != "from a" || b.Status() != "from b" {
		t.Errorf("statuses leaked: a=%q b=%q", a.Status(), b.Status())
	}
	if a.ID() == b.ID() {
		t.Error("sessions must have distinct ids")
	}
}

func TestSession_Timeout(t *testing.T) {
	m := newManager(newFakePipeline(true), 50*time.Millisecond)
	defer m.Close()
	s := m.Create()

	it := s.Command(context.Background(), "turn on d1")
	if it.Level != message.LevelError || it.Display != "Request cancelled: context deadline exceeded" {
		t.Errorf("got %+v", it)
	}
	if it.Speak != "The request timed out." {
		t.Errorf("speak: got %q", it.Speak)
	}
	if s.Status() != it.Display {
		t.Errorf("status: got %q", s.Status())
	}
}

func TestSession_CloseCancelsInFlight(t *testing.T) {
	p := newFakePipeline(true)
	m := newManager(p, time.Minute)
	s := m.Create()

	result := make(chan message.Interaction, 1)
	go func() { result <- s.Voice(context.Background(), []byte{0, 0}) }()

	<-p.started
	m.Remove(s.ID())

	select {
	case it := <-result:
		if it.Display != "Request cancelled: session closed" {
			t.Errorf("got %+v", it)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("interaction not cancelled by session teardown")
	}

	select {
	case <-s.Done():
	default:
		t.Error("session should be done after Remove")
	}
	if _, ok := m.Get(s.ID()); ok {
		t.Error("removed session still registered")
	}
}

func TestSession_CallerCancel(t *testing.T) {
	p := newFakePipeline(true)
	m := newManager(p, time.Minute)
	defer m.Close()
	s := m.Create()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan message.Interaction, 1)
	go func() { result <- s.Press(ctx, message.ActionD2Off) }()

	<-p.started
	cancel()

	it := <-result
	if !strings.HasPrefix(it.Display, "Request cancelled: ") || !strings.Contains(it.Display, "canceled") {
		t.Errorf("got %+v", it)
	}
}

func TestSession_SingleFlight(t *testing.T) {
	p := newFakePipeline(true)
	m := newManager(p, time.Minute)
	defer m.Close()
	s := m.Create()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Command(context.Background(), "turn on d1")
		}()
	}

	for i := 0; i < 3; i++ {
		<-p.started
		p.release <- struct{}{}
	}
	wg.Wait()

	if got := p.maxActive.Load(); got != 1 {
		t.Errorf("concurrent interactions in one session: got %d, want 1", got)
	}
}

func TestSession_SessionsRunConcurrently(t *testing.T) {
	p := newFakePipeline(true)
	m := newManager(p, time.Minute)
	defer m.Close()
	a, b := m.Create(), m.Create()

	var wg sync.WaitGroup
	for _, s := range []*session.Session{a, b} {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			s.Health(context.Background())
		}(s)
	}

	<-p.started
	<-p.started
	close(p.release)
	wg.Wait()

	if got := p.maxActive.Load(); got != 2 {
		t.Errorf("sessions should not block each other: max active %d", got)
	}
}

func TestSession_AbandonedTaskHoldsSlot(t *testing.T) {
	p := newFakePipeline(true)
	p.lag = 100 * time.Millisecond
	m := newManager(p, 20*time.Millisecond)
	defer m.Close()
	s := m.Create()

	first := s.Press(context.Background(), message.ActionD1On)
	second := s.Press(context.Background(), message.ActionD1Off)

	if first.Level != message.LevelError || second.Level != message.LevelError {
		t.Errorf("both presses should time out, got %+v and %+v", first, second)
	}
	if got := p.maxActive.Load(); got != 1 {
		t.Errorf("an interrupted task must keep the session busy until it returns: peak %d", got)
	}
}
