package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
)

type fakeSession struct {
	msgs   chan Message
	once   sync.Once
	closed atomic.Bool

	mu         sync.Mutex
	subscribed []string
	published  []Message
	publishErr error
}

func newFakeSession() *fakeSession {
	return &fakeSession{msgs: make(chan Message, 16)}
}

func (s *fakeSession) Messages() <-chan Message { return s.msgs }

func (s *fakeSession) Subscribe(names ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = append(s.subscribed, names...)
	return nil
}

func (s *fakeSession) Publish(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishErr != nil {
		return s.publishErr
	}
	s.published = append(s.published, msg)
	return nil
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	s.drop()
	return nil
}

func (s *fakeSession) drop() {
	s.once.Do(func() { close(s.msgs) })
}

func (s *fakeSession) deliver(name string, body any) {
	raw, _ := json.Marshal(body)
	s.msgs <- Message{Name: name, Body: raw}
}

func (s *fakeSession) Subscribed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscribed...)
}

func (s *fakeSession) Published(name string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.published {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

type fakeTransport struct {
	mu         sync.Mutex
	failAll    error
	errs       []error
	sessions   []*fakeSession
	handshakes []Handshake
}

func (f *fakeTransport) Dial(_ context.Context, hs Handshake) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handshakes = append(f.handshakes, hs)
	if f.failAll != nil {
		return nil, f.failAll
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	s := newFakeSession()
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeTransport) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handshakes)
}

func (f *fakeTransport) Session(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.sessions) {
		return nil
	}
	return f.sessions[i]
}

func (f *fakeTransport) Sessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// recorder collects connection events from the hub goroutine
type recorder struct {
	mu     sync.Mutex
	events []ConnectionEvent
}

func (r *recorder) handle(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *e.Connection)
	return nil
}

func (r *recorder) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Status
	}
	return out
}

func (r *recorder) last() ConnectionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return ConnectionEvent{}
	}
	return r.events[len(r.events)-1]
}

var errRefused = errors.New("dial tcp: connection refused")
