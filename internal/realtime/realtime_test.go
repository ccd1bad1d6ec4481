package realtime

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"
)

type recordedEvent struct {
	Event   string
	Payload any
}

type fakeSession struct {
	id     string
	userID string

	mu     sync.Mutex
	events []recordedEvent
	closed bool
	fail   error
}

func newFakeSession(userID, id string) *fakeSession {
	return &fakeSession{id: id, userID: userID}
}

func (f *fakeSession) ID() string     { return f.id }
func (f *fakeSession) UserID() string { return f.userID }

func (f *fakeSession) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.events = append(f.events, recordedEvent{Event: event, Payload: payload})
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) eventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.events))
	for i, e := range f.events {
		names[i] = e.Event
	}
	return names
}

func TestRegistryReplacesSessionOnReconnect(t *testing.T) {
	r := NewRegistry()
	first := newFakeSession("a", "s1")
	second := newFakeSession("a", "s2")

	r.Register("a", first)
	if prev := r.Register("a", second); prev == nil || prev.ID() != "s1" {
		t.Fatalf("expected s1 to be replaced, got %v", prev)
	}

	if r.UnregisterSession("a", "s1") {
		t.Fatal("stale session must not unregister its replacement")
	}
	sessions := r.SessionsFor([]string{"a"})
	if len(sessions) != 1 || sessions[0].ID() != "s2" {
		t.Fatalf("expected s2 to remain, got %v", sessions)
	}
}

func TestRegistrySessionsForSkipsOffline(t *testing.T) {
	r := NewRegistry()
	r.Register("a", newFakeSession("a", "s1"))

	sessions := r.SessionsFor([]string{"a", "b", "a"})
	if len(sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(sessions))
	}
}

func TestRegistryNeverReturnsUnregisteredUsers(t *testing.T) {
	r := NewRegistry()
	rng := rand.New(rand.NewSource(7))
	users := []string{"a", "b", "c", "d"}
	last := map[string]bool{}

	for i := 0; i < 500; i++ {
		u := users[rng.Intn(len(users))]
		if rng.Intn(2) == 0 {
			r.Register(u, newFakeSession(u, fmt.Sprintf("%s-%d", u, i)))
			last[u] = true
		} else {
			r.Unregister(u)
			last[u] = false
		}
	}

	for _, s := range r.SessionsFor(users) {
		if !last[s.UserID()] {
			t.Fatalf("session returned for unregistered user %s", s.UserID())
		}
	}
	for u, online := range last {
		if _, ok := r.SessionFor(u); ok != online {
			t.Fatalf("user %s: registered=%v want %v", u, ok, online)
		}
	}
}

func TestPresenceSnapshotMatchesLastOperation(t *testing.T) {
	p := NewPresence()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("u%02d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.MarkOnline(id)
			p.MarkOffline(id)
			if id[len(id)-1]%2 == 0 {
				p.MarkOnline(id)
			}
		}()
	}
	wg.Wait()

	online := p.AllOnline()
	if len(online) != 25 {
		t.Fatalf("expected 25 online users, got %d", len(online))
	}
	for _, id := range online {
		if id[len(id)-1]%2 != 0 {
			t.Fatalf("unexpected online user %s", id)
		}
	}
}

func TestBroadcasterOrdersAlertAfterMessage(t *testing.T) {
	r := NewRegistry()
	p := NewPresence()
	b := NewBroadcaster(r, p, nil)

	a := newFakeSession("a", "sa")
	bb := newFakeSession("b", "sb")
	r.Register("a", a)
	r.Register("b", bb)

	members := []string{"a", "b", "offline"}
	b.Publish(EventNewMessage, members, map[string]string{"chatId": "c1"})
	b.Publish(EventMessageAlert, members, ChatRef{ChatID: "c1"})

	for _, s := range []*fakeSession{a, bb} {
		got := s.eventNames()
		if len(got) != 2 || got[0] != EventNewMessage || got[1] != EventMessageAlert {
			t.Fatalf("session %s got %v", s.ID(), got)
		}
	}
}

func TestBroadcasterSwallowsSessionErrors(t *testing.T) {
	r := NewRegistry()
	b := NewBroadcaster(r, NewPresence(), nil)

	broken := newFakeSession("a", "sa")
	broken.fail = ErrSessionClosed
	ok := newFakeSession("b", "sb")
	r.Register("a", broken)
	r.Register("b", ok)

	b.Publish(EventTypingStart, []string{"a", "b"}, ChatRef{ChatID: "c1"})
	if got := ok.eventNames(); len(got) != 1 {
		t.Fatalf("healthy session should still receive the event, got %v", got)
	}
}

func TestBroadcasterPresenceSnapshot(t *testing.T) {
	r := NewRegistry()
	p := NewPresence()
	b := NewBroadcaster(r, p, nil)

	a := newFakeSession("a", "sa")
	r.Register("a", a)
	p.MarkOnline("a")
	p.MarkOnline("b")

	b.PublishPresenceToOnline()

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.events) != 1 || a.events[0].Event != EventPresence {
		t.Fatalf("unexpected events: %+v", a.events)
	}
	snapshot, _ := a.events[0].Payload.([]string)
	if len(snapshot) != 2 || snapshot[0] != "a" || snapshot[1] != "b" {
		t.Fatalf("unexpected snapshot: %v", snapshot)
	}
}

type fakeRelay struct {
	id  string
	got chan RelayEnvelope
}

func (f *fakeRelay) InstanceID() string { return f.id }

func (f *fakeRelay) Publish(_ context.Context, env RelayEnvelope) error {
	f.got <- env
	return nil
}

func TestBroadcasterRelaysAndIgnoresOwnEcho(t *testing.T) {
	r := NewRegistry()
	b := NewBroadcaster(r, NewPresence(), nil)
	relay := &fakeRelay{id: "node-1", got: make(chan RelayEnvelope, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.SetRelay(ctx, relay)

	a := newFakeSession("a", "sa")
	r.Register("a", a)

	b.Publish(EventChatListRefresh, []string{"a"}, []string{"a"})
	env := <-relay.got
	if env.Origin != "node-1" || env.Event != EventChatListRefresh {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	b.DeliverRemote(env)
	if got := a.eventNames(); len(got) != 1 {
		t.Fatalf("own echo must be ignored, got %v", got)
	}

	env.Origin = "node-2"
	b.DeliverRemote(env)
	if got := a.eventNames(); len(got) != 2 {
		t.Fatalf("remote envelope should be delivered, got %v", got)
	}
}

func TestBroadcasterRelayKeepsOrder(t *testing.T) {
	b := NewBroadcaster(NewRegistry(), NewPresence(), nil)
	relay := &fakeRelay{id: "node-1", got: make(chan RelayEnvelope, 16)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.SetRelay(ctx, relay)

	for i := 0; i < 5; i++ {
		b.Publish(EventNewMessage, []string{"x"}, ChatRef{ChatID: "c"})
		b.Publish(EventMessageAlert, []string{"x"}, ChatRef{ChatID: "c"})
	}
	for i := 0; i < 10; i++ {
		want := EventNewMessage
		if i%2 == 1 {
			want = EventMessageAlert
		}
		select {
		case env := <-relay.got:
			if env.Event != want {
				t.Fatalf("envelope %d: got %s want %s", i, env.Event, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for envelope %d", i)
		}
	}
}

func TestSendToSingleUser(t *testing.T) {
	r := NewRegistry()
	b := NewBroadcaster(r, NewPresence(), nil)
	a := newFakeSession("a", "sa")
	r.Register("a", a)

	b.SendTo("a", EventError, ErrorPayload{Message: "nope"})
	if got := a.eventNames(); len(got) != 1 || got[0] != EventError {
		t.Fatalf("unexpected events: %v", got)
	}
}
