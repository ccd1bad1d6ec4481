package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/tavern-chat/backend/internal/metrics"
)

var log = logrus.WithField("component", "realtime")

// RelayEnvelope is a broadcast forwarded to other processes.
type RelayEnvelope struct {
	Event   string          `json:"event"`
	Members []string        `json:"members"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Origin  string          `json:"origin"`
}

// Relay forwards broadcasts to other instances sharing the same members.
type Relay interface {
	Publish(ctx context.Context, env RelayEnvelope) error
	InstanceID() string
}

const relayQueueSize = 1024

// Broadcaster fans events out to the live sessions of a member set.
// Delivery is fire-and-forget: errors are logged, never returned.
type Broadcaster struct {
	registry *Registry
	presence *Presence
	metrics  *metrics.Metrics
	relay    Relay
	relayCh  chan RelayEnvelope
}

// NewBroadcaster wires a broadcaster to the registry and presence set.
func NewBroadcaster(registry *Registry, presence *Presence, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{registry: registry, presence: presence, metrics: m}
}

// SetRelay enables cross-instance forwarding until ctx is done. It must be
// called before the broadcaster is shared. Envelopes are forwarded by one
// goroutine so remote members see the local publish order.
func (b *Broadcaster) SetRelay(ctx context.Context, relay Relay) {
	b.relay = relay
	b.relayCh = make(chan RelayEnvelope, relayQueueSize)
	go b.relayLoop(ctx)
}

func (b *Broadcaster) relayLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-b.relayCh:
			publishCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			if err := b.relay.Publish(publishCtx, env); err != nil {
				log.WithError(err).WithField("event", env.Event).Warn("relay publish failed")
			}
			cancel()
		}
	}
}

// Publish delivers payload as event to every connected member. Calls made
// in sequence from one goroutine reach each member in that sequence.
func (b *Broadcaster) Publish(event string, memberIDs []string, payload any) {
	b.deliver(event, memberIDs, payload)

	if b.relay == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).WithField("event", event).Warn("relay marshal failed")
		return
	}
	env := RelayEnvelope{Event: event, Members: memberIDs, Payload: raw, Origin: b.relay.InstanceID()}
	select {
	case b.relayCh <- env:
	default:
		b.metrics.EventDropped(event)
		log.WithField("event", event).Warn("relay queue full, envelope dropped")
	}
}

// PublishPresence sends the full online snapshot to memberIDs.
func (b *Broadcaster) PublishPresence(memberIDs []string) {
	b.Publish(EventPresence, memberIDs, b.presence.AllOnline())
}

// PublishPresenceToOnline sends the online snapshot to every online user.
func (b *Broadcaster) PublishPresenceToOnline() {
	online := b.presence.AllOnline()
	b.Publish(EventPresence, online, online)
}

// SendTo delivers an event to one user without relaying, used for errors.
func (b *Broadcaster) SendTo(userID, event string, payload any) {
	b.deliver(event, []string{userID}, payload)
}

// DeliverRemote hands a relayed envelope to local sessions only.
func (b *Broadcaster) DeliverRemote(env RelayEnvelope) {
	if b.relay != nil && env.Origin == b.relay.InstanceID() {
		return
	}
	b.deliver(env.Event, env.Members, env.Payload)
}

func (b *Broadcaster) deliver(event string, memberIDs []string, payload any) {
	for _, s := range b.registry.SessionsFor(memberIDs) {
		if err := s.Send(event, payload); err != nil {
			b.metrics.EventDropped(event)
			log.WithFields(logrus.Fields{
				"event":      event,
				"user_id":    s.UserID(),
				"session_id": s.ID(),
			}).WithError(err).Warn("skip session")
			continue
		}
		b.metrics.EventDelivered(event)
	}
}
