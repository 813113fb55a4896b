// Package broker is the broker core (C6): connect/disconnect lifecycle,
// publish routing across shared and non-shared subscriptions, and the
// background sweeper that fires armed wills once their delay has elapsed
// (the sweeper does not expire disconnected sessions). The teacher repo (axmq-ax) has no equivalent package — it ships
// only the leaf components (codec, topic, session) broker wires together,
// the same way axmq-ax's own leaf packages are wired by a caller outside
// the retrieved pack.
package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/axmq-ax/broker/encoding"
	"github.com/axmq-ax/broker/session"
	"github.com/axmq-ax/broker/topic"
	"github.com/axmq-ax/broker/types/message"
)

// ClientHandle is how broker reaches back out to the connection that owns a
// session: Deliver pushes an outbound application message to the client's
// wire (dispatch/transport-layer concern), Disconnect forcibly closes the
// connection with a reason, for takeover and protocol-error cases broker
// itself decides on.
type ClientHandle struct {
	Session    *session.Session
	Deliver    func(msg *message.Message, sub *topic.Subscription) error
	Disconnect func(reasonCode encoding.ReasonCode, reason string)
}

// willPending is an armed will waiting for its delay to elapse, or for the
// client to reconnect first and cancel it.
type willPending struct {
	clientID string
	will     *session.WillMessage
	fireAt   time.Time
}

// Broker is the broker-wide state spec.md §5 describes as serialized
// through a single lock: ClientTable, the subscription engine, the
// retained store, and WillPendingSet. Go has no re-entrant mutex, so call
// sites are structured to acquire the lock once per inbound packet rather
// than nesting acquisitions (§5's ordering guarantees still hold: the lock
// is held across the whole operation, including outbound sends).
type Broker struct {
	mu sync.Mutex

	clients     map[string]*ClientHandle // ClientTable
	willPending map[string]*willPending  // WillPendingSet

	router   *topic.Router
	retained *topic.RetainedManager

	logger *slog.Logger

	sweepInterval time.Duration
	stopSweep     chan struct{}
}

// Config configures a Broker.
type Config struct {
	Router        *topic.Router
	Retained      *topic.RetainedManager
	Logger        *slog.Logger
	SweepInterval time.Duration // default 1s, per spec.md §4.5's 1 Hz sweeper
}

// New creates a Broker ready to have its sweeper started with Run.
func New(cfg Config) *Broker {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Broker{
		clients:       make(map[string]*ClientHandle),
		willPending:   make(map[string]*willPending),
		router:        cfg.Router,
		retained:      cfg.Retained,
		logger:        cfg.Logger,
		sweepInterval: cfg.SweepInterval,
		stopSweep:     make(chan struct{}),
	}
}

// Run supervises the sweeper goroutine via errgroup, alongside whatever
// per-listener accept loops the caller adds to the same group (cmd/broker
// wires network listeners in beside this). Run blocks until ctx is
// cancelled or the sweeper errors.
func (b *Broker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.sweep(ctx)
	})
	return g.Wait()
}

// Connect registers clientID's connection, taking over (disconnecting)
// any prior live connection for the same clientID and cancelling its armed
// will, per spec.md §4.5 "session taken over." cleanStart clears prior
// session state; otherwise an existing, unexpired session is reattached.
func (b *Broker) Connect(clientID string, handle *ClientHandle, cleanStart bool) (sessionPresent, takenOver bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.clients[clientID]; ok {
		takenOver = true
		if existing.Disconnect != nil {
			existing.Disconnect(encoding.ReasonSessionTakenOver, "session taken over by new connection")
		}
	}
	delete(b.willPending, clientID)

	if cleanStart {
		handle.Session.Clear()
		handle.Session.CleanStart = true
		sessionPresent = false
	} else {
		sessionPresent = handle.Session.GetState() != session.StateNew
	}

	handle.Session.SetActive()
	b.clients[clientID] = handle

	return sessionPresent, takenOver
}

// Disconnect removes clientID from the live ClientTable. If sendWill is
// true and the session carries a will, it fires immediately (delay 0) or
// is armed in WillPendingSet for the sweeper to fire after WillDelayInterval
// seconds, unless the client reconnects first (Connect cancels the arm).
// A normal disconnect (reason code 0, i.e. sendWill false) always
// suppresses the will regardless of delay.
func (b *Broker) Disconnect(clientID string, sendWill bool, sessionExpiryInterval uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handle, ok := b.clients[clientID]
	delete(b.clients, clientID)

	if !ok {
		return
	}

	sess := handle.Session
	sess.SetDisconnected()
	if sessionExpiryInterval > 0 {
		sess.UpdateExpiryInterval(sessionExpiryInterval)
	}

	will := sess.GetWillMessage()
	if !sendWill || will == nil {
		sess.ClearWillMessage()
		return
	}

	delay := sess.WillDelayInterval
	if delay == 0 {
		b.publishLocked(clientID, will.Topic, will.Payload, will.QoS, will.Retain, will.Properties, time.Now())
		sess.ClearWillMessage()
		return
	}

	b.willPending[clientID] = &willPending{
		clientID: clientID,
		will:     will,
		fireAt:   time.Now().Add(time.Duration(delay) * time.Second),
	}
}

// Subscribe adds sub on behalf of clientID and returns the retained
// messages that must be replayed, per sub.RetainHandling: 0 always
// replays, 1 replays only for a brand-new subscription, 2 never replays.
func (b *Broker) Subscribe(ctx context.Context, clientID string, sub *topic.Subscription, isNewSubscription bool) ([]*message.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.router.Subscribe(&topic.Subscription{
		ClientID:               clientID,
		TopicFilter:            sub.TopicFilter,
		QoS:                    sub.QoS,
		NoLocal:                sub.NoLocal,
		RetainAsPublished:      sub.RetainAsPublished,
		RetainHandling:         sub.RetainHandling,
		SubscriptionIdentifier: sub.SubscriptionIdentifier,
	}); err != nil {
		return nil, errors.Wrap(err, "subscribe")
	}

	if sub.RetainHandling == 2 || (sub.RetainHandling == 1 && !isNewSubscription) {
		return nil, nil
	}
	if b.retained == nil {
		return nil, nil
	}

	matches, err := b.retained.Match(ctx, sub.TopicFilter, topic.NewTopicMatcher())
	if err != nil {
		return nil, errors.Wrap(err, "retained match")
	}
	return matches, nil
}

// Unsubscribe removes clientID's subscription to filter, reporting whether
// one existed (spec.md's NoSubscriptionExisted reason when it didn't).
func (b *Broker) Unsubscribe(clientID, filter string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.router.Unsubscribe(clientID, filter)
}

// Publish routes a message from fromClientID to every matching subscriber:
// shared-subscription group selection happens inside the trie's Match
// (one member per group) before the non-shared dedup below, resolving
// spec.md's "group selection occurs BEFORE dedup" Open Question. Each
// recipient is deduplicated by clientID under overlappingSingle and
// receives delivered QoS = min(publishQoS, effectiveQoS).
func (b *Broker) Publish(ctx context.Context, fromClientID, topicName string, payload []byte, qos byte, retain bool, properties map[string]interface{}, receivedTime time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if retain && b.retained != nil {
		if len(payload) == 0 {
			if err := b.retained.Delete(ctx, topicName); err != nil {
				return errors.Wrap(err, "delete retained")
			}
		} else {
			msg := message.NewMessage(0, topicName, payload, encoding.QoS(qos), true, properties)
			if err := b.retained.Set(ctx, topicName, msg); err != nil {
				return errors.Wrap(err, "set retained")
			}
		}
	}

	b.publishLocked(fromClientID, topicName, payload, qos, retain, properties, receivedTime)
	return nil
}

// publishLocked performs delivery fan-out; callers must hold b.mu.
func (b *Broker) publishLocked(fromClientID, topicName string, payload []byte, qos byte, retain bool, properties map[string]interface{}, receivedTime time.Time) {
	matches := b.router.MatchWithPublisher(topicName, fromClientID)

	delivered := make(map[string]bool, len(matches))
	for _, sub := range matches {
		if delivered[sub.ClientID] {
			continue
		}
		delivered[sub.ClientID] = true

		handle, ok := b.clients[sub.ClientID]
		if !ok || handle.Deliver == nil {
			continue
		}

		effective, _ := b.router.EffectiveQoS(sub.ClientID, topicName)
		deliveredQoS := qos
		if effective < deliveredQoS {
			deliveredQoS = effective
		}

		msg := message.NewMessage(0, topicName, payload, encoding.QoS(deliveredQoS), retain && sub.RetainAsPublished, properties)
		msg.CreatedAt = receivedTime
		if msg.IsExpired() {
			continue
		}

		subCopy := &topic.Subscription{
			ClientID:               sub.ClientID,
			TopicFilter:            topicName,
			QoS:                    sub.QoS,
			NoLocal:                sub.NoLocal,
			RetainAsPublished:      sub.RetainAsPublished,
			RetainHandling:         sub.RetainHandling,
			SubscriptionIdentifier: sub.SubscriptionIdentifier,
		}

		if err := handle.Deliver(msg, subCopy); err != nil {
			b.logger.Warn("publish delivery failed", "clientID", sub.ClientID, "topic", topicName, "err", err)
		}
	}
}

// sweep runs the 1 Hz background pass: fires armed wills whose delay has
// elapsed. It does not expire disconnected sessions.
func (b *Broker) sweep(ctx context.Context) error {
	ticker := time.NewTicker(b.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.stopSweep:
			return nil
		case now := <-ticker.C:
			b.sweepOnce(now)
		}
	}
}

func (b *Broker) sweepOnce(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for clientID, pending := range b.willPending {
		if now.Before(pending.fireAt) {
			continue
		}
		b.publishLocked(clientID, pending.will.Topic, pending.will.Payload, pending.will.QoS, pending.will.Retain, pending.will.Properties, now)
		delete(b.willPending, clientID)
	}
}

// Stop halts the sweeper started by Run.
func (b *Broker) Stop() {
	close(b.stopSweep)
}

// IsConnected reports whether clientID currently has a live ClientHandle.
func (b *Broker) IsConnected(clientID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.clients[clientID]
	return ok
}
