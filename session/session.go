package session

import (
	"sync"
	"time"

	"github.com/axmq-ax/broker/topic"
)

// State represents the session state
type State byte

const (
	StateNew          State = iota // Session is newly created
	StateActive                    // Session is active with a connected client
	StateDisconnected              // Session is disconnected but not expired
	StateExpired                   // Session has expired
)

// WillMessage represents the MQTT will message
type WillMessage struct {
	Topic      string
	Payload    []byte
	QoS        byte
	Retain     bool
	Properties map[string]interface{}
}

// Session represents an MQTT session
type Session struct {
	mu sync.RWMutex

	ClientID          string
	CleanStart        bool
	State             State
	ExpiryInterval    uint32 // Session expiry interval in seconds (0 = no expiry for persistent session)
	CreatedAt         time.Time
	LastAccessedAt    time.Time
	DisconnectedAt    time.Time
	WillMessage       *WillMessage
	WillDelayInterval uint32 // Will delay interval in seconds

	// Subscription data
	Subscriptions map[string]*Subscription // topic filter -> subscription

	// QoS message state
	PendingPublish map[uint16]*PendingMessage  // PacketID -> message (QoS 1,2 outbound not acked)
	PendingPubrel  map[uint16]*IncomingPublish // PacketID -> inbound QoS 2 publish awaiting PUBREL
	PendingPubcomp map[uint16]struct{}         // PacketID -> marker (QoS 2 outbound waiting for PUBCOMP)

	// Packet ID generator
	nextPacketID uint16

	// Maximum packet size
	MaxPacketSize uint32

	// Receive maximum (max inflight), peer-advertised via CONNECT properties
	ReceiveMaximum uint16

	// receiveWindow gates how many QoS 1/2 publishes may be outstanding at
	// once; backlog holds what's waiting behind that window so a slow or
	// receive-maximum-limited peer can't be driven past what it advertised.
	receiveWindow int
	backlog       []*PendingMessage

	// Topic aliases (v5): outgoingTopicAliases is this session's view of
	// which alias it has already told the peer maps to which topic;
	// incomingTopicAliasBinding is the peer's alias table as seen by us.
	outgoingTopicAliases     *topic.Alias
	incomingTopicAliasBinding map[uint16]string

	// Protocol version
	ProtocolVersion byte
}

// Subscription represents a topic subscription
type Subscription struct {
	TopicFilter            string
	QoS                    byte
	NoLocal                bool
	RetainAsPublished      bool
	RetainHandling         byte
	SubscriptionIdentifier uint32
	SubscribedAt           time.Time
}

// IncomingPublish holds an inbound QoS 2 publish's content from the moment
// the PUBLISH is received until its matching PUBREL arrives, so broker-side
// publication happens on PUBREL receipt rather than PUBLISH receipt (the
// more compliant of the two behaviours spec.md's "publish_on_pubrel" Open
// Question calls out, and the one this session defaults to).
type IncomingPublish struct {
	Topic      string
	Payload    []byte
	QoS        byte
	Retain     bool
	Properties map[string]interface{}

	// Denied marks a publish that was ACL-rejected but acknowledged with a
	// success PUBREC anyway (the test_qos_1_2_errors_pubcomp conformance
	// topic), so the denial surfaces at PUBCOMP instead: PUBREL must not
	// trigger publication for it.
	Denied bool
}

// PendingMessage represents a message waiting for acknowledgment
type PendingMessage struct {
	PacketID   uint16
	Topic      string
	Payload    []byte
	QoS        byte
	Retain     bool
	DUP        bool
	Properties map[string]interface{}
	Timestamp  time.Time
}

// New creates a new session
func New(clientID string, cleanStart bool, expiryInterval uint32, protocolVersion byte) *Session {
	now := time.Now()
	return &Session{
		ClientID:                  clientID,
		CleanStart:                cleanStart,
		State:                     StateNew,
		ExpiryInterval:            expiryInterval,
		CreatedAt:                 now,
		LastAccessedAt:            now,
		Subscriptions:             make(map[string]*Subscription),
		PendingPublish:            make(map[uint16]*PendingMessage),
		PendingPubrel:             make(map[uint16]*IncomingPublish),
		PendingPubcomp:            make(map[uint16]struct{}),
		nextPacketID:              1,
		ReceiveMaximum:            65535, // Default maximum
		receiveWindow:             65535,
		outgoingTopicAliases:      topic.NewTopicAlias(65535),
		incomingTopicAliasBinding: make(map[uint16]string),
		ProtocolVersion:           protocolVersion,
	}
}

// SetReceiveMaximum applies the peer-advertised Receive Maximum, shrinking
// the outbound window to match so we never have more QoS 1/2 publishes
// inflight than the peer said it could track.
func (s *Session) SetReceiveMaximum(max uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReceiveMaximum = max
	s.receiveWindow = int(max)
}

// TryAcquireWindow reports whether an outbound QoS 1/2 publish may be sent
// immediately. If the window is exhausted, msg is queued to backlog and the
// caller should not send yet; it will be released by ReleaseWindow.
func (s *Session) TryAcquireWindow(msg *PendingMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	inflight := len(s.PendingPublish)
	if inflight >= s.receiveWindow {
		s.backlog = append(s.backlog, msg)
		return false
	}
	return true
}

// ReleaseWindow is called when an inflight QoS 1/2 publish completes
// (PUBACK, or PUBCOMP for QoS 2), returning the next backlogged message to
// send, if any.
func (s *Session) ReleaseWindow() (*PendingMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.backlog) == 0 {
		return nil, false
	}
	msg := s.backlog[0]
	s.backlog = s.backlog[1:]
	return msg, true
}

// BacklogLen returns the number of publishes waiting behind the receive
// window.
func (s *Session) BacklogLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.backlog)
}

// SetOutgoingAlias registers that alias now stands for topic in what we
// send this peer. Returns false if alias is out of range.
func (s *Session) SetOutgoingAlias(alias uint16, topicName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outgoingTopicAliases.Set(alias, topicName)
}

// OutgoingAlias returns the topic previously bound to alias for this peer,
// if any.
func (s *Session) OutgoingAlias(alias uint16) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outgoingTopicAliases.Get(alias)
}

// BindIncomingAlias records that the peer has told us alias maps to
// topicName, for use on subsequent Publish packets that carry the alias
// but no topic name.
func (s *Session) BindIncomingAlias(alias uint16, topicName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incomingTopicAliasBinding[alias] = topicName
}

// ResolveIncomingAlias returns the topic bound to alias by a prior Publish
// from the peer.
func (s *Session) ResolveIncomingAlias(alias uint16) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	topicName, ok := s.incomingTopicAliasBinding[alias]
	return topicName, ok
}

// SetActive marks the session as active
func (s *Session) SetActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = StateActive
	s.LastAccessedAt = time.Now()
}

// SetDisconnected marks the session as disconnected
func (s *Session) SetDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = StateDisconnected
	s.DisconnectedAt = time.Now()
}

// SetExpired marks the session as expired
func (s *Session) SetExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = StateExpired
}

// IsExpired checks if the session has expired
func (s *Session) IsExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ExpiryInterval == 0 && !s.CleanStart {
		return false // Persistent session with no expiry
	}

	if s.State == StateDisconnected && s.ExpiryInterval > 0 {
		return time.Since(s.DisconnectedAt) > time.Duration(s.ExpiryInterval)*time.Second
	}

	return s.State == StateExpired
}

// Touch updates the last accessed time
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastAccessedAt = time.Now()
}

// SetWillMessage sets the will message for the session
func (s *Session) SetWillMessage(will *WillMessage, delayInterval uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WillMessage = will
	s.WillDelayInterval = delayInterval
}

// ClearWillMessage clears the will message
func (s *Session) ClearWillMessage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WillMessage = nil
}

// GetWillMessage returns the will message if present
func (s *Session) GetWillMessage() *WillMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.WillMessage
}

// ShouldPublishWill checks if will message should be published
func (s *Session) ShouldPublishWill() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.WillMessage == nil {
		return false
	}

	if s.WillDelayInterval == 0 {
		return true
	}

	return time.Since(s.DisconnectedAt) >= time.Duration(s.WillDelayInterval)*time.Second
}

// AddSubscription adds a subscription to the session
func (s *Session) AddSubscription(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Subscriptions[sub.TopicFilter] = sub
}

// RemoveSubscription removes a subscription from the session
func (s *Session) RemoveSubscription(topicFilter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Subscriptions, topicFilter)
}

// GetSubscription returns a subscription by topic filter
func (s *Session) GetSubscription(topicFilter string) (*Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.Subscriptions[topicFilter]
	return sub, ok
}

// GetAllSubscriptions returns all subscriptions
func (s *Session) GetAllSubscriptions() map[string]*Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs := make(map[string]*Subscription, len(s.Subscriptions))
	for k, v := range s.Subscriptions {
		subs[k] = v
	}
	return subs
}

// ClearSubscriptions removes all subscriptions
func (s *Session) ClearSubscriptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Subscriptions = make(map[string]*Subscription)
}

// NextPacketID generates the next packet ID
func (s *Session) NextPacketID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		id := s.nextPacketID
		s.nextPacketID++
		if s.nextPacketID == 0 {
			s.nextPacketID = 1
		}

		// Check if ID is already in use
		if _, ok := s.PendingPublish[id]; !ok {
			if _, ok := s.PendingPubrel[id]; !ok {
				if _, ok := s.PendingPubcomp[id]; !ok {
					return id
				}
			}
		}
	}
}

// AddPendingPublish adds a pending publish message
func (s *Session) AddPendingPublish(msg *PendingMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingPublish[msg.PacketID] = msg
}

// RemovePendingPublish removes a pending publish message
func (s *Session) RemovePendingPublish(packetID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.PendingPublish, packetID)
}

// GetPendingPublish returns a pending publish message
func (s *Session) GetPendingPublish(packetID uint16) (*PendingMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.PendingPublish[packetID]
	return msg, ok
}

// GetAllPendingPublish returns all pending publish messages
func (s *Session) GetAllPendingPublish() map[uint16]*PendingMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make(map[uint16]*PendingMessage, len(s.PendingPublish))
	for k, v := range s.PendingPublish {
		msgs[k] = v
	}
	return msgs
}

// AddPendingPubrel records an inbound QoS 2 publish awaiting its PUBREL.
func (s *Session) AddPendingPubrel(packetID uint16, pub *IncomingPublish) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingPubrel[packetID] = pub
}

// RemovePendingPubrel removes a pending PUBREL marker.
func (s *Session) RemovePendingPubrel(packetID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.PendingPubrel, packetID)
}

// HasPendingPubrel checks if a PUBREL is pending
func (s *Session) HasPendingPubrel(packetID uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.PendingPubrel[packetID]
	return ok
}

// GetPendingPubrel returns the inbound publish recorded for packetID, if any.
func (s *Session) GetPendingPubrel(packetID uint16) (*IncomingPublish, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pub, ok := s.PendingPubrel[packetID]
	return pub, ok
}

// AddPendingPubcomp adds a pending PUBCOMP marker
func (s *Session) AddPendingPubcomp(packetID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingPubcomp[packetID] = struct{}{}
}

// RemovePendingPubcomp removes a pending PUBCOMP marker
func (s *Session) RemovePendingPubcomp(packetID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.PendingPubcomp, packetID)
}

// HasPendingPubcomp checks if a PUBCOMP is pending
func (s *Session) HasPendingPubcomp(packetID uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.PendingPubcomp[packetID]
	return ok
}

// ResendOnReconnect returns every QoS 1/2 publish still awaiting
// acknowledgment, with DUP set, plus the packet IDs of QoS 2 exchanges
// already past PUBREL (PendingPubcomp) that must be re-sent as PUBREL
// rather than re-published. DUP is set here, after the original
// serialization, not baked into storage, so a message that was never
// actually put on the wire the first time doesn't carry a stale DUP bit.
func (s *Session) ResendOnReconnect() (publishes []*PendingMessage, pubrels []uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.PendingPublish {
		msg.DUP = true
		publishes = append(publishes, msg)
	}
	for id := range s.PendingPubcomp {
		pubrels = append(pubrels, id)
	}
	return publishes, pubrels
}

// Clear clears all session data
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Subscriptions = make(map[string]*Subscription)
	s.PendingPublish = make(map[uint16]*PendingMessage)
	s.PendingPubrel = make(map[uint16]*IncomingPublish)
	s.PendingPubcomp = make(map[uint16]struct{})
	s.WillMessage = nil
	s.backlog = nil
	s.outgoingTopicAliases.Clear()
	s.incomingTopicAliasBinding = make(map[uint16]string)
}

// GetState returns the current state
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

// GetClientID returns the client ID
func (s *Session) GetClientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ClientID
}

// GetCleanStart returns the clean start flag
func (s *Session) GetCleanStart() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CleanStart
}

// GetExpiryInterval returns the expiry interval
func (s *Session) GetExpiryInterval() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ExpiryInterval
}

// UpdateExpiryInterval updates the session expiry interval
func (s *Session) UpdateExpiryInterval(interval uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ExpiryInterval = interval
}
