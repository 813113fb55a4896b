package harness

import (
	"context"
	"io"
	"log/slog"

	"github.com/axmq-ax/broker/broker"
	"github.com/axmq-ax/broker/dispatch"
	"github.com/axmq-ax/broker/encoding"
	"github.com/axmq-ax/broker/hook"
	"github.com/axmq-ax/broker/session"
	"github.com/axmq-ax/broker/topic"
	"github.com/axmq-ax/broker/transport"
)

// Model wraps one broker.Broker, its session.Manager and dispatch.Dispatcher,
// all driven through in-memory transport.Pair connections instead of real
// sockets -- the Go re-expression of the source's "ClientSockets" shim
// (Design Note "Monkey-patchable client sockets → Transport trait"). Dial
// opens one simulated client connection and runs its Dispatcher.Serve loop
// in the background, exactly as network/ does for a real accepted socket.
type Model struct {
	Broker   *broker.Broker
	Sessions *session.Manager
	Hooks    *hook.Manager

	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger

	cancel context.CancelFunc
}

// ModelOptions configures a Model; the zero value is a sensible default
// (v5 semantics, no ACL denial, logs discarded).
type ModelOptions struct {
	Logger         *slog.Logger
	DenyTestTopics bool // registers hook.TestTopicACLHook for the conformance-test ACL scenarios
}

// NewModel builds a Model ready for Dial, and starts its broker's sweeper.
func NewModel(ctx context.Context, opts ModelOptions) *Model {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	router := topic.NewRouter()
	retained := topic.NewRetainedManager(nil)

	b := broker.New(broker.Config{
		Router:   router,
		Retained: retained,
		Logger:   opts.Logger,
	})

	// The broker's 1 Hz sweeper fires armed wills; session.Manager is built
	// without a WillPublisher, so its own expiry loop deletes expired sessions
	// without publishing any will.
	sessions := session.NewManager(session.ManagerConfig{
		Store: session.NewMemoryStore(),
	})

	hooks := hook.NewManager()
	if opts.DenyTestTopics {
		_ = hooks.Add(hook.NewTestTopicACLHook())
	}

	d := dispatch.New(dispatch.Config{
		Broker:   b,
		Sessions: sessions,
		Hooks:    hooks,
		Logger:   opts.Logger,
	})

	runCtx, cancel := context.WithCancel(ctx)
	go func() { _ = b.Run(runCtx) }()

	return &Model{
		Broker:     b,
		Sessions:   sessions,
		Hooks:      hooks,
		dispatcher: d,
		logger:     opts.Logger,
		cancel:     cancel,
	}
}

// Dial creates a new simulated client connection, running its
// Dispatcher.Serve loop in the background against an in-memory
// transport.Pair. version picks the wire format Connect/Publish/... encode
// with on this Client.
func (m *Model) Dial(clientID string, version encoding.ProtocolVersion) *Client {
	clientSide, serverSide := transport.NewPair(32)
	c := newClient(clientID, version, clientSide)
	go func() { _ = m.dispatcher.Serve(context.Background(), serverSide) }()
	return c
}

// Stop halts the broker's sweeper.
func (m *Model) Stop() {
	m.cancel()
	m.Broker.Stop()
}
