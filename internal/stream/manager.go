package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/groblegark/hookrelay/internal/backoff"
	"github.com/groblegark/hookrelay/internal/metrics"
)

// State is the connection manager's lifecycle phase.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateSubscribing
	StateLive
	StateFailed
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribing:
		return "subscribing"
	case StateLive:
		return "live"
	case StateFailed:
		return "failed"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// TopicSource yields the desired topic set, consulted once per reconnect
// cycle.
type TopicSource interface {
	ListTopics(ctx context.Context) ([]string, error)
}

// ManagerConfig tunes the connection manager.
type ManagerConfig struct {
	// SubscribeTimeout bounds the wait for subscription acknowledgment.
	SubscribeTimeout time.Duration
	// ReadTimeout is the keep-alive deadline per read; the server heartbeats
	// well inside it, so expiry means the stream is dead.
	ReadTimeout time.Duration
	// Stability is how long a session must stay live before the attempt
	// counter resets to zero.
	Stability time.Duration
}

// Manager keeps exactly one streaming session alive, re-establishing it until
// stopped. Failures never terminate the manager: every failure loops back
// through backoff to a fresh connect. Callers who want to cap total downtime
// must supervise externally (the attempt counter is exposed via metrics for
// exactly that).
type Manager struct {
	transport Transport
	auth      authProvider
	topics    TopicSource
	policy    backoff.Policy
	cfg       ManagerConfig
	metrics   *metrics.Register
	log       *slog.Logger

	// Owned exclusively by the Run goroutine.
	state   State
	attempt int
}

// authProvider matches auth.Provider without importing the package here.
type authProvider interface {
	AuthHeader(ctx context.Context) (string, error)
}

// NewManager wires the manager. All collaborators are required.
func NewManager(t Transport, ap authProvider, ts TopicSource, policy backoff.Policy, cfg ManagerConfig, m *metrics.Register, log *slog.Logger) *Manager {
	return &Manager{
		transport: t,
		auth:      ap,
		topics:    ts,
		policy:    policy,
		cfg:       cfg,
		metrics:   m,
		log:       log,
	}
}

func (m *Manager) setState(s State) {
	m.state = s
	m.metrics.SetConnState(s.String(), m.attempt)
}

// Run drives the session state machine until ctx is cancelled, handing every
// inbound data frame to emit. It always returns nil: failures are recovered
// internally, and cancellation is a graceful close.
func (m *Manager) Run(ctx context.Context, emit func(context.Context, []byte)) error {
	for {
		if ctx.Err() != nil {
			m.setState(StateClosing)
			return nil
		}

		err := m.runSession(ctx, emit)
		if ctx.Err() != nil {
			m.setState(StateClosing)
			return nil
		}

		m.setState(StateFailed)
		m.metrics.SetLastError(err.Error())
		m.metrics.Reconnect()
		delay := m.policy.NextDelay(m.attempt)
		m.attempt++
		m.metrics.SetConnState(StateFailed.String(), m.attempt)
		m.log.Warn("session failed, reconnecting", "error", err, "attempt", m.attempt, "delay", delay)
		if !sleepCtx(ctx, delay) {
			m.setState(StateClosing)
			return nil
		}
	}
}

// runSession performs one full connect/auth/subscribe/read cycle and returns
// the failure that ended it. The session is torn down wholesale on return;
// nothing is reused.
func (m *Manager) runSession(ctx context.Context, emit func(context.Context, []byte)) error {
	// Prime the credential first: the control plane and the data handshake
	// both ride on it, and a credential failure backs off exactly like a
	// handshake failure.
	m.setState(StateAuthenticating)
	if _, err := m.auth.AuthHeader(ctx); err != nil {
		return err
	}

	m.setState(StateConnecting)
	conn, err := m.transport.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Topic set is re-fetched every cycle so changes take effect on the next
	// subscribe phase. Subscriptions never survive a disconnect.
	m.setState(StateSubscribing)
	topics, err := m.topics.ListTopics(ctx)
	if err != nil {
		return &SubscribeError{Err: err}
	}
	subCtx, cancel := context.WithTimeout(ctx, m.cfg.SubscribeTimeout)
	err = conn.Subscribe(subCtx, topics)
	cancel()
	if err != nil {
		return err
	}

	m.setState(StateLive)
	m.metrics.SetLastError("")
	// Session id correlates the live/failure log pair across reconnects.
	sessionID := uuid.NewString()
	m.log.Info("session live", "session", sessionID, "topics", len(topics), "attempt", m.attempt)

	liveSince := time.Now()
	reset := false
	for {
		readCtx, cancel := context.WithTimeout(ctx, m.cfg.ReadTimeout)
		frame, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			// A session that stayed live long enough proves the streak of
			// consecutive failures is over.
			if time.Since(liveSince) >= m.cfg.Stability {
				m.attempt = 0
			}
			m.log.Warn("session read failed", "session", sessionID, "uptime", time.Since(liveSince), "error", err)
			return err
		}
		if !reset && time.Since(liveSince) >= m.cfg.Stability {
			m.attempt = 0
			reset = true
			m.metrics.SetConnState(StateLive.String(), m.attempt)
		}
		emit(ctx, frame)
	}
}

// sleepCtx waits for d, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
