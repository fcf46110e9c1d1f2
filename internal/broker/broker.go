package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kelvinhq/panelmon/internal/packets"
)

// Broker owns the TCP listener, the set of live Sessions, and the Topic
// Router (spec §4.4). It accepts new connections, resolves client-identifier
// take-over, and is the entry point the Scheduler uses to publish telemetry.
type Broker struct {
	opts   *options
	logger *slog.Logger
	router *Router

	listener net.Listener

	mu       sync.Mutex
	sessions map[string]*Session // clientID -> Session, Connected only

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Broker. Call Start to begin accepting connections.
func New(opts ...Option) *Broker {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Broker{
		opts:     o,
		logger:   o.Logger,
		router:   NewRouter(),
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
}

// Router exposes the Broker's Topic Router, mainly for tests.
func (b *Broker) Router() *Router {
	return b.router
}

// Addr returns the listener's bound address. Only valid after Start
// returns; mainly useful when Start was called with ":0" or "host:0" and
// the caller needs the ephemeral port that was actually assigned.
func (b *Broker) Addr() string {
	return b.listener.Addr().String()
}

// Start binds addr and begins accepting connections; each accepted socket
// becomes a Session served on its own goroutines. Start returns once the
// listener is bound; accept runs in the background.
func (b *Broker) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &Error{Kind: ErrBind, Cause: err, Message: fmt.Sprintf("listen on %s", addr)}
	}
	b.listener = ln
	b.logger.Info("broker listening", "addr", ln.Addr().String())

	b.wg.Add(1)
	go b.acceptLoop()
	return nil
}

func (b *Broker) acceptLoop() {
	defer b.wg.Done()

	for {
		conn, err := b.listener.Accept()
		if err != nil {
			select {
			case <-b.stop:
				return
			default:
				b.logger.Debug("accept error", "error", err)
				return
			}
		}

		session := newSession(b, conn)
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			session.serve()
		}()
	}
}

// Stop closes the listener, signals every Session to wind down, and waits up
// to the configured shutdown deadline before returning. This is the single
// cancellation root for the Broker (spec §5).
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })

	if b.listener != nil {
		_ = b.listener.Close()
	}

	b.mu.Lock()
	sessions := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		s.closeWith(fmt.Errorf("broker shutting down"))
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(b.opts.ShutdownTimeout):
		b.logger.Warn("shutdown deadline exceeded, not waiting for remaining sessions", "timeout", b.opts.ShutdownTimeout)
	}
}

// Publish routes a message to every matching subscriber, exactly as an
// inbound PUBLISH from a Session would. This is the entry point the
// Scheduler uses to hand off the assembled telemetry payload (spec §4.4).
func (b *Broker) Publish(ctx context.Context, topic string, payload []byte, qos uint8, retain bool) error {
	if err := validateTopicName(topic); err != nil {
		return err
	}
	if err := validatePayload(payload); err != nil {
		return err
	}
	b.dispatch(topic, payload, qos, retain)
	return nil
}

// publishFromSession is the same routing path, used for an inbound PUBLISH
// received from a connected client.
func (b *Broker) publishFromSession(topic string, payload []byte, qos uint8, retain bool) {
	b.dispatch(topic, payload, qos, retain)
}

func (b *Broker) dispatch(topic string, payload []byte, qos uint8, retain bool) {
	if retain {
		b.router.StoreRetained(topic, payload, qos)
	}

	for _, sub := range b.router.Match(topic) {
		effectiveQoS := qos
		if sub.QoS < effectiveQoS {
			effectiveQoS = sub.QoS
		}
		sub.Session.Publish(topic, payload, effectiveQoS, retain)
	}
}

// validateConnect checks protocol name/level, client-id rules, and optional
// credentials, returning the CONNACK return code to send (ConnAccepted on
// success). It also assigns a client ID via google/uuid when the client sent
// an empty one with CleanSession set, per spec §3's Session identity rule.
func (b *Broker) validateConnect(c *packets.ConnectPacket) (uint8, error) {
	if c.ProtocolName != "MQTT" || c.ProtocolLevel != 4 {
		return packets.ConnRefusedUnacceptableProtocol, nil
	}

	if c.ClientID == "" {
		if !c.CleanSession {
			return packets.ConnRefusedIdentifierRejected, nil
		}
		c.ClientID = uuid.NewString()
	}

	if b.opts.Username != "" {
		if !c.UsernameFlag || c.Username != b.opts.Username || c.Password != b.opts.Password {
			return packets.ConnRefusedBadUsernameOrPassword, nil
		}
	}

	return packets.ConnAccepted, nil
}

// registerSession inserts s into the live-session table, keyed by client ID.
// A CONNECT reusing an identifier currently Connected forcibly closes the
// prior Session before the new one proceeds (take-over, spec §4.2).
// sessionPresent is always false: every session is treated as clean (spec
// §9 Open Question decision).
func (b *Broker) registerSession(s *Session) (sessionPresent bool) {
	b.mu.Lock()
	existing, ok := b.sessions[s.clientID]
	b.sessions[s.clientID] = s
	b.mu.Unlock()

	if ok && existing != s {
		b.logger.Info("client identifier taken over", "client_id", s.clientID)
		existing.closeWith(ErrTakenOver)
		existing.wg.Wait()
	}

	return false
}

// removeSession drops s from the live-session table (only if it is still
// the current holder of its client ID) and from the Router.
func (b *Broker) removeSession(s *Session) {
	b.mu.Lock()
	if current, ok := b.sessions[s.clientID]; ok && current == s {
		delete(b.sessions, s.clientID)
	}
	b.mu.Unlock()

	b.router.RemoveSession(s)
}
