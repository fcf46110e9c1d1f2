package mqttpub

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kelvinhq/panelmon/internal/packets"
)

// ExternalPublisher is a minimal MQTT 3.1.1 client used only to publish
// telemetry to an external broker (mqtt.type=external, spec.md §6). It
// mirrors the teacher's Client in shape — a pending-ack map keyed by packet
// identifier, an options pattern — trimmed to the one operation this mode
// needs: publish at QoS 0 or 1, with automatic reconnect. Connection state
// is guarded by a mutex; a monitor goroutine reads acknowledgements and
// reconnects. Subscribing and receiving are out of scope.
type ExternalPublisher struct {
	addr      string
	clientID  string
	username  string
	password  string
	keepAlive time.Duration
	logger    *slog.Logger

	mu           sync.Mutex
	conn         net.Conn
	connected    bool
	nextPacketID uint16
	pending      map[uint16]chan error

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ExternalOption configures an ExternalPublisher at construction time.
type ExternalOption func(*ExternalPublisher)

// WithExternalCredentials sets the username/password presented at CONNECT.
func WithExternalCredentials(username, password string) ExternalOption {
	return func(p *ExternalPublisher) {
		p.username = username
		p.password = password
	}
}

// WithExternalKeepAlive sets the keep-alive interval negotiated at CONNECT.
func WithExternalKeepAlive(d time.Duration) ExternalOption {
	return func(p *ExternalPublisher) { p.keepAlive = d }
}

// WithExternalLogger overrides the default discarding logger.
func WithExternalLogger(logger *slog.Logger) ExternalOption {
	return func(p *ExternalPublisher) { p.logger = logger }
}

// NewExternalPublisher constructs a client targeting addr ("host:port")
// with the given client identifier.
func NewExternalPublisher(addr, clientID string, opts ...ExternalOption) *ExternalPublisher {
	p := &ExternalPublisher{
		addr:      addr,
		clientID:  clientID,
		keepAlive: 60 * time.Second,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		pending:   make(map[uint16]chan error),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start performs the initial connect, retrying with exponential backoff
// (spec.md §9 Open Question decision: 1s→30s with jitter, forever) until ctx
// is cancelled, the connection succeeds, or the broker refuses the CONNECT
// (a non-zero CONNACK return code ends the retries). Once connected, a background
// goroutine keeps the connection alive and reconnects on failure using the
// same policy.
func (p *ExternalPublisher) Start(ctx context.Context) error {
	if err := p.connectWithBackoff(ctx); err != nil {
		return err
	}

	p.wg.Add(1)
	go p.monitor(ctx)
	return nil
}

// monitor runs the read loop until it fails, then reconnects with backoff,
// repeating until Stop is called.
func (p *ExternalPublisher) monitor(ctx context.Context) {
	defer p.wg.Done()

	for {
		p.readLoop()

		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := p.connectWithBackoff(ctx); err != nil {
			return
		}
	}
}

func (p *ExternalPublisher) connectWithBackoff(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 1 * time.Second
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0 // retry forever; only ctx cancellation or Stop ends the attempt

	return backoff.Retry(func() error {
		select {
		case <-p.stop:
			return backoff.Permanent(fmt.Errorf("publisher stopped"))
		default:
		}
		return p.connectOnce(ctx)
	}, backoff.WithContext(policy, ctx))
}

func (p *ExternalPublisher) connectOnce(ctx context.Context) error {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.addr, err)
	}

	connect := &packets.ConnectPacket{
		ProtocolName: "MQTT", ProtocolLevel: 4,
		CleanSession: true, ClientID: p.clientID,
		KeepAlive: uint16(p.keepAlive / time.Second),
	}
	if p.username != "" {
		connect.UsernameFlag = true
		connect.Username = p.username
		if p.password != "" {
			connect.PasswordFlag = true
			connect.Password = p.password
		}
	}

	if _, err := connect.WriteTo(conn); err != nil {
		_ = conn.Close()
		return fmt.Errorf("writing CONNECT: %w", err)
	}

	pkt, err := packets.ReadPacket(bufio.NewReader(conn), 0)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("reading CONNACK: %w", err)
	}
	ack, ok := pkt.(*packets.ConnackPacket)
	if !ok {
		_ = conn.Close()
		return fmt.Errorf("expected CONNACK, got %T", pkt)
	}
	if ack.ReturnCode != packets.ConnAccepted {
		_ = conn.Close()
		return backoff.Permanent(fmt.Errorf("connect refused with return code %d", ack.ReturnCode))
	}

	p.mu.Lock()
	p.conn = conn
	p.connected = true
	p.mu.Unlock()

	p.logger.Info("connected to external broker", "addr", p.addr, "client_id", p.clientID)
	return nil
}

// readLoop decodes PUBACK/PINGRESP off the wire and resolves the matching
// pending publish. Returns when the connection fails.
func (p *ExternalPublisher) readLoop() {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return
	}

	br := bufio.NewReader(conn)
	for {
		pkt, err := packets.ReadPacket(br, 0)
		if err != nil {
			p.disconnect(err)
			return
		}

		if ack, ok := pkt.(*packets.PubackPacket); ok {
			p.mu.Lock()
			ch, found := p.pending[ack.PacketID]
			if found {
				delete(p.pending, ack.PacketID)
			}
			p.mu.Unlock()
			if found {
				ch <- nil
			}
		}
	}
}

func (p *ExternalPublisher) disconnect(cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.connected = false
	for id, ch := range p.pending {
		ch <- fmt.Errorf("connection lost: %w", cause)
		delete(p.pending, id)
	}
}

// Publish sends topic/payload at qos (0 or 1). At QoS 1 it blocks for the
// matching PUBACK or until ctx is done. Publishing while disconnected fails
// fast: the background monitor is responsible for reconnecting, and the
// caller (the Scheduler) treats publish failure as non-fatal (spec §7).
func (p *ExternalPublisher) Publish(ctx context.Context, topic string, payload []byte, qos uint8, retain bool) error {
	p.mu.Lock()
	if !p.connected || p.conn == nil {
		p.mu.Unlock()
		return fmt.Errorf("not connected to external broker")
	}
	conn := p.conn

	pkt := &packets.PublishPacket{Topic: topic, Payload: payload, QoS: qos, Retain: retain}

	var waitCh chan error
	if qos == packets.QoS1 {
		pkt.PacketID = p.allocatePacketIDLocked()
		waitCh = make(chan error, 1)
		p.pending[pkt.PacketID] = waitCh
	}
	p.mu.Unlock()

	if _, err := pkt.WriteTo(conn); err != nil {
		p.disconnect(err)
		return fmt.Errorf("writing PUBLISH: %w", err)
	}

	if waitCh == nil {
		return nil
	}

	select {
	case err := <-waitCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *ExternalPublisher) allocatePacketIDLocked() uint16 {
	for {
		p.nextPacketID++
		if p.nextPacketID == 0 {
			p.nextPacketID = 1
		}
		if _, inUse := p.pending[p.nextPacketID]; !inUse {
			return p.nextPacketID
		}
	}
}

// Stop closes the connection and halts the reconnect monitor.
func (p *ExternalPublisher) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.mu.Lock()
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.mu.Unlock()
	p.wg.Wait()
}
