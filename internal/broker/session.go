package broker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kelvinhq/panelmon/internal/packets"
)

// SessionState is one of the four states a Session moves through over its
// lifetime (spec §4.2).
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateConnected
	StateDisconnecting
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// outboundQueueSize bounds each Session's outbound channel; this is the
// backpressure mechanism spec §5 requires (bounded queue, not unbounded
// buffering or blocking the publisher indefinitely).
const outboundQueueSize = 256

// pubackDeadline is how long a QoS 1 delivery waits for PUBACK before it is
// retransmitted with DUP=1.
const pubackDeadline = 5 * time.Second

// maxPublishRetries bounds QoS 1 retransmission before the session is
// considered unresponsive and closed.
const maxPublishRetries = 3

// connectGracePeriod is how long a freshly accepted connection has to send
// its CONNECT packet before the Session is closed.
const connectGracePeriod = 10 * time.Second

type pendingPublish struct {
	pkt      *packets.PublishPacket
	deadline time.Time
	retries  int
}

// Session drives one client through the MQTT 3.1.1 protocol state machine:
// connection lifecycle, subscriptions, the outbound queue, the keep-alive
// timer, and pending QoS 1 acknowledgements. Following the teacher's
// logicLoop pattern, all session-owned mutable state (subscriptions,
// pending-ack map, packet ID counter) is touched only from the single
// dispatch goroutine started by serve, so none of it needs its own mutex.
type Session struct {
	broker *Broker
	conn   net.Conn
	logger *slog.Logger

	clientID     string
	cleanSession bool
	keepAlive    time.Duration

	state atomic.Int32

	outbound chan packets.Packet
	incoming chan packets.Packet
	delivery chan deliverRequest
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Owned exclusively by the dispatch goroutine.
	subs         map[string]uint8
	pending      map[uint16]*pendingPublish
	nextPacketID uint16

	lastActivity atomic.Int64 // unix nano, written by readLoop

	mu       sync.Mutex
	closeErr error
}

func newSession(b *Broker, conn net.Conn) *Session {
	s := &Session{
		broker:   b,
		conn:     conn,
		logger:   b.logger,
		outbound: make(chan packets.Packet, outboundQueueSize),
		incoming: make(chan packets.Packet, 32),
		delivery: make(chan deliverRequest, outboundQueueSize),
		stop:     make(chan struct{}),
		subs:     make(map[string]uint8),
		pending:  make(map[uint16]*pendingPublish),
	}
	s.state.Store(int32(StateConnecting))
	s.lastActivity.Store(time.Now().UnixNano())
	return s
}

// State returns the Session's current state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// ClientID returns the negotiated client identifier. Empty until the
// handshake completes.
func (s *Session) ClientID() string {
	return s.clientID
}

// serve runs the handshake and, on success, the Session's lifetime: reader,
// writer, and dispatch goroutines. It blocks until the Session closes.
func (s *Session) serve() {
	defer s.broker.removeSession(s)
	defer s.closeConn()

	if err := s.handshake(); err != nil {
		s.logger.Debug("handshake failed", "remote", s.conn.RemoteAddr(), "error", err)
		return
	}

	s.state.Store(int32(StateConnected))
	s.logger.Info("session connected", "client_id", s.clientID, "keep_alive", s.keepAlive)

	s.wg.Add(3)
	go s.readLoop()
	go s.writeLoop()
	go s.dispatchLoop()
	s.wg.Wait()

	s.state.Store(int32(StateClosed))
	s.logger.Info("session closed", "client_id", s.clientID, "reason", s.closeReason())
}

// handshake reads the mandatory first CONNECT packet within the grace
// period, validates it, registers the Session with the Broker (resolving
// client-id take-over), and writes the CONNACK.
func (s *Session) handshake() error {
	_ = s.conn.SetReadDeadline(time.Now().Add(connectGracePeriod))
	defer s.conn.SetReadDeadline(time.Time{})

	br := bufio.NewReader(s.conn)
	pkt, err := packets.ReadPacket(br, 0)
	if err != nil {
		return fmt.Errorf("reading CONNECT: %w", err)
	}

	connect, ok := pkt.(*packets.ConnectPacket)
	if !ok {
		return fmt.Errorf("first packet was %T, not CONNECT", pkt)
	}

	returnCode, err := s.broker.validateConnect(connect)
	if err != nil || returnCode != packets.ConnAccepted {
		ack := &packets.ConnackPacket{SessionPresent: false, ReturnCode: returnCode}
		_, _ = ack.WriteTo(s.conn)
		if err != nil {
			return err
		}
		return fmt.Errorf("connect refused with return code %d", returnCode)
	}

	s.clientID = connect.ClientID
	s.cleanSession = connect.CleanSession
	s.keepAlive = time.Duration(connect.KeepAlive) * time.Second

	sessionPresent := s.broker.registerSession(s)

	ack := &packets.ConnackPacket{SessionPresent: sessionPresent, ReturnCode: packets.ConnAccepted}
	if _, err := ack.WriteTo(s.conn); err != nil {
		return fmt.Errorf("writing CONNACK: %w", err)
	}
	return nil
}

// readLoop decodes packets off the wire and hands them to the dispatch
// goroutine, mirroring the teacher's bufio-wrapped read loop.
func (s *Session) readLoop() {
	defer s.wg.Done()

	br := bufio.NewReader(s.conn)
	for {
		if s.keepAlive > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.keepAlive + s.keepAlive/2))
		}

		pkt, err := packets.ReadPacket(br, 0)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Debug("keep-alive timeout", "client_id", s.clientID)
				s.closeWith(ErrKeepAliveTimeout)
				return
			}
			// A reserved-flag violation or unsupported packet type is a
			// well-formed read of an illegal packet, not a broken socket:
			// classify it as ErrProtocol so it is logged and counted the
			// same way a post-decode violation in handle() would be.
			if errors.Is(err, packets.ErrReservedFlags) || errors.Is(err, packets.ErrUnsupportedPacketType) {
				s.logger.Warn("protocol error", "client_id", s.clientID, "error", err)
				s.closeWith(ErrProtocol)
				return
			}
			if errors.Is(err, io.EOF) {
				s.logger.Debug("connection closed", "client_id", s.clientID)
			} else {
				s.logger.Debug("read error", "client_id", s.clientID, "error", err)
			}
			s.closeWith(ErrTransport)
			return
		}
		s.lastActivity.Store(time.Now().UnixNano())

		select {
		case s.incoming <- pkt:
		case <-s.stop:
			return
		}

		if _, ok := pkt.(*packets.DisconnectPacket); ok {
			return
		}
	}
}

// writeLoop drains the outbound queue onto the socket. A single writer
// goroutine per Session serialises writes, satisfying the "strictly
// ordered" guarantee spec §5 requires for one TCP stream.
func (s *Session) writeLoop() {
	defer s.wg.Done()

	bw := bufio.NewWriter(s.conn)
	for {
		select {
		case pkt, ok := <-s.outbound:
			if !ok {
				return
			}
			if _, err := pkt.WriteTo(bw); err != nil {
				s.logger.Debug("write error", "client_id", s.clientID, "error", err)
				s.closeWith(ErrTransport)
				return
			}
			if err := bw.Flush(); err != nil {
				s.closeWith(ErrTransport)
				return
			}
		case <-s.stop:
			return
		}
	}
}

// dispatchLoop is the single-threaded state machine: it processes inbound
// packets, outbound delivery requests from the Router, and periodic
// retransmission ticks. subs/pending/nextPacketID are touched only here, so
// none of them need a lock, exactly as the teacher's logicLoop does for its
// own client-side session state.
func (s *Session) dispatchLoop() {
	defer s.wg.Done()
	defer close(s.outbound)

	retry := time.NewTicker(time.Second)
	defer retry.Stop()

	for {
		select {
		case req := <-s.delivery:
			s.deliver(req.topic, req.payload, req.qos, req.retain)

		case pkt := <-s.incoming:
			if err := s.handle(pkt); err != nil {
				s.logger.Warn("protocol error", "client_id", s.clientID, "error", err)
				s.closeWith(ErrProtocol)
				return
			}
			if _, ok := pkt.(*packets.DisconnectPacket); ok {
				s.state.Store(int32(StateDisconnecting))
				return
			}

		case now := <-retry.C:
			s.retryPending(now)

		case <-s.stop:
			return
		}
	}
}

func (s *Session) handle(pkt packets.Packet) error {
	switch p := pkt.(type) {
	case *packets.PublishPacket:
		return s.handlePublish(p)
	case *packets.SubscribePacket:
		return s.handleSubscribe(p)
	case *packets.UnsubscribePacket:
		return s.handleUnsubscribe(p)
	case *packets.PubackPacket:
		delete(s.pending, p.PacketID)
		return nil
	case *packets.PingreqPacket:
		return s.enqueue(&packets.PingrespPacket{})
	case *packets.DisconnectPacket:
		return nil
	default:
		return fmt.Errorf("%w: unexpected packet type %T in Connected state", ErrProtocol, pkt)
	}
}

func (s *Session) handlePublish(p *packets.PublishPacket) error {
	if p.QoS > packets.QoS1 {
		return fmt.Errorf("%w: QoS 2 is not supported", ErrProtocol)
	}
	if err := validateTopicName(p.Topic); err != nil {
		return fmt.Errorf("%w: %s", ErrProtocol, err)
	}
	if err := validatePayload(p.Payload); err != nil {
		return fmt.Errorf("%w: %s", ErrProtocol, err)
	}

	s.broker.publishFromSession(p.Topic, p.Payload, p.QoS, p.Retain)

	if p.QoS == packets.QoS1 {
		return s.enqueue(&packets.PubackPacket{PacketID: p.PacketID})
	}
	return nil
}

func (s *Session) handleSubscribe(p *packets.SubscribePacket) error {
	codes := make([]uint8, len(p.Topics))
	for i, filter := range p.Topics {
		if err := validateTopicFilter(filter); err != nil {
			codes[i] = packets.SubackFailure
			continue
		}
		granted := p.QoS[i]
		if granted > packets.QoS1 {
			granted = packets.QoS1
		}
		s.subs[filter] = granted
		s.broker.router.Subscribe(s, filter, granted)
		codes[i] = granted
	}

	if err := s.enqueue(&packets.SubackPacket{PacketID: p.PacketID, ReturnCodes: codes}); err != nil {
		return err
	}

	for i, filter := range p.Topics {
		if codes[i] == packets.SubackFailure {
			continue
		}
		for _, retained := range s.broker.router.RetainedMatching(filter) {
			qos := retained.QoS
			if qos > codes[i] {
				qos = codes[i]
			}
			s.deliver(retained.Topic, retained.Payload, qos, true)
		}
	}
	return nil
}

func (s *Session) handleUnsubscribe(p *packets.UnsubscribePacket) error {
	for _, filter := range p.Topics {
		delete(s.subs, filter)
		s.broker.router.Unsubscribe(s, filter)
	}
	return s.enqueue(&packets.UnsubackPacket{PacketID: p.PacketID})
}

// deliverRequest is one cross-session delivery handed to a Session's
// dispatch goroutine over its delivery channel, keeping pending/
// nextPacketID single-writer even though the Router fans out from whichever
// goroutine called Broker.publish.
type deliverRequest struct {
	topic   string
	payload []byte
	qos     uint8
	retain  bool
}

// Publish hands a PUBLISH to this Session for delivery. It is safe to call
// from any goroutine: the Session applies it on its own dispatch loop. If
// the Session's delivery queue is full it is treated as a slow consumer and
// disconnected.
func (s *Session) Publish(topic string, payload []byte, qos uint8, retain bool) {
	select {
	case s.delivery <- deliverRequest{topic: topic, payload: payload, qos: qos, retain: retain}:
	default:
		s.closeWith(ErrSlowConsumer)
	}
}

// deliver sends a PUBLISH to this session as the effective QoS, assigning a
// session-local packet identifier and tracking it for retransmission when
// qos is 1.
func (s *Session) deliver(topic string, payload []byte, qos uint8, retain bool) {
	pkt := &packets.PublishPacket{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	}

	if qos == packets.QoS1 {
		pkt.PacketID = s.allocatePacketID()
		s.pending[pkt.PacketID] = &pendingPublish{pkt: pkt, deadline: time.Now().Add(pubackDeadline)}
	}

	if err := s.enqueue(pkt); err != nil {
		s.logger.Debug("enqueue failed, disconnecting slow consumer", "client_id", s.clientID)
		s.closeWith(ErrSlowConsumer)
	}
}

// allocatePacketID returns the next 16-bit packet identifier not currently
// in s.pending, wrapping around and skipping 0 (reserved).
func (s *Session) allocatePacketID() uint16 {
	for {
		s.nextPacketID++
		if s.nextPacketID == 0 {
			s.nextPacketID = 1
		}
		if _, inUse := s.pending[s.nextPacketID]; !inUse {
			return s.nextPacketID
		}
	}
}

func (s *Session) retryPending(now time.Time) {
	for id, p := range s.pending {
		if now.Before(p.deadline) {
			continue
		}
		if p.retries >= maxPublishRetries {
			delete(s.pending, id)
			s.logger.Debug("publish retry limit exceeded, disconnecting", "client_id", s.clientID, "packet_id", id)
			s.closeWith(ErrSlowConsumer)
			return
		}
		p.retries++
		p.deadline = now.Add(pubackDeadline)
		p.pkt.Dup = true
		if err := s.enqueue(p.pkt); err != nil {
			s.closeWith(ErrSlowConsumer)
			return
		}
	}
}

// enqueue places pkt on the outbound queue. For a QoS-0-over-slow-consumer
// the broker disconnects rather than applying backpressure upstream, per
// spec §5; the caller of enqueue decides what "full" means for the message
// in hand.
func (s *Session) enqueue(pkt packets.Packet) error {
	select {
	case s.outbound <- pkt:
		return nil
	default:
		return fmt.Errorf("outbound queue full")
	}
}

// closeWith records the close reason (first one wins) and triggers shutdown
// of all of the Session's goroutines. Closing the connection unblocks a
// readLoop that is waiting on the socket.
func (s *Session) closeWith(reason error) {
	s.mu.Lock()
	if s.closeErr == nil {
		s.closeErr = reason
	}
	s.mu.Unlock()
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

func (s *Session) closeReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

func (s *Session) closeConn() {
	_ = s.conn.Close()
}
