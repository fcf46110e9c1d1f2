package broker

import (
	"bufio"
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/kelvinhq/panelmon/internal/packets"
)

func TestValidateConnect(t *testing.T) {
	tests := []struct {
		name       string
		opts       []Option
		connect    *packets.ConnectPacket
		wantCode   uint8
		wantIDSet  bool
		wantRefuse bool
	}{
		{
			name:     "accepted with explicit client id",
			connect:  &packets.ConnectPacket{ProtocolName: "MQTT", ProtocolLevel: 4, ClientID: "nas-exporter"},
			wantCode: packets.ConnAccepted,
		},
		{
			name:       "wrong protocol name refused",
			connect:    &packets.ConnectPacket{ProtocolName: "MQIsdp", ProtocolLevel: 4, ClientID: "x"},
			wantCode:   packets.ConnRefusedUnacceptableProtocol,
			wantRefuse: true,
		},
		{
			name:       "wrong protocol level refused",
			connect:    &packets.ConnectPacket{ProtocolName: "MQTT", ProtocolLevel: 5, ClientID: "x"},
			wantCode:   packets.ConnRefusedUnacceptableProtocol,
			wantRefuse: true,
		},
		{
			name:       "empty client id without clean session refused",
			connect:    &packets.ConnectPacket{ProtocolName: "MQTT", ProtocolLevel: 4, ClientID: "", CleanSession: false},
			wantCode:   packets.ConnRefusedIdentifierRejected,
			wantRefuse: true,
		},
		{
			name:      "empty client id with clean session gets a generated id",
			connect:   &packets.ConnectPacket{ProtocolName: "MQTT", ProtocolLevel: 4, ClientID: "", CleanSession: true},
			wantCode:  packets.ConnAccepted,
			wantIDSet: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New()
			code, err := b.validateConnect(tt.connect)
			if err != nil {
				t.Fatalf("validateConnect returned error: %v", err)
			}
			if code != tt.wantCode {
				t.Errorf("return code = %d, want %d", code, tt.wantCode)
			}
			if tt.wantIDSet && tt.connect.ClientID == "" {
				t.Errorf("expected a generated client id, got empty string")
			}
		})
	}
}

func TestValidateConnectRequiresCredentials(t *testing.T) {
	b := New(WithCredentials("admin", "secret"))

	_, err := b.validateConnect(&packets.ConnectPacket{ProtocolName: "MQTT", ProtocolLevel: 4, ClientID: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	code, _ := b.validateConnect(&packets.ConnectPacket{ProtocolName: "MQTT", ProtocolLevel: 4, ClientID: "x"})
	if code != packets.ConnRefusedBadUsernameOrPassword {
		t.Errorf("expected refusal without credentials, got code %d", code)
	}

	code, _ = b.validateConnect(&packets.ConnectPacket{
		ProtocolName: "MQTT", ProtocolLevel: 4, ClientID: "x",
		UsernameFlag: true, Username: "admin", Password: "secret",
	})
	if code != packets.ConnAccepted {
		t.Errorf("expected acceptance with correct credentials, got code %d", code)
	}
}

func TestRegisterSessionTakesOverExistingClientID(t *testing.T) {
	b := New()

	first := &Session{broker: b, clientID: "dup", stop: make(chan struct{})}
	second := &Session{broker: b, clientID: "dup", stop: make(chan struct{})}

	if present := b.registerSession(first); present {
		t.Errorf("sessionPresent = true, want false")
	}
	if b.registerSession(second) {
		t.Errorf("sessionPresent = true, want false")
	}

	select {
	case <-first.stop:
	default:
		t.Errorf("expected the first session's stop channel to be closed on take-over")
	}

	b.mu.Lock()
	current := b.sessions["dup"]
	b.mu.Unlock()
	if current != second {
		t.Errorf("expected the second session to hold the client id after take-over")
	}
}

// handshakeClient drives one client-side CONNECT/CONNACK exchange over conn and
// returns the decoded CONNACK.
func handshakeClient(t *testing.T, conn net.Conn, clientID string) *packets.ConnackPacket {
	t.Helper()
	connect := &packets.ConnectPacket{
		ProtocolName: "MQTT", ProtocolLevel: 4,
		CleanSession: true, ClientID: clientID, KeepAlive: 30,
	}
	if _, err := connect.WriteTo(conn); err != nil {
		t.Fatalf("writing CONNECT: %v", err)
	}

	pkt, err := packets.ReadPacket(bufio.NewReader(conn), 0)
	if err != nil {
		t.Fatalf("reading CONNACK: %v", err)
	}
	ack, ok := pkt.(*packets.ConnackPacket)
	if !ok {
		t.Fatalf("expected CONNACK, got %T", pkt)
	}
	return ack
}

func TestBrokerEndToEndPublishSubscribe(t *testing.T) {
	b := New()

	subConn, subServer := net.Pipe()
	pubConn, pubServer := net.Pipe()

	go newSession(b, subServer).serve()
	go newSession(b, pubServer).serve()

	if ack := handshakeClient(t, subConn, "subscriber"); ack.ReturnCode != packets.ConnAccepted {
		t.Fatalf("subscriber CONNACK return code = %d", ack.ReturnCode)
	}
	if ack := handshakeClient(t, pubConn, "publisher"); ack.ReturnCode != packets.ConnAccepted {
		t.Fatalf("publisher CONNACK return code = %d", ack.ReturnCode)
	}

	sub := &packets.SubscribePacket{PacketID: 1, Topics: []string{"devices/nas1/cpu"}, QoS: []uint8{0}}
	if _, err := sub.WriteTo(subConn); err != nil {
		t.Fatalf("writing SUBSCRIBE: %v", err)
	}

	subReader := bufio.NewReader(subConn)
	pkt, err := packets.ReadPacket(subReader, 0)
	if err != nil {
		t.Fatalf("reading SUBACK: %v", err)
	}
	if _, ok := pkt.(*packets.SubackPacket); !ok {
		t.Fatalf("expected SUBACK, got %T", pkt)
	}

	pub := &packets.PublishPacket{Topic: "devices/nas1/cpu", Payload: []byte(`{"percent":12.5}`), QoS: 0}
	if _, err := pub.WriteTo(pubConn); err != nil {
		t.Fatalf("writing PUBLISH: %v", err)
	}

	_ = subConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	pkt, err = packets.ReadPacket(subReader, 0)
	if err != nil {
		t.Fatalf("reading delivered PUBLISH: %v", err)
	}
	delivered, ok := pkt.(*packets.PublishPacket)
	if !ok {
		t.Fatalf("expected PUBLISH, got %T", pkt)
	}
	if delivered.Topic != "devices/nas1/cpu" || string(delivered.Payload) != `{"percent":12.5}` {
		t.Errorf("unexpected delivered publish: %+v", delivered)
	}

	_ = subConn.Close()
	_ = pubConn.Close()
}

func TestBrokerRetainedDeliveredOnSubscribe(t *testing.T) {
	b := New()

	pubConn, pubServer := net.Pipe()
	go newSession(b, pubServer).serve()
	if ack := handshakeClient(t, pubConn, "publisher"); ack.ReturnCode != packets.ConnAccepted {
		t.Fatalf("publisher CONNACK return code = %d", ack.ReturnCode)
	}

	pub := &packets.PublishPacket{Topic: "devices/nas1/cpu", Payload: []byte(`{"percent":5}`), QoS: 0, Retain: true}
	if _, err := pub.WriteTo(pubConn); err != nil {
		t.Fatalf("writing retained PUBLISH: %v", err)
	}
	// Give the publisher's dispatch loop a moment to store the retained message.
	time.Sleep(50 * time.Millisecond)

	subConn, subServer := net.Pipe()
	go newSession(b, subServer).serve()
	if ack := handshakeClient(t, subConn, "late-subscriber"); ack.ReturnCode != packets.ConnAccepted {
		t.Fatalf("subscriber CONNACK return code = %d", ack.ReturnCode)
	}

	sub := &packets.SubscribePacket{PacketID: 1, Topics: []string{"devices/nas1/cpu"}, QoS: []uint8{0}}
	if _, err := sub.WriteTo(subConn); err != nil {
		t.Fatalf("writing SUBSCRIBE: %v", err)
	}

	subReader := bufio.NewReader(subConn)
	if _, err := packets.ReadPacket(subReader, 0); err != nil {
		t.Fatalf("reading SUBACK: %v", err)
	}

	_ = subConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	pkt, err := packets.ReadPacket(subReader, 0)
	if err != nil {
		t.Fatalf("reading retained PUBLISH: %v", err)
	}
	delivered, ok := pkt.(*packets.PublishPacket)
	if !ok || !delivered.Retain {
		t.Fatalf("expected a retained PUBLISH, got %+v (ok=%v)", pkt, ok)
	}

	_ = pubConn.Close()
	_ = subConn.Close()
}

func TestSessionClosesOnReservedFlagViolation(t *testing.T) {
	b := New()

	conn, server := net.Pipe()
	go newSession(b, server).serve()
	if ack := handshakeClient(t, conn, "publisher"); ack.ReturnCode != packets.ConnAccepted {
		t.Fatalf("CONNACK return code = %d", ack.ReturnCode)
	}

	// A well-formed QoS 0 PUBLISH with its DUP bit flipped on: illegal per
	// MQTT 3.1.1 §3.3.1.2, and only detectable once the fixed header is on
	// the wire, not from a decoded PublishPacket struct.
	pub := &packets.PublishPacket{Topic: "devices/nas1/cpu", Payload: []byte("1"), QoS: 0}
	encoded := encodeToBytes(t, pub)
	encoded[0] |= 0x08

	if _, err := conn.Write(encoded); err != nil {
		t.Fatalf("writing malformed PUBLISH: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected the session to close the connection after a reserved-flag violation")
	}
}

func encodeToBytes(t *testing.T, pkt packets.Packet) []byte {
	t.Helper()
	var buf bytes.Buffer
	if _, err := pkt.WriteTo(&buf); err != nil {
		t.Fatalf("encoding packet: %v", err)
	}
	return buf.Bytes()
}
