package mqttpub

import (
	"context"
	"testing"
	"time"

	"github.com/kelvinhq/panelmon/internal/broker"
)

func startTestBroker(t *testing.T, opts ...broker.Option) (addr string, stop func()) {
	t.Helper()
	b := broker.New(opts...)
	if err := b.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return b.Addr(), func() { b.Stop() }
}

func TestExternalPublisherConnectsAndPublishes(t *testing.T) {
	addr, stop := startTestBroker(t)
	defer stop()

	p := NewExternalPublisher(addr, "ext-client-1")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	if err := p.Publish(ctx, "nas/panel/data", []byte(`{"hostname":"x"}`), 0, false); err != nil {
		t.Fatalf("Publish QoS0: %v", err)
	}
	if err := p.Publish(ctx, "nas/panel/data", []byte(`{"hostname":"x"}`), 1, false); err != nil {
		t.Fatalf("Publish QoS1: %v", err)
	}
}

func TestExternalPublisherRejectsBadCredentials(t *testing.T) {
	addr, stop := startTestBroker(t, broker.WithCredentials("admin", "secret"))
	defer stop()

	p := NewExternalPublisher(addr, "ext-client-2", WithExternalCredentials("admin", "wrong"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.Start(ctx); err == nil {
		t.Fatal("expected Start to fail with refused CONNACK, got nil")
	}
}

func TestExternalPublisherConnectsWithCredentials(t *testing.T) {
	addr, stop := startTestBroker(t, broker.WithCredentials("admin", "secret"))
	defer stop()

	p := NewExternalPublisher(addr, "ext-client-3", WithExternalCredentials("admin", "secret"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	if err := p.Publish(ctx, "nas/panel/data", []byte(`{}`), 1, false); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestExternalPublisherPublishFailsFastWhenNotConnected(t *testing.T) {
	p := NewExternalPublisher("127.0.0.1:1", "ext-client-4")
	err := p.Publish(context.Background(), "nas/panel/data", []byte(`{}`), 0, false)
	if err == nil {
		t.Fatal("expected Publish to fail before Start, got nil")
	}
}
