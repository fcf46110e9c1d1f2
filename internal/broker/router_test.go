package broker

import "testing"

func TestRouterSubscribeAndMatch(t *testing.T) {
	r := NewRouter()
	s1 := &Session{clientID: "s1"}
	s2 := &Session{clientID: "s2"}

	r.Subscribe(s1, "devices/+/cpu", 1)
	r.Subscribe(s2, "devices/nas1/#", 0)

	subs := r.Match("devices/nas1/cpu")
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscribers, got %d", len(subs))
	}

	byID := make(map[string]uint8)
	for _, sub := range subs {
		byID[sub.Session.clientID] = sub.QoS
	}
	if byID["s1"] != 1 {
		t.Errorf("s1 granted QoS = %d, want 1", byID["s1"])
	}
	if byID["s2"] != 0 {
		t.Errorf("s2 granted QoS = %d, want 0", byID["s2"])
	}
}

func TestRouterMatchDedupesToMaxGrantedQoS(t *testing.T) {
	r := NewRouter()
	s := &Session{clientID: "s1"}

	r.Subscribe(s, "devices/nas1/cpu", 0)
	r.Subscribe(s, "devices/+/cpu", 1)

	subs := r.Match("devices/nas1/cpu")
	if len(subs) != 1 {
		t.Fatalf("expected a single deduped subscriber, got %d", len(subs))
	}
	if subs[0].QoS != 1 {
		t.Errorf("granted QoS = %d, want max of 1", subs[0].QoS)
	}
}

func TestRouterUnsubscribe(t *testing.T) {
	r := NewRouter()
	s := &Session{clientID: "s1"}

	r.Subscribe(s, "devices/nas1/cpu", 1)
	r.Unsubscribe(s, "devices/nas1/cpu")

	if subs := r.Match("devices/nas1/cpu"); len(subs) != 0 {
		t.Errorf("expected no subscribers after unsubscribe, got %d", len(subs))
	}
}

func TestRouterRemoveSession(t *testing.T) {
	r := NewRouter()
	s1 := &Session{clientID: "s1"}
	s2 := &Session{clientID: "s2"}

	r.Subscribe(s1, "devices/+/cpu", 1)
	r.Subscribe(s2, "devices/+/cpu", 1)
	r.RemoveSession(s1)

	subs := r.Match("devices/nas1/cpu")
	if len(subs) != 1 || subs[0].Session != s2 {
		t.Fatalf("expected only s2 to remain subscribed, got %+v", subs)
	}
}

func TestRouterRetainedMessages(t *testing.T) {
	r := NewRouter()

	r.StoreRetained("devices/nas1/cpu", []byte(`{"percent":10}`), 1)
	r.StoreRetained("devices/nas1/mem", []byte(`{"percent":50}`), 0)

	if got := r.RetainedCount(); got != 2 {
		t.Fatalf("RetainedCount() = %d, want 2", got)
	}

	matches := r.RetainedMatching("devices/nas1/+")
	if len(matches) != 2 {
		t.Fatalf("expected 2 retained matches, got %d", len(matches))
	}

	r.StoreRetained("devices/nas1/cpu", nil, 0)
	if got := r.RetainedCount(); got != 1 {
		t.Errorf("RetainedCount() after delete = %d, want 1", got)
	}

	matches = r.RetainedMatching("devices/nas1/+")
	if len(matches) != 1 || matches[0].Topic != "devices/nas1/mem" {
		t.Fatalf("expected only devices/nas1/mem to remain retained, got %+v", matches)
	}
}
