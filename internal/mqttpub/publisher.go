// Package mqttpub provides the Publisher abstraction the Scheduler hands
// telemetry payloads to: either the in-process broker (builtin mode) or a
// thin external-broker client (external mode), selected by mqtt.type
// (spec.md §6, §1 Non-goals: external mode "carries no design content
// beyond what the broker side already specifies").
package mqttpub

import "context"

// Publisher is anything that can deliver a PUBLISH. *broker.Broker already
// satisfies this interface via its own Publish method; ExternalPublisher is
// the other implementation.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos uint8, retain bool) error
}
