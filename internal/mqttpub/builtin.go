package mqttpub

import "github.com/kelvinhq/panelmon/internal/broker"

// builtin mode needs no adapter: *broker.Broker's own Publish method (spec
// §4.4) already has the Publisher signature.
var _ Publisher = (*broker.Broker)(nil)
