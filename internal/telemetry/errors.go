package telemetry

import "errors"

// ErrPublishFailed marks a tick whose assembled payload could not be handed
// to the Publisher. Never fatal: logged, and the Scheduler continues to the
// next tick (spec §7: "the Scheduler is decoupled from delivery success").
var ErrPublishFailed = errors.New("telemetry publish failed")
