package broker

import (
	"io"
	"log/slog"
	"time"
)

// options holds Broker configuration, following the teacher's functional-
// options pattern (clientOptions/Option in the top-level package).
type options struct {
	Logger *slog.Logger

	// Username/Password, when Username is non-empty, make plaintext
	// authentication mandatory at CONNECT (spec §6: "optional plaintext
	// username/password check"). Empty Username means anonymous connect is
	// accepted.
	Username string
	Password string

	// ShutdownTimeout bounds how long Stop waits for Session goroutines to
	// finish after closing their connections (default 5s). When it expires
	// Stop returns without waiting further; outbound queues are not drained.
	ShutdownTimeout time.Duration
}

// Option configures a Broker at construction time.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		ShutdownTimeout: 5 * time.Second,
	}
}

// WithLogger sets the structured logger used for session and broker-level
// events. Defaults to a discarding logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.Logger = logger }
}

// WithCredentials requires CONNECT to present the given username/password.
func WithCredentials(username, password string) Option {
	return func(o *options) {
		o.Username = username
		o.Password = password
	}
}

// WithShutdownTimeout overrides the default 5s graceful-shutdown deadline.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) { o.ShutdownTimeout = d }
}
