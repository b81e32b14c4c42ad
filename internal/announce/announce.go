// Package announce publishes bridge lifecycle events to NATS so other
// services around the host agent can react to voice activity. The whole
// package is optional: with no NATS URL configured the bridge runs
// standalone.
package announce

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

type Announcer struct {
	nc *nats.Conn
}

// Connect dials NATS with aggressive reconnection so a broker restart never
// takes the bridge down with it.
func Connect(natsURL string) (*Announcer, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Announcer{nc: nc}, nil
}

// Publish sends one lifecycle event.
func (a *Announcer) Publish(subject string, data []byte) error {
	return a.nc.Publish(subject, data)
}

// Close flushes pending publishes and closes the connection.
func (a *Announcer) Close() {
	a.nc.Drain()
}
