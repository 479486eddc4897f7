package sink

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/r-smith/sshlure/internal/console"
	"github.com/r-smith/sshlure/internal/eventdata"
)

const (
	// natsConnectTimeout bounds the initial connection.
	natsConnectTimeout = 10 * time.Second

	// natsReconnectWait is the pause between reconnect attempts.
	natsReconnectWait = 5 * time.Second

	// natsFlushTimeout bounds the final flush on Close.
	natsFlushTimeout = 5 * time.Second

	// headerAttackType carries the record's attack type so subscribers can
	// filter without decoding the payload.
	headerAttackType = "Sshlure-Attack-Type"
)

// NATS publishes each record as JSON to a subject. The record ID is sent as
// the Nats-Msg-Id header so JetStream consumers can de-duplicate.
type NATS struct {
	conn    *nats.Conn
	subject string
}

// NewNATS connects to the NATS server at url. The client reconnects
// indefinitely if the connection is lost, buffering publishes meanwhile.
func NewNATS(url, subject string) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name("sshlure"),
		nats.Timeout(natsConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(natsReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				console.Warning(console.Sink, "Disconnected from NATS: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			console.Info(console.Sink, "Reconnected to NATS at %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	return &NATS{conn: conn, subject: subject}, nil
}

// Record publishes rec.
func (n *NATS) Record(rec eventdata.AttackRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	msg := nats.NewMsg(n.subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, rec.ID)
	msg.Header.Set(headerAttackType, rec.AttackType)

	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish record: %w", err)
	}
	return nil
}

// Close flushes pending publishes and closes the connection.
func (n *NATS) Close() error {
	err := n.conn.FlushTimeout(natsFlushTimeout)
	n.conn.Close()
	if err != nil {
		return fmt.Errorf("failed to flush NATS connection: %w", err)
	}
	return nil
}
