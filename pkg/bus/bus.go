// Package bus publishes generation events to NATS JetStream. Each event kind
// gets its own subject under a common prefix, so consumers can subscribe to
// "thermobaric.generation.failed" without filtering payloads.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "thermobaric.generation"

// Bus publishes JSON events under a subject prefix.
type Bus struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	prefix string
}

// New connects to url and publishes under prefix. An empty prefix uses
// DefaultPrefix.
func New(url, prefix string, opts ...nats.Option) (*Bus, error) {
	if url == "" {
		return nil, errors.New("nats url is required")
	}
	prefix, err := normalizePrefix(prefix)
	if err != nil {
		return nil, err
	}

	opts = append([]nats.Option{nats.Name("thermobaric"), nats.Timeout(5 * time.Second)}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Bus{conn: nc, js: js, prefix: prefix}, nil
}

func normalizePrefix(prefix string) (string, error) {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return DefaultPrefix, nil
	}
	if strings.ContainsAny(prefix, " \t*>") {
		return "", fmt.Errorf("invalid subject prefix %q", prefix)
	}
	return prefix, nil
}

// Subject is where events of kind are published.
func (b *Bus) Subject(kind string) string {
	prefix := DefaultPrefix
	if b != nil && b.prefix != "" {
		prefix = b.prefix
	}
	return prefix + "." + kind
}

// Publish sends v as JSON to the subject for kind. A non-empty msgID is set
// as the Nats-Msg-Id header so JetStream discards a retried duplicate.
func (b *Bus) Publish(ctx context.Context, kind, msgID string, v any) error {
	if b == nil {
		return errors.New("nil bus")
	}
	msg, err := newMessage(b.Subject(kind), msgID, v)
	if err != nil {
		return err
	}
	if _, err := b.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

func newMessage(subject, msgID string, v any) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	if msgID != "" {
		msg.Header.Set(nats.MsgIdHdr, msgID)
	}
	return msg, nil
}

// Close drains pending publishes and shuts down the connection.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}
