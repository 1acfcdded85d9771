// Package nats publishes outbox events to NATS subjects.
package nats

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

type Publisher struct {
	conn *nats.Conn
}

func Connect(url, name string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn}, nil
}

// Publish sends payload to the subject named topic. The key travels as the
// Nats-Msg-Id header so JetStream streams de-duplicate redeliveries.
func (p *Publisher) Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error {
	msg := newMsg(topic, key, payload, headers)
	if err := p.conn.PublishMsg(msg); err != nil {
		return err
	}
	return p.conn.FlushWithContext(ctx)
}

func newMsg(subject, key string, payload []byte, headers map[string]string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = payload
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	if id := headers["ce-id"]; id != "" {
		msg.Header.Set(nats.MsgIdHdr, id)
	}
	if key != "" {
		msg.Header.Set("partition-key", key)
	}
	return msg
}

func (p *Publisher) Ping() error {
	if p.conn == nil || !p.conn.IsConnected() {
		return nats.ErrConnectionClosed
	}
	return nil
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
