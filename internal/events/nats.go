package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// natsConn is the part of *nats.Conn the publisher needs.
type natsConn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

type NatsPublisher struct {
	conn   natsConn
	root   string
	logger *zap.Logger
}

func NewNatsPublisher(url, subjectRoot string, logger *zap.Logger) (*NatsPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("consultation-core"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newNatsPublisher(nc, subjectRoot, logger), nil
}

func newNatsPublisher(conn natsConn, subjectRoot string, logger *zap.Logger) *NatsPublisher {
	return &NatsPublisher{conn: conn, root: subjectRoot, logger: logger}
}

// Subject: <root>.<topic>, например khetisahayak.consultation.confirmed.
func (p *NatsPublisher) subject(topic string) string {
	if p.root == "" {
		return topic
	}
	return p.root + "." + topic
}

func (p *NatsPublisher) Publish(ctx context.Context, topic string, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := p.subject(topic)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	// Publish только буферизует; flush подтверждает, что сервер получил сообщение.
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}

	p.logger.Debug("event published",
		zap.String("subject", subject),
		zap.String("consultation_id", e.ConsultationID.String()),
	)
	return nil
}

func (p *NatsPublisher) Close() error {
	p.conn.Close()
	return nil
}
