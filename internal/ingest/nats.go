package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"statusbridge/internal/config"
	"statusbridge/internal/domain"

	"github.com/nats-io/nats.go"
)

// queueAck is the acknowledgment surface of one JetStream delivery.
// Params: standard ack/nak verbs.
// Returns: satisfied by *nats.Msg, faked in tests.
type queueAck interface {
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
}

// NATSSubscriber consumes notification batches via a JetStream queue consumer.
// Params: NATS connection, durable queue subscription, and payload sink.
// Returns: NATS ingest lifecycle handle for bridged Alertmanager deliveries.
type NATSSubscriber struct {
	nc        *nats.Conn
	sub       *nats.Subscription
	sink      PayloadSink
	logger    *slog.Logger
	nackDelay time.Duration
}

// NewNATSSubscriber creates the JetStream queue consumer for payload ingestion.
// Params: ingest NATS config, sink, and logger.
// Returns: started subscriber or initialization error.
func NewNATSSubscriber(cfg config.NATSIngestConfig, sink PayloadSink, logger *slog.Logger) (*NATSSubscriber, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats ingest: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for ingest: %w", err)
	}

	subscriber := &NATSSubscriber{
		nc:        nc,
		sink:      sink,
		logger:    logger,
		nackDelay: time.Duration(cfg.NackDelayMS) * time.Millisecond,
	}
	subOpts := []nats.SubOpt{
		nats.BindStream(cfg.Stream),
		nats.Durable(cfg.ConsumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(time.Duration(cfg.AckWaitSec) * time.Second),
		nats.MaxDeliver(cfg.MaxDeliver),
		nats.MaxAckPending(cfg.MaxAckPending),
		nats.DeliverAll(),
	}
	sub, err := js.QueueSubscribe(cfg.Subject, cfg.DeliverGroup, func(message *nats.Msg) {
		subscriber.handleMessage(message.Subject, message.Data, message)
	}, subOpts...)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.Subject, cfg.DeliverGroup, err)
	}
	subscriber.sub = sub
	return subscriber, nil
}

// handleMessage processes one JetStream delivery.
// Params: subject, raw payload bytes, and the delivery's ack surface.
// Returns: none. Undecodable payloads are acked as poison (redelivery cannot
// fix them); sink failures are nacked with delay so JetStream redelivers.
func (s *NATSSubscriber) handleMessage(subject string, data []byte, ack queueAck) {
	payload, err := domain.DecodePayload(data)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("nats ingest decode failed", "subject", subject, "error", err.Error())
		}
		s.ackMessage(ack, subject, "decode")
		return
	}
	if err := s.sink.ProcessBatch(context.Background(), payload); err != nil {
		if s.logger != nil {
			s.logger.Error("nats ingest processing failed", "subject", subject, "error", err.Error())
		}
		s.nackMessage(ack, subject)
		return
	}
	s.ackMessage(ack, subject, "processed")
}

// ackMessage acknowledges a processed or poison message and logs ack failures.
// Params: ack surface, subject, and short reason.
// Returns: none.
func (s *NATSSubscriber) ackMessage(ack queueAck, subject, reason string) {
	if err := ack.Ack(); err != nil && s.logger != nil {
		s.logger.Warn("nats ingest ack failed", "subject", subject, "reason", reason, "error", err.Error())
	}
}

// nackMessage asks JetStream to redeliver a message and logs nack failures.
// Params: ack surface and subject.
// Returns: none.
func (s *NATSSubscriber) nackMessage(ack queueAck, subject string) {
	var err error
	if s.nackDelay > 0 {
		err = ack.NakWithDelay(s.nackDelay)
	} else {
		err = ack.Nak()
	}
	if err != nil && s.logger != nil {
		s.logger.Warn("nats ingest nack failed", "subject", subject, "error", err.Error())
	}
}

// Close stops the NATS subscription and closes the connection.
// Params: none.
// Returns: close error from subscription drain.
func (s *NATSSubscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.nc.Close()
			return err
		}
	}
	s.nc.Close()
	return nil
}
