// Package publish relays settlement invoices from the store's outbox to the
// payable subsystem's Kafka topic. Delivery is at least once; consumers dedupe
// on the invoice reference.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/tinoosan/hostledger/internal/ledger"
	"github.com/tinoosan/hostledger/internal/metrics"
)

// OutboxStore exposes invoices that have not been published yet.
type OutboxStore interface {
	UnpublishedInvoices(ctx context.Context, limit int) ([]ledger.Invoice, error)
	MarkInvoicePublished(ctx context.Context, id uuid.UUID, at time.Time) error
}

type Relay struct {
	store  OutboxStore
	writer MessageWriter
	log    *slog.Logger
	now    func() time.Time
}

func NewRelay(store OutboxStore, writer MessageWriter, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{store: store, writer: writer, log: logger, now: time.Now}
}

// Message encodes an invoice as a keyed Kafka message.
func Message(inv ledger.Invoice) (kafka.Message, error) {
	body, err := json.Marshal(inv.Request())
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode invoice %s: %w", inv.Reference, err)
	}
	return kafka.Message{
		Key:   []byte(inv.HostID.String()),
		Value: body,
		Headers: []kafka.Header{
			{Key: "reference", Value: []byte(inv.Reference)},
			{Key: "content-type", Value: []byte("application/json")},
		},
		Time: inv.CreatedAt,
	}, nil
}

// Drain publishes up to limit unpublished invoices in one batch and stamps them.
// A failed write leaves every invoice of the batch in the outbox.
func (r *Relay) Drain(ctx context.Context, limit int) (int, error) {
	invs, err := r.store.UnpublishedInvoices(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(invs) == 0 {
		return 0, nil
	}
	msgs := make([]kafka.Message, 0, len(invs))
	for _, inv := range invs {
		m, err := Message(inv)
		if err != nil {
			return 0, err
		}
		msgs = append(msgs, m)
	}
	if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
		metrics.InvoicesPublished.WithLabelValues("error").Add(float64(len(msgs)))
		r.log.ErrorContext(ctx, "failed to publish invoices", "count", len(msgs), "err", err)
		return 0, fmt.Errorf("publish invoices: %w", err)
	}

	at := r.now().UTC()
	for i, inv := range invs {
		if err := r.store.MarkInvoicePublished(ctx, inv.ID, at); err != nil {
			// Already written; the next drain re-sends these and consumers dedupe.
			return i, fmt.Errorf("mark invoice %s published: %w", inv.Reference, err)
		}
	}
	metrics.InvoicesPublished.WithLabelValues("ok").Add(float64(len(invs)))
	r.log.InfoContext(ctx, "invoices published", "count", len(invs))
	return len(invs), nil
}
