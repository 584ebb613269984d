package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/tinoosan/hostledger/internal/ledger"
	"github.com/tinoosan/hostledger/internal/logging"
)

type fakeOutbox struct {
	mu        sync.Mutex
	invoices  []ledger.Invoice
	published map[uuid.UUID]time.Time
}

func (f *fakeOutbox) UnpublishedInvoices(_ context.Context, limit int) ([]ledger.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ledger.Invoice
	for _, inv := range f.invoices {
		if _, ok := f.published[inv.ID]; ok {
			continue
		}
		out = append(out, inv)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeOutbox) MarkInvoicePublished(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[id] = at
	return nil
}

func invoice(host uuid.UUID, ref string, total int64) ledger.Invoice {
	g := uuid.New()
	return ledger.Invoice{
		ID:          uuid.New(),
		Reference:   ref,
		HostID:      host,
		Currency:    "GBP",
		Direction:   ledger.HostOwesPlatform,
		Period:      ledger.MonthPeriod(2024, time.March),
		LineItems:   []ledger.LineItem{{Kind: ledger.KindPlatformTipDebt, Description: "Platform Tips", Amount: total}},
		TotalAmount: total,
		AuditReferences: []ledger.AuditReference{
			{TransactionGroup: g, Kind: ledger.KindPlatformTipDebt, Amount: total},
		},
		CreatedAt: time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRelayDrainPublishesAndStamps(t *testing.T) {
	ctrl := gomock.NewController(t)
	w := NewMockMessageWriter(ctrl)

	host := uuid.New()
	a, b := invoice(host, "01HVA", 990), invoice(host, "01HVB", 120)
	store := &fakeOutbox{invoices: []ledger.Invoice{a, b}, published: map[uuid.UUID]time.Time{}}

	w.EXPECT().
		WriteMessages(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msgs ...kafka.Message) error {
			require.Len(t, msgs, 2)
			assert.Equal(t, host.String(), string(msgs[0].Key))
			var req ledger.InvoiceRequest
			require.NoError(t, json.Unmarshal(msgs[0].Value, &req))
			assert.Equal(t, "01HVA", req.Reference)
			assert.Equal(t, int64(990), req.TotalAmount)
			assert.Equal(t, []uuid.UUID{a.AuditReferences[0].TransactionGroup}, req.AuditReferences)
			return nil
		})

	r := NewRelay(store, w, logging.Discard())
	n, err := r.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, store.published, 2)

	// Nothing left: no write expected.
	n, err = r.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelayDrainKeepsOutboxOnWriteFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	w := NewMockMessageWriter(ctrl)
	store := &fakeOutbox{invoices: []ledger.Invoice{invoice(uuid.New(), "01HVC", 10)}, published: map[uuid.UUID]time.Time{}}

	w.EXPECT().WriteMessages(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

	r := NewRelay(store, w, logging.Discard())
	n, err := r.Drain(context.Background(), 10)
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Empty(t, store.published)
}

func TestMessageHeaders(t *testing.T) {
	inv := invoice(uuid.New(), "01HVD", 5)
	m, err := Message(inv)
	require.NoError(t, err)
	require.Len(t, m.Headers, 2)
	assert.Equal(t, "reference", m.Headers[0].Key)
	assert.Equal(t, "01HVD", string(m.Headers[0].Value))
}
