// Package ingest persists completed mail transactions handed over by the
// SMTP host. Persistence is best effort: the host is released immediately
// and the write happens in the background, so a store outage loses mail
// instead of stalling or refusing it.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.io/infrasutra/tempmail/internal/store"
)

// Transaction is one completed mail exchange. ID identifies the exchange for
// de-duplication; hosts may report the same transaction more than once.
type Transaction struct {
	ID         string
	Sender     string
	Recipients []string
	Subject    string
	Headers    map[string][]string
	Raw        []byte
}

type Verdict int

const (
	Accepted Verdict = iota
	Rejected
)

type Inserter interface {
	InsertMessage(ctx context.Context, record store.MessageRecord) (store.MessageRecord, error)
}

// Notifier receives a frame for every stored message, addressed to its
// lower-cased recipients.
type Notifier interface {
	Broadcast(addresses []string, payload []byte)
}

type Hook struct {
	store    Inserter
	notifier Notifier
	logger   *slog.Logger
	seen     *latch
	inflight sync.WaitGroup
}

func New(inserter Inserter, notifier Notifier, logger *slog.Logger) *Hook {
	return &Hook{
		store:    inserter,
		notifier: notifier,
		logger:   logger,
		seen:     newLatch(10 * time.Minute),
	}
}

// Complete records the transaction. Only the first call for a given ID
// writes; repeats are ignored. It returns without waiting for the store.
func (h *Hook) Complete(tx Transaction) {
	if !h.seen.first(tx.ID) {
		h.logger.Debug("duplicate transaction completion ignored", "transaction", tx.ID)
		return
	}

	record := store.MessageRecord{
		Sender:     tx.Sender,
		Recipients: append([]string(nil), tx.Recipients...),
		Subject:    tx.Subject,
		Headers:    tx.Headers,
		RawBody:    tx.Raw,
	}

	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		h.persist(tx.ID, record)
	}()
}

// Queue answers the host's accept-or-queue question. Acceptance never
// depends on whether persistence succeeded.
func (h *Hook) Queue(Transaction) Verdict {
	return Accepted
}

// Wait blocks until background writes finish or ctx is done.
func (h *Hook) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hook) persist(txID string, record store.MessageRecord) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("store message panicked", "transaction", txID, "panic", r)
		}
	}()

	stored, err := h.store.InsertMessage(context.Background(), record)
	if err != nil {
		h.logger.Error("store message", "transaction", txID, "error", err)
		return
	}
	h.logger.Info("stored message", "id", stored.ID, "recipients", strings.Join(stored.Recipients, ","))

	if h.notifier != nil {
		h.notifier.Broadcast(audience(stored), buildEvent(stored))
	}
}

func audience(record store.MessageRecord) []string {
	addresses := make([]string, 0, len(record.Recipients))
	for _, recipient := range record.Recipients {
		addresses = append(addresses, strings.ToLower(strings.TrimSpace(recipient)))
	}
	return addresses
}

func buildEvent(record store.MessageRecord) []byte {
	payload := map[string]any{
		"id":         record.ID,
		"from_email": record.Sender,
		"to_email":   record.FirstRecipient(),
		"subject":    record.Subject,
		"created_at": record.ReceivedAt.UTC().Format(store.TimestampLayout),
	}
	data, _ := json.Marshal(payload)
	return []byte(fmt.Sprintf("event: message\ndata: %s\n\n", data))
}
