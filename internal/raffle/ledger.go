package raffle

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tlw-bit/cherbot/internal/models"
)

// Ledger manages the time-boxed reservations held against a parent
// raffle. It operates on the document inside the caller's store
// transaction; pruning expired or exhausted records is a side effect of
// every read, which keeps the persisted document bounded.
type Ledger struct {
	clock clockwork.Clock
}

func NewLedger(clock clockwork.Clock) *Ledger {
	return &Ledger{clock: clock}
}

func (l *Ledger) now() int64 {
	return l.clock.Now().UnixMilli()
}

func (l *Ledger) live(r *models.Reservation) bool {
	return r != nil && r.Remaining > 0 && r.ExpiresAt > l.now()
}

// Get returns the live reservation for holder on parentKey, pruning a
// dead one. Nil means no reservation.
func (l *Ledger) Get(doc *models.Document, parentKey, holderID string) *models.Reservation {
	bucket := doc.Reservations[parentKey]
	r := bucket[holderID]
	if r == nil {
		return nil
	}
	if !l.live(r) {
		delete(bucket, holderID)
		return nil
	}
	return r
}

// Set creates or overwrites a reservation expiring after window.
func (l *Ledger) Set(doc *models.Document, parentKey, holderID string, remaining int, window time.Duration) {
	bucket := doc.Reservations[parentKey]
	if bucket == nil {
		bucket = map[string]*models.Reservation{}
		doc.Reservations[parentKey] = bucket
	}
	bucket[holderID] = &models.Reservation{
		Remaining: remaining,
		ExpiresAt: l.now() + window.Milliseconds(),
	}
}

// Consume decrements remaining by amount, removing the record once it
// hits zero. It returns the updated reservation, nil once gone.
func (l *Ledger) Consume(doc *models.Document, parentKey, holderID string, amount int) *models.Reservation {
	r := l.Get(doc, parentKey, holderID)
	if r == nil {
		return nil
	}
	r.Remaining -= amount
	if r.Remaining <= 0 {
		delete(doc.Reservations[parentKey], holderID)
		return nil
	}
	return r
}

// Delete removes a reservation outright (used when a placeholder is
// replaced by the drawn winner).
func (l *Ledger) Delete(doc *models.Document, parentKey, holderID string) {
	delete(doc.Reservations[parentKey], holderID)
}

// TotalActive sums remaining across all live reservations for
// parentKey, placeholders included. Dead records are pruned.
func (l *Ledger) TotalActive(doc *models.Document, parentKey string) int {
	bucket := doc.Reservations[parentKey]
	total := 0
	for holderID, r := range bucket {
		if !l.live(r) {
			delete(bucket, holderID)
			continue
		}
		total += r.Remaining
	}
	return total
}

// IsLockedForOthers reports whether a live non-placeholder reservation
// held by someone other than holderID blocks claiming. Placeholders
// reserve capacity in aggregate without granting anyone exclusivity, so
// they never lock. Privileged callers bypass the lock.
func (l *Ledger) IsLockedForOthers(doc *models.Document, parentKey, holderID string, privileged bool) bool {
	if privileged {
		return false
	}
	bucket := doc.Reservations[parentKey]
	for owner, r := range bucket {
		if !l.live(r) {
			delete(bucket, owner)
			continue
		}
		if models.IsPlaceholder(owner) || owner == holderID {
			continue
		}
		return true
	}
	return false
}
