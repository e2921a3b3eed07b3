package raffle

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlw-bit/cherbot/internal/models"
)

func TestLedgerExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewLedger(clock)
	doc := models.NewDocument()

	l.Set(doc, "k", "alice", 3, 10*time.Minute)
	require.NotNil(t, l.Get(doc, "k", "alice"))
	assert.Equal(t, 3, l.TotalActive(doc, "k"))

	clock.Advance(11 * time.Minute)
	assert.Nil(t, l.Get(doc, "k", "alice"))
	assert.Equal(t, 0, l.TotalActive(doc, "k"))
	// the dead record was pruned from the document
	assert.Empty(t, doc.Reservations["k"])
}

func TestLedgerConsume(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewLedger(clock)
	doc := models.NewDocument()

	l.Set(doc, "k", "alice", 2, time.Hour)

	r := l.Consume(doc, "k", "alice", 1)
	require.NotNil(t, r)
	assert.Equal(t, 1, r.Remaining)

	assert.Nil(t, l.Consume(doc, "k", "alice", 1))
	assert.Nil(t, l.Get(doc, "k", "alice"))
}

func TestLedgerLocking(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewLedger(clock)
	doc := models.NewDocument()

	// nothing reserved, nobody locked
	assert.False(t, l.IsLockedForOthers(doc, "k", "bob", false))

	l.Set(doc, "k", "alice", 2, time.Hour)
	assert.True(t, l.IsLockedForOthers(doc, "k", "bob", false))
	// the reservation holder and privileged users pass
	assert.False(t, l.IsLockedForOthers(doc, "k", "alice", false))
	assert.False(t, l.IsLockedForOthers(doc, "k", "bob", true))

	// expiry lifts the lock
	clock.Advance(2 * time.Hour)
	assert.False(t, l.IsLockedForOthers(doc, "k", "bob", false))
}

func TestPlaceholderNeverLocks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewLedger(clock)
	doc := models.NewDocument()

	l.Set(doc, "k", models.PlaceholderHolder("g1:mini"), 2, time.Hour)
	assert.False(t, l.IsLockedForOthers(doc, "k", "bob", false))
	// but it still counts against capacity
	assert.Equal(t, 2, l.TotalActive(doc, "k"))
}
