package xp

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlw-bit/cherbot/internal/store"
	"github.com/tlw-bit/cherbot/pkg/errorx"
)

func newTestTracker(t *testing.T) (*Tracker, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	backend := store.NewFileBackend(filepath.Join(t.TempDir(), "state.json"))
	st, err := store.Open(context.Background(), backend, zerolog.Nop())
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(3))
	return New(st, clock, rng, 15, 25, time.Minute, zerolog.Nop()), clock
}

func TestNeeded(t *testing.T) {
	assert.Equal(t, 100, Needed(1))
	assert.Equal(t, 150, Needed(2))
	assert.Equal(t, 300, Needed(5))
}

func TestAwardCooldown(t *testing.T) {
	tr, clock := newTestTracker(t)
	ctx := context.Background()

	res, err := tr.Award(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.GreaterOrEqual(t, res.Awarded, 15)
	assert.LessOrEqual(t, res.Awarded, 25)

	// inside the cooldown the message earns nothing
	res, err = tr.Award(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, res)

	clock.Advance(2 * time.Minute)
	res, err = tr.Award(ctx, "alice")
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestGrantLevelUp(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	// 100 to finish level 1, 150 for level 2: 260 lands in level 3
	res, err := tr.Grant(ctx, "alice", 260)
	require.NoError(t, err)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, 3, res.Level)
	assert.Equal(t, 10, res.XP)

	res, err = tr.Grant(ctx, "alice", 5)
	require.NoError(t, err)
	assert.False(t, res.LeveledUp)
	assert.Equal(t, 15, res.XP)

	_, err = tr.Grant(ctx, "alice", 0)
	assert.True(t, errorx.Is(err, errorx.InvalidArgument))
}

func TestReset(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	err := tr.Reset(ctx, "ghost")
	assert.True(t, errorx.Is(err, errorx.NotFound))

	_, err = tr.Grant(ctx, "alice", 500)
	require.NoError(t, err)
	require.NoError(t, tr.Reset(ctx, "alice"))

	u := tr.Stats("alice")
	require.NotNil(t, u)
	assert.Equal(t, 1, u.Level)
	assert.Zero(t, u.XP)
}

func TestStatsUnknownUser(t *testing.T) {
	tr, _ := newTestTracker(t)
	assert.Nil(t, tr.Stats("nobody"))
}

func TestLeaderboardOrdering(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	grants := map[string]int{
		"low":  50,  // level 1, 50 xp
		"mid":  120, // level 2, 20 xp
		"high": 260, // level 3, 10 xp
		"tied": 130, // level 2, 30 xp
	}
	for user, amount := range grants {
		_, err := tr.Grant(ctx, user, amount)
		require.NoError(t, err)
	}

	entries := tr.Leaderboard(3)
	require.Len(t, entries, 3)
	assert.Equal(t, "high", entries[0].UserID)
	assert.Equal(t, "tied", entries[1].UserID) // level ties break on xp
	assert.Equal(t, "mid", entries[2].UserID)
}
