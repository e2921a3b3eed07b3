package giveaway

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlw-bit/cherbot/internal/sched"
	"github.com/tlw-bit/cherbot/internal/store"
	"github.com/tlw-bit/cherbot/pkg/errorx"
)

func newTestEngine(t *testing.T) (*Engine, *clockwork.FakeClock, *sched.Scheduler) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	backend := store.NewFileBackend(filepath.Join(t.TempDir(), "state.json"))
	st, err := store.Open(context.Background(), backend, zerolog.Nop())
	require.NoError(t, err)

	sch, err := sched.New(clock, zerolog.Nop(), time.Second)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	return New(st, clock, rng, sch, zerolog.Nop()), clock, sch
}

func mustStartGiveaway(t *testing.T, e *Engine, id string, winners int, dur time.Duration) {
	t.Helper()
	_, err := e.Start(context.Background(), StartParams{
		ID: id, ChannelID: "chan", Prize: "a skin", Duration: dur,
		WinnerCount: winners, HostID: "host",
	})
	require.NoError(t, err)
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"10m", 10 * time.Minute, true},
		{"2h", 2 * time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{" 3 H ", 3 * time.Hour, true},
		{"10", 0, false},
		{"m", 0, false},
		{"10s", 0, false},
		{"-5m", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, err := ParseDuration(c.in)
		if c.ok {
			require.NoError(t, err, "input %q", c.in)
			assert.Equal(t, c.want, got, "input %q", c.in)
		} else {
			assert.True(t, errorx.Is(err, errorx.InvalidArgument), "input %q", c.in)
		}
	}
}

func TestStartValidation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Start(ctx, StartParams{ID: "1", Duration: time.Hour, WinnerCount: 0})
	assert.True(t, errorx.Is(err, errorx.InvalidArgument))

	_, err = e.Start(ctx, StartParams{ID: "1", Duration: time.Hour, WinnerCount: MaxWinners + 1})
	assert.True(t, errorx.Is(err, errorx.InvalidArgument))

	_, err = e.Start(ctx, StartParams{ID: "1", Duration: 0, WinnerCount: 1})
	assert.True(t, errorx.Is(err, errorx.InvalidArgument))

	_, err = e.Start(ctx, StartParams{ID: "", Duration: time.Hour, WinnerCount: 1})
	assert.True(t, errorx.Is(err, errorx.InvalidArgument))

	mustStartGiveaway(t, e, "g1", 1, time.Hour)
	_, err = e.Start(ctx, StartParams{ID: "g1", Duration: time.Hour, WinnerCount: 1})
	assert.True(t, errorx.Is(err, errorx.InvalidArgument))
}

func TestJoinDedup(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	mustStartGiveaway(t, e, "g1", 1, time.Hour)

	res, err := e.Join(ctx, "g1", "alice")
	require.NoError(t, err)
	assert.False(t, res.Already)
	assert.Equal(t, 1, res.Entries)

	res, err = e.Join(ctx, "g1", "alice")
	require.NoError(t, err)
	assert.True(t, res.Already)
	assert.Equal(t, 1, res.Entries)

	_, err = e.Join(ctx, "missing", "alice")
	assert.True(t, errorx.Is(err, errorx.NotFound))
}

func TestEndDrawsDistinctWinners(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	mustStartGiveaway(t, e, "g1", 3, time.Hour)

	for i := 0; i < 10; i++ {
		_, err := e.Join(ctx, "g1", fmt.Sprintf("user%d", i))
		require.NoError(t, err)
	}

	res, err := e.End(ctx, "g1", false)
	require.NoError(t, err)
	require.Len(t, res.Winners, 3)

	seen := map[string]bool{}
	for _, w := range res.Winners {
		assert.False(t, seen[w], "duplicate winner %s", w)
		seen[w] = true
	}

	// joining after the end is refused
	_, err = e.Join(ctx, "g1", "late")
	assert.True(t, errorx.Is(err, errorx.AlreadyEnded))

	// ending twice without reroll is refused
	_, err = e.End(ctx, "g1", false)
	assert.True(t, errorx.Is(err, errorx.AlreadyEnded))
}

func TestEndWithFewerEntrantsThanWinners(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	mustStartGiveaway(t, e, "g1", 5, time.Hour)

	_, err := e.Join(ctx, "g1", "alice")
	require.NoError(t, err)

	res, err := e.End(ctx, "g1", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, res.Winners)
}

func TestEndWithNoEntrants(t *testing.T) {
	e, _, _ := newTestEngine(t)
	mustStartGiveaway(t, e, "g1", 1, time.Hour)

	res, err := e.End(context.Background(), "g1", false)
	require.NoError(t, err)
	assert.Empty(t, res.Winners)
}

func TestReroll(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	mustStartGiveaway(t, e, "g1", 1, time.Hour)

	for _, u := range []string{"alice", "bob", "carol"} {
		_, err := e.Join(ctx, "g1", u)
		require.NoError(t, err)
	}

	first, err := e.End(ctx, "g1", false)
	require.NoError(t, err)
	require.Len(t, first.Winners, 1)

	// reroll works on an ended giveaway and keeps it ended
	re, err := e.End(ctx, "g1", true)
	require.NoError(t, err)
	require.Len(t, re.Winners, 1)
	assert.True(t, re.Reroll)
	assert.True(t, re.Giveaway.Ended)

	// rerolling a running giveaway just draws early winners without
	// a second state flip, so reroll on a missing id still errors
	_, err = e.End(ctx, "missing", true)
	assert.True(t, errorx.Is(err, errorx.NotFound))
}

func TestTimerEndsGiveaway(t *testing.T) {
	e, clock, sch := newTestEngine(t)
	ctx := context.Background()

	var ended *EndResult
	e.OnEnded = func(_ context.Context, res *EndResult) { ended = res }

	mustStartGiveaway(t, e, "g1", 1, 30*time.Minute)
	_, err := e.Join(ctx, "g1", "alice")
	require.NoError(t, err)

	sch.RunDue(ctx)
	assert.Nil(t, ended)

	clock.Advance(31 * time.Minute)
	sch.RunDue(ctx)
	require.NotNil(t, ended)
	assert.Equal(t, []string{"alice"}, ended.Winners)
}

func TestRearmTimers(t *testing.T) {
	e, clock, sch := newTestEngine(t)
	ctx := context.Background()

	mustStartGiveaway(t, e, "g1", 1, time.Minute)
	sch.Cancel("giveaway:g1") // simulate restart losing in-memory timers

	e.RearmTimers()
	clock.Advance(2 * time.Minute)

	var ended *EndResult
	e.OnEnded = func(_ context.Context, res *EndResult) { ended = res }
	sch.RunDue(ctx)
	require.NotNil(t, ended)
}

func TestSweepEndsOverdue(t *testing.T) {
	e, clock, _ := newTestEngine(t)
	ctx := context.Background()

	mustStartGiveaway(t, e, "due", 1, time.Minute)
	mustStartGiveaway(t, e, "later", 1, time.Hour)
	_, err := e.Join(ctx, "due", "alice")
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	results := e.Sweep(ctx)
	require.Len(t, results, 1)
	assert.Equal(t, "due", results[0].ID)

	// the overdue one is closed, the other still accepts entries
	_, err = e.Join(ctx, "due", "bob")
	assert.True(t, errorx.Is(err, errorx.AlreadyEnded))
	_, err = e.Join(ctx, "later", "bob")
	require.NoError(t, err)
}

func TestListOrdering(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	mustStartGiveaway(t, e, "a", 1, 2*time.Hour)
	mustStartGiveaway(t, e, "b", 1, time.Hour)
	mustStartGiveaway(t, e, "c", 1, time.Minute)
	_, err := e.End(ctx, "c", false)
	require.NoError(t, err)

	listings := e.List(ctx)
	require.Len(t, listings, 3)
	assert.Equal(t, "b", listings[0].ID) // open, soonest deadline first
	assert.Equal(t, "a", listings[1].ID)
	assert.Equal(t, "c", listings[2].ID) // ended last
	assert.True(t, listings[2].Ended)
}
