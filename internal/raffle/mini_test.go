package raffle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlw-bit/cherbot/internal/models"
	"github.com/tlw-bit/cherbot/pkg/errorx"
)

func mustStartParent(t *testing.T, e *Engine, capacity int) {
	t.Helper()
	_, err := e.StartRaffle(context.Background(), StartParams{
		ScopeID: "g1", ChannelID: "main", HostID: "host",
		Capacity: capacity, PriceText: "100 coins",
	})
	require.NoError(t, err)
}

func mustCreateMini(t *testing.T, e *Engine, tickets, slots int) *MiniResult {
	t.Helper()
	res, err := e.CreateMini(context.Background(), MiniParams{
		ScopeID: "g1", ParentChannelID: "main", MiniChannelID: "mini",
		HostID: "host", Tickets: tickets, MiniSlots: slots, UnitPrice: 100,
	})
	require.NoError(t, err)
	return res
}

func TestCreateMini(t *testing.T) {
	e, _, _ := newTestEngine(t)
	mustStartParent(t, e, 10)

	res := mustCreateMini(t, e, 2, 6)
	assert.Equal(t, 200, res.Pot)
	assert.Equal(t, 33, res.PerSlot) // round(200/6)
	assert.Contains(t, res.PriceLabel, "2x main @ 100c")

	// the placeholder books the tickets against the parent
	assert.Equal(t, 8, res.MainsLeft)

	// but does not stop anyone from claiming mains
	claim, err := e.ClaimSlots(context.Background(), "g1", "main", "alice", []int{1}, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, claim.Claimed)
	assert.Equal(t, 7, claim.MainsLeft)
}

func TestCreateMiniRequiresActiveParent(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateMini(ctx, MiniParams{
		ScopeID: "g1", ParentChannelID: "main", MiniChannelID: "mini",
		Tickets: 2, MiniSlots: 6, UnitPrice: 100,
	})
	assert.True(t, errorx.Is(err, errorx.NotFound))

	mustStartParent(t, e, 10)
	_, err = e.CloseRaffle(ctx, models.RaffleKey("g1", "main"), false)
	require.NoError(t, err)

	_, err = e.CreateMini(ctx, MiniParams{
		ScopeID: "g1", ParentChannelID: "main", MiniChannelID: "mini",
		Tickets: 2, MiniSlots: 6, UnitPrice: 100,
	})
	assert.True(t, errorx.Is(err, errorx.NotFound))
}

func TestCreateMiniValidation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	mustStartParent(t, e, 10)
	ctx := context.Background()

	cases := []MiniParams{
		{Tickets: 0, MiniSlots: 6, UnitPrice: 100},
		{Tickets: MaxMiniTickets + 1, MiniSlots: 6, UnitPrice: 100},
		{Tickets: 2, MiniSlots: 1, UnitPrice: 100},
		{Tickets: 2, MiniSlots: MaxMiniSlots + 1, UnitPrice: 100},
		{Tickets: 2, MiniSlots: 6, UnitPrice: -1},
		{Tickets: 2, MiniSlots: 6, UnitPrice: MaxUnitPrice + 1},
	}
	for i, p := range cases {
		p.ScopeID, p.ParentChannelID, p.MiniChannelID = "g1", "main", "mini"
		_, err := e.CreateMini(ctx, p)
		assert.True(t, errorx.Is(err, errorx.InvalidArgument), "case %d", i)
	}
}

func TestDrawMiniFlow(t *testing.T) {
	e, clock, _ := newTestEngine(t)
	ctx := context.Background()
	mustStartParent(t, e, 10)
	mustCreateMini(t, e, 2, 6)

	// only the winner-to-be claims mini slots, so the draw is forced
	_, err := e.ClaimSlots(ctx, "g1", "mini", "winner", []int{1, 2, 3}, false)
	require.NoError(t, err)

	res, err := e.DrawMini(ctx, "g1", "mini")
	require.NoError(t, err)
	assert.Equal(t, "winner", res.WinnerID)
	assert.Equal(t, 2, res.Tickets)
	assert.Equal(t, "main", res.ParentChannelID)
	assert.Empty(t, res.AutoFilled)

	// placeholder replaced by a same-size real reservation: mains
	// unchanged, others locked out
	assert.Equal(t, 8, res.MainsLeft)
	_, err = e.ClaimSlots(ctx, "g1", "main", "bob", []int{1}, false)
	assert.True(t, errorx.Is(err, errorx.Locked))

	// privileged users bypass the lock
	claim, err := e.ClaimSlots(ctx, "g1", "main", "mod", []int{9}, true)
	require.NoError(t, err)
	assert.Equal(t, []int{9}, claim.Claimed)

	// winner claims their entitled slots
	claim, err = e.ClaimSlots(ctx, "g1", "main", "winner", []int{1, 2}, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, claim.Claimed)
	assert.Nil(t, claim.Reservation, "allowance fully consumed")

	// totals exclude exactly the entitled slots
	tot, err := e.Totals(ctx, "g1", "main")
	require.NoError(t, err)
	for _, h := range tot.PerHolder {
		assert.NotEqual(t, "winner", h.HolderID)
	}

	// window expiry would have freed the slots for everyone else
	clock.Advance(time.Hour)
	claim, err = e.ClaimSlots(ctx, "g1", "main", "bob", []int{3}, false)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, claim.Claimed)
}

func TestDrawMiniReservationCapsClaims(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	mustStartParent(t, e, 10)
	mustCreateMini(t, e, 2, 6)

	_, err := e.ClaimSlots(ctx, "g1", "mini", "winner", []int{1}, false)
	require.NoError(t, err)
	_, err = e.DrawMini(ctx, "g1", "mini")
	require.NoError(t, err)

	// a request beyond the 2-ticket allowance is truncated
	claim, err := e.ClaimSlots(ctx, "g1", "main", "winner", []int{4, 5, 6, 7}, false)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, claim.Claimed)
}

func TestReservationAllowanceIgnoresRejectedNumbers(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	mustStartParent(t, e, 10)
	mustCreateMini(t, e, 1, 6)

	_, err := e.ClaimSlots(ctx, "g1", "mini", "winner", []int{1}, false)
	require.NoError(t, err)
	_, err = e.DrawMini(ctx, "g1", "mini")
	require.NoError(t, err)

	// the out-of-range 99 is rejected without eating the single-ticket
	// allowance, so the valid trailing number still lands
	claim, err := e.ClaimSlots(ctx, "g1", "main", "winner", []int{99, 3}, false)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, claim.Claimed)
	require.Len(t, claim.Rejected, 1)
	assert.Equal(t, 99, claim.Rejected[0].Number)
}

func TestDrawMiniNoEntries(t *testing.T) {
	e, _, _ := newTestEngine(t)
	mustStartParent(t, e, 10)
	mustCreateMini(t, e, 2, 6)

	_, err := e.DrawMini(context.Background(), "g1", "mini")
	assert.True(t, errorx.Is(err, errorx.NoEntries))
}

func TestDrawMiniUnknownThread(t *testing.T) {
	e, _, _ := newTestEngine(t)
	mustStartParent(t, e, 10)

	_, err := e.DrawMini(context.Background(), "g1", "nowhere")
	assert.True(t, errorx.Is(err, errorx.NotFound))
}

func TestDrawMiniAutoFill(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	mustStartParent(t, e, 4)
	mustCreateMini(t, e, 2, 6)

	// fill all but two parent slots
	_, err := e.ClaimSlots(ctx, "g1", "main", "alice", []int{1, 2}, false)
	require.NoError(t, err)

	_, err = e.ClaimSlots(ctx, "g1", "mini", "winner", []int{1}, false)
	require.NoError(t, err)

	res, err := e.DrawMini(ctx, "g1", "mini")
	require.NoError(t, err)
	assert.Equal(t, "winner", res.WinnerID)
	assert.Equal(t, []int{3, 4}, res.AutoFilled)
	require.NotNil(t, res.ParentClosure)
	assert.True(t, res.ParentClosure.NotifyHost)
	assert.Equal(t, 0, res.MainsLeft)

	// auto-filled slots are entitled, so the winner owes nothing
	tot, err := e.Totals(ctx, "g1", "main")
	require.NoError(t, err)
	byHolder := map[string]int{}
	for _, h := range tot.PerHolder {
		byHolder[h.HolderID] = h.Amount
	}
	assert.Equal(t, 200, byHolder["alice"])
	assert.Zero(t, byHolder["winner"])
}

func TestDrawMiniPoolCountsCoHoldersIndividually(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	mustStartParent(t, e, 10)
	mustCreateMini(t, e, 1, 6)

	// one split slot only: both co-holders are in the pool, so the
	// winner must be one of them
	_, err := e.ClaimSlots(ctx, "g1", "mini", "alice", []int{1}, false)
	require.NoError(t, err)
	_, err = e.SplitSlot(ctx, "g1", "mini", 1, "bob", "alice", false)
	require.NoError(t, err)

	res, err := e.DrawMini(ctx, "g1", "mini")
	require.NoError(t, err)
	assert.Equal(t, 1, res.WinningSlot)
	assert.Contains(t, []string{"alice", "bob"}, res.WinnerID)
}

func TestMiniWinnerStarOnParentBoard(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	mustStartParent(t, e, 10)
	mustCreateMini(t, e, 1, 6)

	_, err := e.ClaimSlots(ctx, "g1", "mini", "winner", []int{1}, false)
	require.NoError(t, err)
	_, err = e.DrawMini(ctx, "g1", "mini")
	require.NoError(t, err)

	_, err = e.ClaimSlots(ctx, "g1", "main", "winner", []int{1}, false)
	require.NoError(t, err)

	snap, ok := e.Snapshot("g1", "main", func(id string) string { return id })
	require.True(t, ok)
	assert.Contains(t, snap.Board, "winner ⭐")
}

func TestRepeatMiniWinAccumulatesEntitlement(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	mustStartParent(t, e, 10)

	for i, mini := range []string{"mini1", "mini2"} {
		_, err := e.CreateMini(ctx, MiniParams{
			ScopeID: "g1", ParentChannelID: "main", MiniChannelID: mini,
			Tickets: 1, MiniSlots: 6, UnitPrice: 100,
		})
		require.NoError(t, err, "mini %d", i)
		_, err = e.ClaimSlots(ctx, "g1", mini, "winner", []int{1}, false)
		require.NoError(t, err)
		_, err = e.DrawMini(ctx, "g1", mini)
		require.NoError(t, err)
	}

	// the live reservation caps each batch, but the accumulated
	// entitlement covers both slots
	claim, err := e.ClaimSlots(ctx, "g1", "main", "winner", []int{1, 2, 3}, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, claim.Claimed)

	claim, err = e.ClaimSlots(ctx, "g1", "main", "winner", []int{2}, false)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, claim.Claimed)

	tot, err := e.Totals(ctx, "g1", "main")
	require.NoError(t, err)
	for _, h := range tot.PerHolder {
		assert.NotEqual(t, "winner", h.HolderID)
	}
}
