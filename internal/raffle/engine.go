package raffle

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/tlw-bit/cherbot/internal/models"
	"github.com/tlw-bit/cherbot/internal/sched"
	"github.com/tlw-bit/cherbot/internal/store"
	"github.com/tlw-bit/cherbot/pkg/errorx"
)

const (
	// MaxCapacity bounds main and mini raffle sizes.
	MaxCapacity = 500

	timerPrefix = "raffle:"

	// placeholderTTL is the "until drawn" expiry for capacity reserved
	// by an undrawn mini. Long enough to outlive any realistic raffle.
	placeholderTTL = 30 * 24 * time.Hour
)

// Engine owns main and mini raffle state: slot claims, splits,
// reservations, entitlements and close handling. All mutations run as a
// single store transaction, read to persisted write, so two claims for
// the same slot can never interleave.
type Engine struct {
	store  *store.Store
	ledger *Ledger
	clock  clockwork.Clock
	sched  *sched.Scheduler
	log    zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand

	// MiniWindow is how long a drawn mini winner keeps exclusive
	// claiming rights on the parent.
	MiniWindow time.Duration

	// OnClosed is invoked after a timer-driven close has been
	// persisted, outside the store lock, so announcements never sit
	// inside the critical section.
	OnClosed func(ctx context.Context, c *Closure)
}

func NewEngine(st *store.Store, ledger *Ledger, clock clockwork.Clock, rng *rand.Rand, sch *sched.Scheduler, log zerolog.Logger) *Engine {
	return &Engine{
		store:      st,
		ledger:     ledger,
		clock:      clock,
		sched:      sch,
		log:        log,
		rng:        rng,
		MiniWindow: 10 * time.Minute,
	}
}

func (e *Engine) now() int64 {
	return e.clock.Now().UnixMilli()
}

func (e *Engine) intn(n int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Intn(n)
}

// Closure describes what happened when a raffle left the ACTIVE state.
// The caller turns it into announcements after the mutation persisted.
type Closure struct {
	Key          string
	HostID       string
	NotifyHost   bool
	Totals       *Totals
	PostTotals   bool
	TimerExpired bool
}

// closeLocked transitions a raffle out of ACTIVE, firing each one-shot
// exactly once across restarts and board re-renders.
func (e *Engine) closeLocked(doc *models.Document, key string, r *models.Raffle, timerExpired bool) *Closure {
	r.Active = false
	c := &Closure{Key: key, HostID: r.HostID, TimerExpired: timerExpired}

	isMini := doc.MiniLinks[models.ChannelOfKey(key)] != nil
	if !isMini && r.HostID != "" && !r.FullNotified {
		r.FullNotified = true
		c.NotifyHost = true
	}

	if !r.TotalsPosted {
		tot := ComputeTotals(doc, key, r)
		if tot.Priced() {
			r.TotalsPosted = true
			c.Totals = tot
			c.PostTotals = true
		}
	}
	return c
}

// StartParams configures a new raffle generation in a scope.
type StartParams struct {
	ScopeID   string
	ChannelID string
	HostID    string
	Capacity  int
	PriceText string
	Duration  time.Duration // optional auto-close
}

type StartResult struct {
	Key       string
	Capacity  int
	PriceText string
	EndsAt    int64
	MainsLeft int
}

// StartRaffle resets the scope to a fresh raffle. A restart wipes the
// previous generation's reservations, mini-winner marks and
// entitlements for this key.
func (e *Engine) StartRaffle(ctx context.Context, p StartParams) (*StartResult, error) {
	if p.Capacity < 1 || p.Capacity > MaxCapacity {
		return nil, errorx.New(errorx.InvalidArgument, "pick a slot amount between 1 and %d", MaxCapacity)
	}

	key := models.RaffleKey(p.ScopeID, p.ChannelID)
	res := &StartResult{Key: key, Capacity: p.Capacity}

	err := e.store.Update(ctx, func(doc *models.Document) error {
		r := doc.Raffle(key)
		now := e.now()

		r.Active = true
		r.Capacity = p.Capacity
		r.PriceText = strings.TrimSpace(p.PriceText)
		r.Claims = map[int]*models.SlotClaim{}
		r.HostID = p.HostID
		r.FullNotified = false
		r.TotalsPosted = false
		r.BoardMessageID = ""
		r.LastMainsLeft = nil
		r.CreatedAt = now
		r.EndsAt = 0
		if p.Duration > 0 {
			r.EndsAt = now + p.Duration.Milliseconds()
		}

		doc.ResetRaffleScope(key)

		res.PriceText = r.PriceText
		res.EndsAt = r.EndsAt
		res.MainsLeft = e.mainsLeftLocked(doc, key, r)
		return nil
	})
	if err != nil {
		return nil, err
	}

	timerKey := timerPrefix + key
	if res.EndsAt > 0 {
		e.sched.Arm(timerKey, res.EndsAt, e.timerClose)
	} else {
		e.sched.Cancel(timerKey)
	}
	return res, nil
}

func (e *Engine) timerClose(ctx context.Context, timerKey string) {
	key := strings.TrimPrefix(timerKey, timerPrefix)
	c, err := e.CloseRaffle(ctx, key, true)
	if err != nil {
		e.log.Warn().Err(err).Str("raffle", key).Msg("timer close failed")
		return
	}
	if c != nil && e.OnClosed != nil {
		e.OnClosed(ctx, c)
	}
}

// RearmTimers re-installs auto-close deadlines from persisted state.
// Called once on boot; deadlines already in the past fire on the next
// scheduler tick.
func (e *Engine) RearmTimers() {
	e.store.View(func(doc *models.Document) {
		for key, r := range doc.Raffles {
			if r.Active && r.EndsAt > 0 {
				e.sched.Arm(timerPrefix+key, r.EndsAt, e.timerClose)
			}
		}
	})
}

// CloseRaffle deactivates a raffle regardless of fill level. A nil
// closure with nil error means it was already closed.
func (e *Engine) CloseRaffle(ctx context.Context, key string, timerExpired bool) (*Closure, error) {
	var closure *Closure
	err := e.store.Update(ctx, func(doc *models.Document) error {
		r := doc.Raffles[key]
		if r == nil || r.Capacity == 0 {
			return errorx.New(errorx.NotFound, "no raffle found here")
		}
		if !r.Active {
			return nil
		}
		closure = e.closeLocked(doc, key, r, timerExpired)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.sched.Cancel(timerPrefix + key)
	return closure, nil
}

// Rejected explains why one requested number was not claimed.
type Rejected struct {
	Number int
	Reason errorx.Code
}

// ClaimResult reports a bulk claim as partial success.
type ClaimResult struct {
	Claimed     []int
	Rejected    []Rejected
	Reservation *models.Reservation // post-consume allowance snapshot
	MainsLeft   int
	BecameFull  bool
	Closure     *Closure
}

// ClaimSlots assigns the requested numbers to holderID, in input order,
// honoring locks, free-mode limits and reservation caps. Requests
// beyond the holder's allowance are dropped, not rejected.
func (e *Engine) ClaimSlots(ctx context.Context, scopeID, channelID, holderID string, numbers []int, privileged bool) (*ClaimResult, error) {
	return e.claim(ctx, scopeID, channelID, holderID, numbers, false, privileged)
}

// ClaimRemaining assigns every open slot to holderID, subject to the
// same rules as ClaimSlots.
func (e *Engine) ClaimRemaining(ctx context.Context, scopeID, channelID, holderID string, privileged bool) (*ClaimResult, error) {
	return e.claim(ctx, scopeID, channelID, holderID, nil, true, privileged)
}

func (e *Engine) claim(ctx context.Context, scopeID, channelID, holderID string, numbers []int, remaining bool, privileged bool) (*ClaimResult, error) {
	key := models.RaffleKey(scopeID, channelID)
	res := &ClaimResult{}

	err := e.store.Update(ctx, func(doc *models.Document) error {
		r := doc.Raffles[key]
		if r == nil || !r.Active || r.Capacity == 0 {
			return errorx.New(errorx.NotFound, "no active raffle here")
		}
		if e.ledger.IsLockedForOthers(doc, key, holderID, privileged) {
			return errorx.New(errorx.Locked, "a mini winner is claiming right now, hang tight")
		}

		attempt := numbers
		if remaining {
			attempt = r.OpenSlots()
		}
		attempt = dedupe(attempt)

		reservation := e.ledger.Get(doc, key, holderID)
		free := IsFree(r.PriceText)
		if free && reservation == nil && len(r.HolderSlots(holderID)) >= 1 {
			// At the one-per-person cap. Re-claiming slots the holder
			// already owns stays an idempotent no-op, only asking for
			// anything new is an error.
			for _, n := range attempt {
				if n >= 1 && n <= r.Capacity && !r.Claims[n].Has(holderID) {
					return errorx.New(errorx.FreeLimitReached, "free raffle: one slot per person")
				}
			}
		}

		// The allowance caps new claims only. Out-of-range numbers and
		// slots the holder already owns never consume it.
		allowed := math.MaxInt
		if reservation != nil {
			allowed = reservation.Remaining
		} else if free {
			allowed = 1
		}

		var newly []int
		for _, n := range attempt {
			if n < 1 || n > r.Capacity {
				res.Rejected = append(res.Rejected, Rejected{Number: n, Reason: errorx.InvalidArgument})
				continue
			}
			c := r.Claims[n]
			if c.Has(holderID) {
				res.Claimed = append(res.Claimed, n) // already theirs, no-op
				continue
			}
			if c != nil {
				res.Rejected = append(res.Rejected, Rejected{Number: n, Reason: errorx.Taken})
				continue
			}
			if len(newly) >= allowed {
				continue // beyond the allowance, dropped silently
			}
			r.Claims[n] = &models.SlotClaim{Owner: holderID}
			res.Claimed = append(res.Claimed, n)
			newly = append(newly, n)
		}

		if len(newly) > 0 {
			e.markEntitledLocked(doc, key, holderID, newly)
			if reservation != nil {
				if after := e.ledger.Consume(doc, key, holderID, len(newly)); after != nil {
					cp := *after
					res.Reservation = &cp
				}
			}
		}

		if r.IsFull() {
			res.BecameFull = true
			res.Closure = e.closeLocked(doc, key, r, false)
		}
		res.MainsLeft = e.mainsLeftLocked(doc, key, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.BecameFull {
		e.sched.Cancel(timerPrefix + key)
	}
	return res, nil
}

// markEntitledLocked tags newly claimed slots as entitlement slots while
// the holder still has outstanding mini entitlement. The entitlement
// count is separate from the time-boxed reservation: it survives an
// expired claim window so totals still exclude exactly the slots the
// mini paid for.
func (e *Engine) markEntitledLocked(doc *models.Document, key, holderID string, newly []int) {
	ent := doc.Entitlement(key, holderID)
	if ent == nil || ent.Remaining <= 0 {
		return
	}
	m := ent.Remaining
	if m > len(newly) {
		m = len(newly)
	}
	ent.Slots = append(ent.Slots, newly[:m]...)
	ent.Remaining -= m
}

func (e *Engine) mainsLeftLocked(doc *models.Document, key string, r *models.Raffle) int {
	left := r.Capacity - r.ClaimedCount() - e.ledger.TotalActive(doc, key)
	if left < 0 {
		return 0
	}
	return left
}

// MainsLeft recomputes capacity minus claims minus active reservations.
func (e *Engine) MainsLeft(ctx context.Context, scopeID, channelID string) (int, error) {
	key := models.RaffleKey(scopeID, channelID)
	left := 0
	err := e.store.Update(ctx, func(doc *models.Document) error {
		r := doc.Raffles[key]
		if r == nil || r.Capacity == 0 {
			return errorx.New(errorx.NotFound, "no raffle found here")
		}
		left = e.mainsLeftLocked(doc, key, r)
		return nil
	})
	return left, err
}

// AnnounceMainsLeft returns the current mains-left count and whether it
// changed since the last announcement for this raffle.
func (e *Engine) AnnounceMainsLeft(ctx context.Context, scopeID, channelID string) (left int, changed bool, err error) {
	key := models.RaffleKey(scopeID, channelID)
	err = e.store.Update(ctx, func(doc *models.Document) error {
		r := doc.Raffles[key]
		if r == nil || r.Capacity == 0 {
			return errorx.New(errorx.NotFound, "no raffle found here")
		}
		left = e.mainsLeftLocked(doc, key, r)
		if r.LastMainsLeft == nil || *r.LastMainsLeft != left {
			changed = true
			v := left
			r.LastMainsLeft = &v
		}
		return nil
	})
	return left, changed, err
}

type SplitResult struct {
	Slot    int
	Owner   string
	CoOwner string
}

// SplitSlot appends a second holder to a single-held slot. Splitting is
// explicit only: typing another holder's number never splits.
func (e *Engine) SplitSlot(ctx context.Context, scopeID, channelID string, slot int, newHolderID, requestedBy string, privileged bool) (*SplitResult, error) {
	key := models.RaffleKey(scopeID, channelID)
	res := &SplitResult{Slot: slot}

	err := e.store.Update(ctx, func(doc *models.Document) error {
		r := doc.Raffles[key]
		if r == nil || r.Capacity == 0 {
			return errorx.New(errorx.NotFound, "no raffle found here")
		}
		if slot < 1 || slot > r.Capacity {
			return errorx.New(errorx.InvalidArgument, "pick 1-%d", r.Capacity)
		}
		if IsFree(r.PriceText) {
			return errorx.New(errorx.FreeRaffleNoSplit, "split is only for paid raffles")
		}

		c := r.Claims[slot]
		if c == nil {
			return errorx.New(errorx.NotFound, "slot #%d is not claimed yet", slot)
		}
		if c.IsSplit() {
			return errorx.New(errorx.AlreadySplit, "slot #%d is already split", slot)
		}
		if c.Owner != requestedBy && !privileged {
			return errorx.New(errorx.Forbidden, "only the slot owner (or a mod) can split it")
		}
		if c.Owner == newHolderID {
			return errorx.New(errorx.InvalidArgument, "they're already on that slot")
		}

		c.CoOwner = newHolderID
		res.Owner = c.Owner
		res.CoOwner = c.CoOwner
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

type ReleaseResult struct {
	Freed []int
}

// ReleaseSlots removes holderID from every slot they hold, or, with a
// specific slot and privilege, unconditionally frees that slot.
func (e *Engine) ReleaseSlots(ctx context.Context, scopeID, channelID, holderID string, slot *int, privileged bool) (*ReleaseResult, error) {
	key := models.RaffleKey(scopeID, channelID)
	res := &ReleaseResult{}

	err := e.store.Update(ctx, func(doc *models.Document) error {
		r := doc.Raffles[key]
		if r == nil || r.Capacity == 0 {
			return errorx.New(errorx.NotFound, "no raffle found here")
		}

		if slot == nil {
			for _, n := range r.HolderSlots(holderID) {
				next := r.Claims[n].Remove(holderID)
				if next == nil {
					delete(r.Claims, n)
				} else {
					r.Claims[n] = next
				}
				res.Freed = append(res.Freed, n)
			}
			if len(res.Freed) == 0 {
				return errorx.New(errorx.NotFound, "you don't have any claimed numbers")
			}
			return nil
		}

		if !privileged {
			return errorx.New(errorx.Forbidden, "only mods can free a specific slot number")
		}
		n := *slot
		if n < 1 || n > r.Capacity {
			return errorx.New(errorx.InvalidArgument, "pick 1-%d", r.Capacity)
		}
		if r.Claims[n] == nil {
			return errorx.New(errorx.NotFound, "slot #%d is already available", n)
		}
		delete(r.Claims, n)
		res.Freed = append(res.Freed, n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

type AssignResult struct {
	Slot       int
	BecameFull bool
	Closure    *Closure
	MainsLeft  int
}

// AssignSlot is the privileged administrative override of a claim.
func (e *Engine) AssignSlot(ctx context.Context, scopeID, channelID string, slot int, holderID, secondID string, privileged bool) (*AssignResult, error) {
	if !privileged {
		return nil, errorx.New(errorx.Forbidden, "mods only")
	}

	key := models.RaffleKey(scopeID, channelID)
	res := &AssignResult{Slot: slot}

	err := e.store.Update(ctx, func(doc *models.Document) error {
		r := doc.Raffles[key]
		if r == nil || r.Capacity == 0 {
			return errorx.New(errorx.NotFound, "no raffle found here")
		}
		if slot < 1 || slot > r.Capacity {
			return errorx.New(errorx.InvalidArgument, "pick 1-%d", r.Capacity)
		}

		r.Claims[slot] = &models.SlotClaim{Owner: holderID, CoOwner: secondID}
		if r.Active && r.IsFull() {
			res.BecameFull = true
			res.Closure = e.closeLocked(doc, key, r, false)
		}
		res.MainsLeft = e.mainsLeftLocked(doc, key, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.BecameFull {
		e.sched.Cancel(timerPrefix + key)
	}
	return res, nil
}

// Totals computes the cost split. Works on closed raffles too.
func (e *Engine) Totals(ctx context.Context, scopeID, channelID string) (*Totals, error) {
	key := models.RaffleKey(scopeID, channelID)
	var t *Totals
	var notFound bool
	e.store.View(func(doc *models.Document) {
		r := doc.Raffles[key]
		if r == nil || r.Capacity == 0 {
			notFound = true
			return
		}
		t = ComputeTotals(doc, key, r)
	})
	if notFound {
		return nil, errorx.New(errorx.NotFound, "no raffle found here")
	}
	return t, nil
}

type RollResult struct {
	Die          int
	Number       int
	CapacityDraw bool
	WinnerID     string
}

// Roll rolls a die. When the die size matches the local raffle's
// capacity this is the capacity draw: the rolled slot's first holder
// wins.
func (e *Engine) Roll(ctx context.Context, scopeID, channelID string, die int) (*RollResult, error) {
	if die < 1 {
		return nil, errorx.New(errorx.InvalidArgument, "die size must be positive")
	}

	res := &RollResult{Die: die, Number: 1 + e.intn(die)}

	key := models.RaffleKey(scopeID, channelID)
	e.store.View(func(doc *models.Document) {
		r := doc.Raffles[key]
		if r == nil || r.Capacity == 0 || r.Capacity != die {
			return
		}
		res.CapacityDraw = true
		if c := r.Claims[res.Number]; c != nil {
			res.WinnerID = c.Owner
		}
	})
	return res, nil
}

// SetBoardMessage remembers the posted board message so re-renders can
// edit it in place.
func (e *Engine) SetBoardMessage(ctx context.Context, scopeID, channelID, messageID string) error {
	key := models.RaffleKey(scopeID, channelID)
	return e.store.Update(ctx, func(doc *models.Document) error {
		r := doc.Raffles[key]
		if r == nil {
			return errorx.New(errorx.NotFound, "no raffle found here")
		}
		r.BoardMessageID = messageID
		return nil
	})
}

// Snapshot returns a copy of the raffle plus its board text for
// rendering outside the lock.
func (e *Engine) Snapshot(scopeID, channelID string, mention MentionFunc) (*BoardSnapshot, bool) {
	key := models.RaffleKey(scopeID, channelID)
	var snap *BoardSnapshot
	e.store.View(func(doc *models.Document) {
		r := doc.Raffles[key]
		if r == nil || r.Capacity == 0 {
			return
		}
		snap = &BoardSnapshot{
			Key:            key,
			Active:         r.Active,
			Capacity:       r.Capacity,
			PriceText:      r.PriceText,
			BoardMessageID: r.BoardMessageID,
			Board:          RenderBoard(doc, key, r, mention),
		}
	})
	return snap, snap != nil
}

func dedupe(nums []int) []int {
	seen := map[int]bool{}
	out := nums[:0:0]
	for _, n := range nums {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
