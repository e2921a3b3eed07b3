package giveaway

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
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
	MaxWinners = 50

	timerPrefix = "giveaway:"
)

var durationRe = regexp.MustCompile(`^(\d+)\s*([mhd])$`)

// ParseDuration reads giveaway durations like "10m", "2h" or "1d".
func ParseDuration(s string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, errorx.New(errorx.InvalidArgument, "duration must be like 10m, 2h or 1d")
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, errorx.New(errorx.InvalidArgument, "duration must be like 10m, 2h or 1d")
	}
	switch m[2] {
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	default:
		return time.Duration(n) * 24 * time.Hour, nil
	}
}

// Engine runs the giveaway lifecycle: SCHEDULED → ENDED, with reroll as
// the only allowed re-entry into ENDED. Ending is safe against a manual
// end racing the timer: the state check and the draw share one store
// transaction, so the loser of the race observes AlreadyEnded.
type Engine struct {
	store *store.Store
	clock clockwork.Clock
	sched *sched.Scheduler
	log   zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand

	// OnEnded fires after a timer-driven end has been persisted,
	// outside the store lock.
	OnEnded func(ctx context.Context, res *EndResult)
}

func New(st *store.Store, clock clockwork.Clock, rng *rand.Rand, sch *sched.Scheduler, log zerolog.Logger) *Engine {
	return &Engine{store: st, clock: clock, rng: rng, sched: sch, log: log}
}

func (e *Engine) now() int64 {
	return e.clock.Now().UnixMilli()
}

// StartParams describes a giveaway being registered. ID is the
// announcement message id, minted by the platform layer before the
// state exists.
type StartParams struct {
	ID           string
	ChannelID    string
	Prize        string
	Duration     time.Duration
	WinnerCount  int
	HostID       string
	SponsorID    string
	AnnouncePing bool
}

// Start registers a giveaway and arms its end timer.
func (e *Engine) Start(ctx context.Context, p StartParams) (*models.Giveaway, error) {
	if p.WinnerCount < 1 || p.WinnerCount > MaxWinners {
		return nil, errorx.New(errorx.InvalidArgument, "winners must be 1-%d", MaxWinners)
	}
	if p.Duration <= 0 {
		return nil, errorx.New(errorx.InvalidArgument, "duration must be positive")
	}
	if p.ID == "" {
		return nil, errorx.New(errorx.InvalidArgument, "missing giveaway id")
	}

	now := e.now()
	g := &models.Giveaway{
		ChannelID:    p.ChannelID,
		Prize:        p.Prize,
		WinnerCount:  p.WinnerCount,
		EndsAt:       now + p.Duration.Milliseconds(),
		StartedAt:    now,
		Participants: []string{},
		HostID:       p.HostID,
		SponsorID:    p.SponsorID,
	}

	err := e.store.Update(ctx, func(doc *models.Document) error {
		if _, exists := doc.Giveaways[p.ID]; exists {
			return errorx.New(errorx.InvalidArgument, "giveaway %s already exists", p.ID)
		}
		doc.Giveaways[p.ID] = g
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.sched.Arm(timerPrefix+p.ID, g.EndsAt, e.timerEnd)

	cp := *g
	return &cp, nil
}

func (e *Engine) timerEnd(ctx context.Context, timerKey string) {
	id := strings.TrimPrefix(timerKey, timerPrefix)
	res, err := e.End(ctx, id, false)
	if err != nil {
		if !errorx.Is(err, errorx.AlreadyEnded) && !errorx.Is(err, errorx.NotFound) {
			e.log.Warn().Err(err).Str("giveaway", id).Msg("timer end failed")
		}
		return
	}
	if e.OnEnded != nil {
		e.OnEnded(ctx, res)
	}
}

// RearmTimers re-installs end deadlines from persisted state on boot.
func (e *Engine) RearmTimers() {
	e.store.View(func(doc *models.Document) {
		for id, g := range doc.Giveaways {
			if !g.Ended {
				e.sched.Arm(timerPrefix+id, g.EndsAt, e.timerEnd)
			}
		}
	})
}

type JoinResult struct {
	Already bool
	Entries int
}

// Join enters a participant. Repeat joins are reported, not errors.
func (e *Engine) Join(ctx context.Context, giveawayID, userID string) (*JoinResult, error) {
	res := &JoinResult{}
	err := e.store.Update(ctx, func(doc *models.Document) error {
		g := doc.Giveaways[giveawayID]
		if g == nil {
			return errorx.New(errorx.NotFound, "this giveaway no longer exists")
		}
		if g.Ended {
			return errorx.New(errorx.AlreadyEnded, "this giveaway has ended")
		}
		if g.HasParticipant(userID) {
			res.Already = true
			res.Entries = len(g.Participants)
			return nil
		}
		g.Participants = append(g.Participants, userID)
		res.Entries = len(g.Participants)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

type EndResult struct {
	ID       string
	Giveaway models.Giveaway
	Winners  []string
	Reroll   bool
}

// End draws min(winnerCount, participants) distinct winners uniformly
// without replacement. A fresh end flips the giveaway to ENDED exactly
// once; reroll re-samples without touching ended state or participants.
func (e *Engine) End(ctx context.Context, giveawayID string, reroll bool) (*EndResult, error) {
	res := &EndResult{ID: giveawayID, Reroll: reroll}

	err := e.store.Update(ctx, func(doc *models.Document) error {
		g := doc.Giveaways[giveawayID]
		if g == nil {
			return errorx.New(errorx.NotFound, "giveaway not found")
		}
		if g.Ended && !reroll {
			return errorx.New(errorx.AlreadyEnded, "giveaway already ended")
		}

		winners := e.sample(g.Participants, g.WinnerCount)
		g.LastWinners = winners
		if !g.Ended {
			g.Ended = true
			g.EndedAt = e.now()
		}

		res.Winners = winners
		res.Giveaway = *g
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.sched.Cancel(timerPrefix + giveawayID)
	return res, nil
}

// sample draws up to count distinct entries from participants. The
// input is deduplicated defensively even though Join never stores
// duplicates.
func (e *Engine) sample(participants []string, count int) []string {
	seen := map[string]bool{}
	pool := make([]string, 0, len(participants))
	for _, p := range participants {
		if !seen[p] {
			seen[p] = true
			pool = append(pool, p)
		}
	}
	if count > len(pool) {
		count = len(pool)
	}

	e.mu.Lock()
	perm := e.rng.Perm(len(pool))
	e.mu.Unlock()

	winners := make([]string, 0, count)
	for _, idx := range perm[:count] {
		winners = append(winners, pool[idx])
	}
	return winners
}

// Listing is one row of the active-giveaway overview.
type Listing struct {
	ID          string
	Prize       string
	WinnerCount int
	EndsAt      int64
	Entries     int
	Ended       bool
	LastWinners []string
	HostID      string
	SponsorID   string
	ChannelID   string
}

// List returns all giveaways, open first, then most recently started.
func (e *Engine) List(ctx context.Context) []Listing {
	var out []Listing
	e.store.View(func(doc *models.Document) {
		for id, g := range doc.Giveaways {
			out = append(out, Listing{
				ID:          id,
				Prize:       g.Prize,
				WinnerCount: g.WinnerCount,
				EndsAt:      g.EndsAt,
				Entries:     len(g.Participants),
				Ended:       g.Ended,
				LastWinners: append([]string(nil), g.LastWinners...),
				HostID:      g.HostID,
				SponsorID:   g.SponsorID,
				ChannelID:   g.ChannelID,
			})
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ended != out[j].Ended {
			return !out[i].Ended
		}
		if out[i].EndsAt != out[j].EndsAt {
			return out[i].EndsAt < out[j].EndsAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Sweep ends every open giveaway whose deadline has passed. It backs
// the periodic due-check and is also the restart safety net for
// deadlines that lapsed while the process was down.
func (e *Engine) Sweep(ctx context.Context) []*EndResult {
	now := e.now()
	var due []string
	e.store.View(func(doc *models.Document) {
		for id, g := range doc.Giveaways {
			if !g.Ended && g.EndsAt <= now {
				due = append(due, id)
			}
		}
	})

	var out []*EndResult
	for _, id := range due {
		res, err := e.End(ctx, id, false)
		if err != nil {
			if !errorx.Is(err, errorx.AlreadyEnded) {
				e.log.Warn().Err(err).Str("giveaway", id).Msg("sweep end failed")
			}
			continue
		}
		out = append(out, res)
	}
	return out
}

// Describe formats the entry announcement body.
func Describe(g *models.Giveaway, mention func(string) string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎉 Giveaway: %s\n", g.Prize)
	fmt.Fprintf(&b, "Winners: %d\n", g.WinnerCount)
	fmt.Fprintf(&b, "Ends: %s\n", time.UnixMilli(g.EndsAt).UTC().Format("2006-01-02 15:04 MST"))
	if g.SponsorID != "" {
		fmt.Fprintf(&b, "Sponsored by %s\n", mention(g.SponsorID))
	}
	b.WriteString("\nTap the button below to enter!")
	return b.String()
}
