package xp

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/tlw-bit/cherbot/internal/models"
	"github.com/tlw-bit/cherbot/internal/store"
	"github.com/tlw-bit/cherbot/pkg/errorx"
)

// Needed is the XP required to complete the given level.
func Needed(level int) int {
	return 100 + (level-1)*50
}

// Tracker awards per-message XP with an anti-spam cooldown and tracks
// level progression.
type Tracker struct {
	store *store.Store
	clock clockwork.Clock
	log   zerolog.Logger

	min      int
	max      int
	cooldown time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func New(st *store.Store, clock clockwork.Clock, rng *rand.Rand, min, max int, cooldown time.Duration, log zerolog.Logger) *Tracker {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	return &Tracker{store: st, clock: clock, rng: rng, min: min, max: max, cooldown: cooldown, log: log}
}

func (t *Tracker) roll() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.min + t.rng.Intn(t.max-t.min+1)
}

// AwardResult reports an XP grant. LeveledUp is set when the grant
// crossed at least one level boundary.
type AwardResult struct {
	Awarded   int
	XP        int
	Level     int
	LeveledUp bool
}

// Award grants random XP for a message. Messages inside the cooldown
// window are ignored and return nil without error.
func (t *Tracker) Award(ctx context.Context, userID string) (*AwardResult, error) {
	now := t.clock.Now().UnixMilli()
	var res *AwardResult
	err := t.store.Update(ctx, func(doc *models.Document) error {
		u := doc.Users[userID]
		if u == nil {
			u = &models.UserXP{Level: 1}
			doc.Users[userID] = u
		}
		if u.LastAwardAt > 0 && now-u.LastAwardAt < t.cooldown.Milliseconds() {
			return nil
		}
		u.LastAwardAt = now
		res = t.applyLocked(u, t.roll())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Grant adds a fixed amount of XP, bypassing the cooldown. Used by
// moderator commands.
func (t *Tracker) Grant(ctx context.Context, userID string, amount int) (*AwardResult, error) {
	if amount <= 0 {
		return nil, errorx.New(errorx.InvalidArgument, "amount must be positive")
	}
	var res *AwardResult
	err := t.store.Update(ctx, func(doc *models.Document) error {
		u := doc.Users[userID]
		if u == nil {
			u = &models.UserXP{Level: 1}
			doc.Users[userID] = u
		}
		res = t.applyLocked(u, amount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// applyLocked adds XP and rolls levels forward while the running total
// clears each level's requirement.
func (t *Tracker) applyLocked(u *models.UserXP, amount int) *AwardResult {
	u.XP += amount
	leveled := false
	for u.XP >= Needed(u.Level) {
		u.XP -= Needed(u.Level)
		u.Level++
		leveled = true
	}
	return &AwardResult{Awarded: amount, XP: u.XP, Level: u.Level, LeveledUp: leveled}
}

// Reset clears a user's XP back to level 1.
func (t *Tracker) Reset(ctx context.Context, userID string) error {
	return t.store.Update(ctx, func(doc *models.Document) error {
		if doc.Users[userID] == nil {
			return errorx.New(errorx.NotFound, "no XP recorded for that user")
		}
		doc.Users[userID] = &models.UserXP{Level: 1}
		return nil
	})
}

// Stats returns a user's current progress, or nil when unknown.
func (t *Tracker) Stats(userID string) *models.UserXP {
	var out *models.UserXP
	t.store.View(func(doc *models.Document) {
		if u := doc.Users[userID]; u != nil {
			cp := *u
			out = &cp
		}
	})
	return out
}

// Entry is one leaderboard row.
type Entry struct {
	UserID string
	Level  int
	XP     int
}

// Leaderboard returns the top n users by level, then XP within a level.
func (t *Tracker) Leaderboard(n int) []Entry {
	var out []Entry
	t.store.View(func(doc *models.Document) {
		for id, u := range doc.Users {
			out = append(out, Entry{UserID: id, Level: u.Level, XP: u.XP})
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		if out[i].XP != out[j].XP {
			return out[i].XP > out[j].XP
		}
		return out[i].UserID < out[j].UserID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
