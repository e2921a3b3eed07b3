package models

import (
	"sort"
	"strings"
)

// All timestamps in this package are epoch milliseconds, matching the
// persisted document layout.

// SlotClaim holds the one or two identities occupying a numbered slot.
// A slot record only exists while at least one holder remains.
type SlotClaim struct {
	Owner   string `json:"owner"`
	CoOwner string `json:"coOwner,omitempty"`
}

func (c *SlotClaim) IsSplit() bool {
	return c != nil && c.CoOwner != ""
}

func (c *SlotClaim) Has(holderID string) bool {
	return c != nil && (c.Owner == holderID || c.CoOwner == holderID)
}

// Holders returns the occupying identities, owner first.
func (c *SlotClaim) Holders() []string {
	if c == nil {
		return nil
	}
	if c.CoOwner == "" {
		return []string{c.Owner}
	}
	return []string{c.Owner, c.CoOwner}
}

// Remove drops holderID from the claim. It returns the remaining claim,
// or nil when the last holder was removed.
func (c *SlotClaim) Remove(holderID string) *SlotClaim {
	switch {
	case c == nil:
		return nil
	case c.Owner == holderID && c.CoOwner != "":
		return &SlotClaim{Owner: c.CoOwner}
	case c.Owner == holderID:
		return nil
	case c.CoOwner == holderID:
		return &SlotClaim{Owner: c.Owner}
	default:
		return c
	}
}

// Raffle is one numbered-slot raffle, scoped to a channel or thread.
type Raffle struct {
	Active         bool               `json:"active"`
	Capacity       int                `json:"capacity"`
	PriceText      string             `json:"priceText"`
	Claims         map[int]*SlotClaim `json:"claims"`
	HostID         string             `json:"hostId,omitempty"`
	FullNotified   bool               `json:"fullNotified,omitempty"`
	TotalsPosted   bool               `json:"totalsPosted,omitempty"`
	EndsAt         int64              `json:"endsAt,omitempty"`
	BoardMessageID string             `json:"boardMessageId,omitempty"`
	LastMainsLeft  *int               `json:"lastMainsLeft,omitempty"`
	CreatedAt      int64              `json:"createdAt"`
}

func (r *Raffle) ClaimedCount() int {
	return len(r.Claims)
}

func (r *Raffle) IsFull() bool {
	return r.Capacity > 0 && r.ClaimedCount() >= r.Capacity
}

// HolderSlots returns the slot numbers holderID occupies, ascending.
func (r *Raffle) HolderSlots(holderID string) []int {
	var nums []int
	for n, c := range r.Claims {
		if c.Has(holderID) {
			nums = append(nums, n)
		}
	}
	sort.Ints(nums)
	return nums
}

// OpenSlots returns the unclaimed slot numbers, ascending.
func (r *Raffle) OpenSlots() []int {
	var nums []int
	for n := 1; n <= r.Capacity; n++ {
		if r.Claims[n] == nil {
			nums = append(nums, n)
		}
	}
	return nums
}

// Reservation is a time-boxed claim on a count of parent slots.
type Reservation struct {
	Remaining int   `json:"remaining"`
	ExpiresAt int64 `json:"expiresAt"`
}

// MiniLink ties a mini raffle thread to its parent raffle.
type MiniLink struct {
	ParentKey string `json:"mainKey"`
	Tickets   int    `json:"tickets"`
	CreatedAt int64  `json:"createdAt"`
}

// Entitlement tracks how many parent slots a mini winner may still mark,
// and which specific slot numbers ended up marked. Marked slots are
// excluded from cost totals.
type Entitlement struct {
	Remaining int   `json:"remaining"`
	Slots     []int `json:"slots,omitempty"`
}

func (e *Entitlement) HasSlot(n int) bool {
	if e == nil {
		return false
	}
	for _, s := range e.Slots {
		if s == n {
			return true
		}
	}
	return false
}

// Giveaway is keyed by its announcement message id.
type Giveaway struct {
	ChannelID    string   `json:"channelId"`
	Prize        string   `json:"prize"`
	WinnerCount  int      `json:"winners"`
	EndsAt       int64    `json:"endsAt"`
	StartedAt    int64    `json:"startedAt"`
	Ended        bool     `json:"ended"`
	EndedAt      int64    `json:"endedAt,omitempty"`
	Participants []string `json:"participants"`
	LastWinners  []string `json:"lastWinners,omitempty"`
	HostID       string   `json:"hostId"`
	SponsorID    string   `json:"sponsorId,omitempty"`
}

func (g *Giveaway) HasParticipant(userID string) bool {
	for _, p := range g.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// UserXP is the per-user leveling record.
type UserXP struct {
	XP          int   `json:"xp"`
	Level       int   `json:"level"`
	LastAwardAt int64 `json:"lastXpAt"`
}

// Document is the whole durable state. The store owns it exclusively;
// every mutation rewrites the full document.
type Document struct {
	Users        map[string]*UserXP                 `json:"users"`
	Giveaways    map[string]*Giveaway               `json:"giveaways"`
	Raffles      map[string]*Raffle                 `json:"raffles"`
	Reservations map[string]map[string]*Reservation `json:"reservations"`
	MiniLinks    map[string]*MiniLink               `json:"miniThreads"`
	MiniWinners  map[string]map[string]bool         `json:"miniWinners"`
	Entitlements map[string]map[string]*Entitlement `json:"miniWinnerSlots"`
}

func NewDocument() *Document {
	d := &Document{}
	d.Normalize()
	return d
}

// Normalize repairs nil collections after a load from disk.
func (d *Document) Normalize() {
	if d.Users == nil {
		d.Users = map[string]*UserXP{}
	}
	if d.Giveaways == nil {
		d.Giveaways = map[string]*Giveaway{}
	}
	if d.Raffles == nil {
		d.Raffles = map[string]*Raffle{}
	}
	if d.Reservations == nil {
		d.Reservations = map[string]map[string]*Reservation{}
	}
	if d.MiniLinks == nil {
		d.MiniLinks = map[string]*MiniLink{}
	}
	if d.MiniWinners == nil {
		d.MiniWinners = map[string]map[string]bool{}
	}
	if d.Entitlements == nil {
		d.Entitlements = map[string]map[string]*Entitlement{}
	}
}

// RaffleKey builds the composite raffle identifier.
func RaffleKey(scopeID, channelID string) string {
	return scopeID + ":" + channelID
}

// ChannelOfKey extracts the channel/thread part of a raffle key.
func ChannelOfKey(key string) string {
	if i := strings.LastIndex(key, ":"); i >= 0 {
		return key[i+1:]
	}
	return key
}

const placeholderPrefix = "mini:"

// PlaceholderHolder is the reservation holder identity used for capacity
// pre-reserved by an undrawn mini raffle. Placeholders reduce the
// mains-left count but never lock the parent for claiming.
func PlaceholderHolder(miniKey string) string {
	return placeholderPrefix + miniKey
}

func IsPlaceholder(holderID string) bool {
	return strings.HasPrefix(holderID, placeholderPrefix)
}

// Raffle returns the raffle stored under key, lazily creating an
// inactive zero raffle the way the original data layer did.
func (d *Document) Raffle(key string) *Raffle {
	r, ok := d.Raffles[key]
	if !ok {
		r = &Raffle{Claims: map[int]*SlotClaim{}}
		d.Raffles[key] = r
	}
	if r.Claims == nil {
		r.Claims = map[int]*SlotClaim{}
	}
	return r
}

// Entitlement returns the live entitlement for holder on parentKey, nil
// when absent.
func (d *Document) Entitlement(parentKey, holderID string) *Entitlement {
	return d.Entitlements[parentKey][holderID]
}

// SetEntitlement records a consumable entitlement; a zero remaining with
// no marked slots removes the record.
func (d *Document) SetEntitlement(parentKey, holderID string, e *Entitlement) {
	bucket := d.Entitlements[parentKey]
	if bucket == nil {
		bucket = map[string]*Entitlement{}
		d.Entitlements[parentKey] = bucket
	}
	bucket[holderID] = e
}

// MarkMiniWinner sets the persistent display mark for holder on parentKey.
func (d *Document) MarkMiniWinner(parentKey, holderID string) {
	bucket := d.MiniWinners[parentKey]
	if bucket == nil {
		bucket = map[string]bool{}
		d.MiniWinners[parentKey] = bucket
	}
	bucket[holderID] = true
}

func (d *Document) IsMiniWinner(parentKey, holderID string) bool {
	return d.MiniWinners[parentKey][holderID]
}

// ResetRaffleScope wipes reservation, mini-winner and entitlement state
// for a raffle key. A restart begins a fresh generation.
func (d *Document) ResetRaffleScope(key string) {
	delete(d.Reservations, key)
	delete(d.MiniWinners, key)
	delete(d.Entitlements, key)
}
