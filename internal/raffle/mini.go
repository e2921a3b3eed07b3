package raffle

import (
	"context"
	"fmt"
	"math"

	"github.com/tlw-bit/cherbot/internal/models"
	"github.com/tlw-bit/cherbot/pkg/errorx"
)

const (
	MaxMiniTickets = 50
	MinMiniSlots   = 2
	MaxMiniSlots   = 100
	MaxUnitPrice   = 1_000_000
)

// MiniParams creates a child raffle whose winner receives a ticketCount
// entitlement on the parent. The mini thread itself is created by the
// platform layer; the engine only registers it.
type MiniParams struct {
	ScopeID         string
	ParentChannelID string
	MiniChannelID   string
	HostID          string
	Tickets         int
	MiniSlots       int
	UnitPrice       int
}

type MiniResult struct {
	MiniKey    string
	ParentKey  string
	Tickets    int
	MiniSlots  int
	UnitPrice  int
	Pot        int
	PerSlot    int
	PriceLabel string
	MainsLeft  int
}

// CreateMini registers a mini raffle under an active parent and books a
// placeholder reservation for its tickets, so mains-left reflects the
// pending obligation without locking the parent.
func (e *Engine) CreateMini(ctx context.Context, p MiniParams) (*MiniResult, error) {
	if p.Tickets < 1 || p.Tickets > MaxMiniTickets {
		return nil, errorx.New(errorx.InvalidArgument, "tickets must be 1-%d", MaxMiniTickets)
	}
	if p.MiniSlots < MinMiniSlots || p.MiniSlots > MaxMiniSlots {
		return nil, errorx.New(errorx.InvalidArgument, "mini slots must be %d-%d", MinMiniSlots, MaxMiniSlots)
	}
	if p.UnitPrice < 0 || p.UnitPrice > MaxUnitPrice {
		return nil, errorx.New(errorx.InvalidArgument, "price looks wrong")
	}

	pot := p.Tickets * p.UnitPrice
	perSlot := int(math.Round(float64(pot) / float64(p.MiniSlots)))
	label := fmt.Sprintf("%dx main @ %dc = %dc pot • %dc/slot", p.Tickets, p.UnitPrice, pot, perSlot)

	parentKey := models.RaffleKey(p.ScopeID, p.ParentChannelID)
	miniKey := models.RaffleKey(p.ScopeID, p.MiniChannelID)
	res := &MiniResult{
		MiniKey:    miniKey,
		ParentKey:  parentKey,
		Tickets:    p.Tickets,
		MiniSlots:  p.MiniSlots,
		UnitPrice:  p.UnitPrice,
		Pot:        pot,
		PerSlot:    perSlot,
		PriceLabel: label,
	}

	err := e.store.Update(ctx, func(doc *models.Document) error {
		parent := doc.Raffles[parentKey]
		if parent == nil || !parent.Active || parent.Capacity == 0 {
			return errorx.New(errorx.NotFound, "no active main raffle here")
		}

		now := e.now()
		mini := doc.Raffle(miniKey)
		mini.Active = true
		mini.Capacity = p.MiniSlots
		mini.PriceText = label
		mini.Claims = map[int]*models.SlotClaim{}
		mini.HostID = p.HostID
		mini.FullNotified = false
		mini.TotalsPosted = false
		mini.BoardMessageID = ""
		mini.LastMainsLeft = nil
		mini.CreatedAt = now
		mini.EndsAt = 0

		doc.MiniLinks[p.MiniChannelID] = &models.MiniLink{
			ParentKey: parentKey,
			Tickets:   p.Tickets,
			CreatedAt: now,
		}

		e.ledger.Set(doc, parentKey, models.PlaceholderHolder(miniKey), p.Tickets, placeholderTTL)
		res.MainsLeft = e.mainsLeftLocked(doc, parentKey, parent)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

type DrawResult struct {
	WinnerID        string
	WinningSlot     int
	Tickets         int
	ParentKey       string
	ParentChannelID string
	MainsLeft       int
	AutoFilled      []int
	ParentClosure   *Closure
}

// DrawMini picks the mini winner: a flat pool of (slot, holder) pairs,
// one entry per co-holder so each co-holder gets equal individual odds.
// The draw converts the placeholder reservation into a real time-boxed
// one for the winner and records their consumable entitlement. When the
// parent has no more open slots than tickets, the winner is auto-filled
// into all of them immediately.
func (e *Engine) DrawMini(ctx context.Context, scopeID, miniChannelID string) (*DrawResult, error) {
	miniKey := models.RaffleKey(scopeID, miniChannelID)
	res := &DrawResult{}

	err := e.store.Update(ctx, func(doc *models.Document) error {
		link := doc.MiniLinks[miniChannelID]
		if link == nil {
			return errorx.New(errorx.NotFound, "this isn't a registered mini thread")
		}
		mini := doc.Raffles[miniKey]
		if mini == nil || mini.Capacity == 0 {
			return errorx.New(errorx.NotFound, "no mini raffle found here")
		}
		parent := doc.Raffles[link.ParentKey]
		if parent == nil || parent.Capacity == 0 {
			return errorx.New(errorx.NotFound, "main raffle thread not found")
		}

		type entry struct {
			slot   int
			holder string
		}
		var pool []entry
		for n := 1; n <= mini.Capacity; n++ {
			for _, h := range mini.Claims[n].Holders() {
				pool = append(pool, entry{slot: n, holder: h})
			}
		}
		if len(pool) == 0 {
			return errorx.New(errorx.NoEntries, "no one has claimed any mini slots")
		}

		pick := pool[e.intn(len(pool))]
		res.WinnerID = pick.holder
		res.WinningSlot = pick.slot
		res.Tickets = link.Tickets
		res.ParentKey = link.ParentKey
		res.ParentChannelID = models.ChannelOfKey(link.ParentKey)

		mini.Active = false

		doc.MarkMiniWinner(link.ParentKey, pick.holder)
		if ent := doc.Entitlement(link.ParentKey, pick.holder); ent != nil {
			ent.Remaining += link.Tickets
		} else {
			doc.SetEntitlement(link.ParentKey, pick.holder, &models.Entitlement{Remaining: link.Tickets})
		}

		e.ledger.Delete(doc, link.ParentKey, models.PlaceholderHolder(miniKey))
		e.ledger.Set(doc, link.ParentKey, pick.holder, link.Tickets, e.MiniWindow)

		if parent.Active {
			open := parent.OpenSlots()
			if len(open) > 0 && len(open) <= link.Tickets {
				for _, n := range open {
					parent.Claims[n] = &models.SlotClaim{Owner: pick.holder}
				}
				e.markEntitledLocked(doc, link.ParentKey, pick.holder, open)
				e.ledger.Consume(doc, link.ParentKey, pick.holder, len(open))
				res.AutoFilled = open

				if parent.IsFull() {
					res.ParentClosure = e.closeLocked(doc, link.ParentKey, parent, false)
				}
			}
		}

		res.MainsLeft = e.mainsLeftLocked(doc, link.ParentKey, parent)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.ParentClosure != nil {
		e.sched.Cancel(timerPrefix + res.ParentKey)
	}
	return res, nil
}

// MiniLinkFor returns the parent link for a mini thread, if registered.
func (e *Engine) MiniLinkFor(channelID string) (*models.MiniLink, bool) {
	var link *models.MiniLink
	e.store.View(func(doc *models.Document) {
		if l := doc.MiniLinks[channelID]; l != nil {
			cp := *l
			link = &cp
		}
	})
	return link, link != nil
}
