package raffle

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/tlw-bit/cherbot/internal/models"
)

var (
	zeroPriceRe = regexp.MustCompile(`^0\s*(c|coins?)?$`)
	firstIntRe  = regexp.MustCompile(`\d+`)
)

// IsFree reports whether a price descriptor explicitly denotes a free
// raffle ("free", "0", "0c", "0 coin(s)"). An empty descriptor is NOT
// free: hosts must mark free raffles explicitly.
func IsFree(priceText string) bool {
	t := strings.ToLower(strings.TrimSpace(priceText))
	if t == "" {
		return false
	}
	return t == "free" || zeroPriceRe.MatchString(t)
}

// SlotPrice extracts the nominal per-slot price from the descriptor.
// Nil means no numeric price could be read and totals cannot be
// computed.
func SlotPrice(priceText string) *int {
	if IsFree(priceText) {
		zero := 0
		return &zero
	}
	m := firstIntRe.FindString(priceText)
	if m == "" {
		return nil
	}
	p, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &p
}

// HolderTotal is one holder's share of the collected pot.
type HolderTotal struct {
	HolderID string `json:"holderId"`
	Amount   int    `json:"amount"`
}

// Totals summarizes what each holder owes for a raffle.
type Totals struct {
	ClaimedSlots int           `json:"claimedSlots"`
	Capacity     int           `json:"capacity"`
	Participants int           `json:"participants"`
	SlotPrice    *int          `json:"slotPrice"`
	PerHolder    []HolderTotal `json:"perHolder,omitempty"`
	GrandTotal   int           `json:"grandTotal"`
}

// Priced reports whether a numeric price was readable.
func (t *Totals) Priced() bool {
	return t.SlotPrice != nil
}

// ComputeTotals works out the cost split for every claimed slot. A
// holder is excluded from the charge for a specific slot only when that
// slot number is one of their marked entitlement slots; the remaining
// owners split the slot price evenly, each share rounded up so the pot
// is never under-collected.
func ComputeTotals(doc *models.Document, key string, r *models.Raffle) *Totals {
	t := &Totals{
		ClaimedSlots: r.ClaimedCount(),
		Capacity:     r.Capacity,
		SlotPrice:    SlotPrice(r.PriceText),
	}

	participants := map[string]bool{}
	perHolder := map[string]int{}

	for n, claim := range r.Claims {
		owners := claim.Holders()
		for _, id := range owners {
			participants[id] = true
		}
		if t.SlotPrice == nil {
			continue
		}

		var charged []string
		for _, id := range owners {
			if doc.Entitlement(key, id).HasSlot(n) {
				continue
			}
			charged = append(charged, id)
		}
		if len(charged) == 0 {
			continue
		}

		share := (*t.SlotPrice + len(charged) - 1) / len(charged)
		for _, id := range charged {
			perHolder[id] += share
		}
	}

	t.Participants = len(participants)
	if t.SlotPrice == nil {
		return t
	}

	for id, amount := range perHolder {
		t.PerHolder = append(t.PerHolder, HolderTotal{HolderID: id, Amount: amount})
		t.GrandTotal += amount
	}
	sort.Slice(t.PerHolder, func(i, j int) bool {
		if t.PerHolder[i].Amount != t.PerHolder[j].Amount {
			return t.PerHolder[i].Amount > t.PerHolder[j].Amount
		}
		return t.PerHolder[i].HolderID < t.PerHolder[j].HolderID
	})
	return t
}
