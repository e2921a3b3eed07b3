package raffle

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tlw-bit/cherbot/internal/models"
)

// MentionFunc renders a holder identity for the target platform.
type MentionFunc func(holderID string) string

// BoardSnapshot is a render-ready copy of raffle state taken under the
// store lock.
type BoardSnapshot struct {
	Key            string
	Active         bool
	Capacity       int
	PriceText      string
	BoardMessageID string
	Board          string
}

const boardMaxLen = 3500

// RenderBoard formats the slot list. Mini winners of this raffle get a
// star next to their name; the mark is display-only and persists for
// the raffle generation.
func RenderBoard(doc *models.Document, key string, r *models.Raffle, mention MentionFunc) string {
	var b strings.Builder

	closed := !r.Active || r.IsFull()
	fmt.Fprintf(&b, "🎟️ Raffle: %d slots", r.Capacity)
	if r.PriceText != "" {
		fmt.Fprintf(&b, " (%s)", r.PriceText)
	}
	if closed {
		b.WriteString(" ✅ FULL / CLOSED")
	}
	b.WriteString("\n\n")

	name := func(id string) string {
		s := mention(id)
		if doc.IsMiniWinner(key, id) {
			s += " ⭐"
		}
		return s
	}

	for i := 1; i <= r.Capacity; i++ {
		c := r.Claims[i]
		switch {
		case c == nil:
			fmt.Fprintf(&b, "%d. (available)\n", i)
		case c.IsSplit():
			fmt.Fprintf(&b, "%d. %s + %s\n", i, name(c.Owner), name(c.CoOwner))
		default:
			fmt.Fprintf(&b, "%d. %s\n", i, name(c.Owner))
		}
	}

	out := b.String()
	if len(out) > boardMaxLen {
		// Cut at the last full line inside the limit so the holder
		// names, which are rarely plain ASCII, never lose half a rune.
		cut := boardMaxLen
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		if i := strings.LastIndexByte(out[:cut], '\n'); i >= 0 {
			cut = i
		}
		out = out[:cut]
	}
	return strings.TrimRight(out, "\n")
}

// RenderTotals formats a totals summary.
func RenderTotals(t *Totals, mention MentionFunc) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎟️ Slots claimed: %d/%d\n", t.ClaimedSlots, t.Capacity)
	fmt.Fprintf(&b, "👥 Participants: %d\n", t.Participants)

	if !t.Priced() {
		b.WriteString("⚠️ Couldn't read a ticket price from the raffle text.")
		return b.String()
	}

	for _, h := range t.PerHolder {
		fmt.Fprintf(&b, "• %s: %dc\n", mention(h.HolderID), h.Amount)
	}
	fmt.Fprintf(&b, "💰 Total: %dc", t.GrandTotal)
	return b.String()
}
