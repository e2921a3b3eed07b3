package raffle

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/tlw-bit/cherbot/internal/models"
)

func TestRenderBoardTruncatesOnLineBoundary(t *testing.T) {
	doc := &models.Document{}
	doc.Normalize()

	r := &models.Raffle{Capacity: 300, Active: true, Claims: map[int]*models.SlotClaim{}}
	for i := 1; i <= r.Capacity; i++ {
		r.Claims[i] = &models.SlotClaim{Owner: fmt.Sprintf("u%d", i)}
	}
	mention := func(id string) string { return "@" + id + "🎫🎫🎫" }

	out := RenderBoard(doc, "g1:main", r, mention)
	assert.LessOrEqual(t, len(out), boardMaxLen)
	assert.True(t, utf8.ValidString(out))

	// the cut lands on a line boundary, never inside an entry
	lines := strings.Split(out, "\n")
	assert.Regexp(t, `^\d+\. @u\d+🎫🎫🎫$`, lines[len(lines)-1])
}
