package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlw-bit/cherbot/internal/models"
)

func TestOpenFreshFile(t *testing.T) {
	backend := NewFileBackend(filepath.Join(t.TempDir(), "state.json"))
	st, err := Open(context.Background(), backend, zerolog.Nop())
	require.NoError(t, err)

	st.View(func(doc *models.Document) {
		assert.NotNil(t, doc.Users)
		assert.NotNil(t, doc.Raffles)
		assert.Empty(t, doc.Giveaways)
	})
}

func TestUpdatePersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	st, err := Open(ctx, NewFileBackend(path), zerolog.Nop())
	require.NoError(t, err)

	err = st.Update(ctx, func(doc *models.Document) error {
		r := doc.Raffle(models.RaffleKey("g1", "main"))
		r.Active = true
		r.Capacity = 10
		r.Claims[3] = &models.SlotClaim{Owner: "alice", CoOwner: "bob"}
		doc.Users["alice"] = &models.UserXP{XP: 40, Level: 2}
		return nil
	})
	require.NoError(t, err)

	// a second store over the same file sees everything
	st2, err := Open(ctx, NewFileBackend(path), zerolog.Nop())
	require.NoError(t, err)
	st2.View(func(doc *models.Document) {
		r := doc.Raffles[models.RaffleKey("g1", "main")]
		require.NotNil(t, r)
		assert.True(t, r.Active)
		assert.Equal(t, 10, r.Capacity)
		require.NotNil(t, r.Claims[3])
		assert.Equal(t, "alice", r.Claims[3].Owner)
		assert.Equal(t, "bob", r.Claims[3].CoOwner)
		assert.Equal(t, 2, doc.Users["alice"].Level)
	})
}

func TestUpdateErrorDoesNotPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	st, err := Open(ctx, NewFileBackend(path), zerolog.Nop())
	require.NoError(t, err)

	failed := errors.New("nope")
	err = st.Update(ctx, func(doc *models.Document) error {
		return failed
	})
	assert.ErrorIs(t, err, failed)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "nothing should have been written")
}

func TestOpenRejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Open(context.Background(), NewFileBackend(path), zerolog.Nop())
	assert.Error(t, err)
}

func TestOpenNormalizesPartialDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	// a hand-edited document missing most maps
	require.NoError(t, os.WriteFile(path, []byte(`{"users":{"alice":{"xp":10,"level":1}}}`), 0o644))

	st, err := Open(context.Background(), NewFileBackend(path), zerolog.Nop())
	require.NoError(t, err)
	st.View(func(doc *models.Document) {
		assert.NotNil(t, doc.Raffles)
		assert.NotNil(t, doc.Reservations)
		assert.NotNil(t, doc.MiniLinks)
		assert.Equal(t, 10, doc.Users["alice"].XP)
	})
}

func TestFileBackendAtomicRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	b := NewFileBackend(path)
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, []byte(`{"a":1}`)))
	require.NoError(t, b.Save(ctx, []byte(`{"a":2}`)))

	raw, err := b.Load(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(raw))

	// no temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
