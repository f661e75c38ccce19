package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCaptionCache(t *testing.T) {
	store := newTestStore(t)

	text, err := store.GetCaptionCache("missing")
	require.NoError(t, err)
	assert.Empty(t, text)

	require.NoError(t, store.SetCaptionCache("k1", "<CAPTION>", "a crane in the reeds"))
	text, err = store.GetCaptionCache("k1")
	require.NoError(t, err)
	assert.Equal(t, "a crane in the reeds", text)

	require.NoError(t, store.SetCaptionCache("k1", "<CAPTION>", "two cranes"))
	text, err = store.GetCaptionCache("k1")
	require.NoError(t, err)
	assert.Equal(t, "two cranes", text)
}

func TestPruneCaptionCache(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetCaptionCache("fresh", "<CAPTION>", "x"))
	_, err := store.db.Exec(`INSERT INTO caption_cache (cache_key, task, text, created_at) VALUES ('old', '<CAPTION>', 'y', '2001-01-01 00:00:00')`)
	require.NoError(t, err)

	n, err := store.PruneCaptionCache(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	text, err := store.GetCaptionCache("fresh")
	require.NoError(t, err)
	assert.Equal(t, "x", text)
}

func TestPoems(t *testing.T) {
	store := newTestStore(t)

	first, err := store.SavePoem(&Poem{UserID: 1, Keywords: []string{"秋风", "孤舟"}, Form: "七言绝句", Text: "秋风吹孤舟", Caption: "a boat"})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	time.Sleep(time.Millisecond)
	second, err := store.SavePoem(&Poem{UserID: 1, Keywords: []string{"明月"}, Form: "现代诗", Text: "月光"})
	require.NoError(t, err)
	_, err = store.SavePoem(&Poem{UserID: 2, Keywords: []string{"山"}, Form: "宋词", Text: "山"})
	require.NoError(t, err)

	got, err := store.GetPoem(first.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"秋风", "孤舟"}, got.Keywords)
	assert.Equal(t, "七言绝句", got.Form)
	assert.Equal(t, "a boat", got.Caption)

	missing, err := store.GetPoem("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	poems, err := store.ListPoems(1, 0)
	require.NoError(t, err)
	require.Len(t, poems, 2)
	assert.Equal(t, second.ID, poems[0].ID, "newest first")

	poems, err = store.ListPoems(1, 1)
	require.NoError(t, err)
	assert.Len(t, poems, 1)

	n, err := store.DeletePoems(1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	poems, err = store.ListPoems(1, 0)
	require.NoError(t, err)
	assert.Empty(t, poems)
}

func TestPreferredForm(t *testing.T) {
	store := newTestStore(t)

	form, err := store.GetPreferredForm(42)
	require.NoError(t, err)
	assert.Empty(t, form)

	require.NoError(t, store.SetPreferredForm(42, "宋词"))
	require.NoError(t, store.SetPreferredForm(42, "元曲"))
	form, err = store.GetPreferredForm(42)
	require.NoError(t, err)
	assert.Equal(t, "元曲", form)
}

func TestAllowedUsers(t *testing.T) {
	store := newTestStore(t)

	allowed, err := store.IsUserAllowed(7)
	require.NoError(t, err)
	assert.False(t, allowed)

	require.NoError(t, store.AddAllowedUser(7, 1))
	require.NoError(t, store.AddAllowedUser(8, 1))
	allowed, err = store.IsUserAllowed(7)
	require.NoError(t, err)
	assert.True(t, allowed)

	users, err := store.GetAllowedUsers()
	require.NoError(t, err)
	assert.Len(t, users, 2)

	require.NoError(t, store.RemoveAllowedUser(7))
	allowed, err = store.IsUserAllowed(7)
	require.NoError(t, err)
	assert.False(t, allowed)
}
