package cache

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fingerprintInput struct {
	Fund     []float64
	Index    []float64
	Method   string
	Strategy string
}

func TestFingerprint_StableAndSensitive(t *testing.T) {
	a := fingerprintInput{Fund: []float64{-1000, 500}, Index: []float64{100, 110}, Method: "kaplan_schoar"}
	b := fingerprintInput{Fund: []float64{-1000, 500}, Index: []float64{100, 110}, Method: "kaplan_schoar"}
	c := fingerprintInput{Fund: []float64{-1000, 500}, Index: []float64{100, 110}, Method: "direct_alpha"}

	fa, err := Fingerprint("analysis", a)
	require.NoError(t, err)
	fb, err := Fingerprint("analysis", b)
	require.NoError(t, err)
	fc, err := Fingerprint("analysis", c)
	require.NoError(t, err)

	assert.Equal(t, fa, fb, "identical requests must share a key")
	assert.NotEqual(t, fa, fc, "a different method is a different key")
	assert.Contains(t, fa, "analysis:")
	assert.Len(t, fa, len("analysis:")+64, "sha256 hex digest")
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store, err := NewSQLiteStore(setupDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, store.Set(ctx, "k1", []byte("v1"), time.Hour))
	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	// Overwrite replaces the value.
	require.NoError(t, store.Set(ctx, "k1", []byte("v2"), time.Hour))
	got, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, store.Delete(ctx, "k1"))
	_, err = store.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestSQLiteStore_ExpiryAndSweep(t *testing.T) {
	store, err := NewSQLiteStore(setupDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	// Already-expired entry is a miss but still occupies a row.
	require.NoError(t, store.Set(ctx, "stale", []byte("x"), -time.Second))
	require.NoError(t, store.Set(ctx, "fresh", []byte("y"), time.Hour))

	_, err = store.Get(ctx, "stale")
	assert.ErrorIs(t, err, ErrMiss)

	removed, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	got, err := store.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), got)
}

func TestSQLiteStore_DeleteByPrefix(t *testing.T) {
	store, err := NewSQLiteStore(setupDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "analysis:aaa", []byte("1"), time.Hour))
	require.NoError(t, store.Set(ctx, "analysis:bbb", []byte("2"), time.Hour))
	require.NoError(t, store.Set(ctx, "dataset:ccc", []byte("3"), time.Hour))

	require.NoError(t, store.DeleteByPrefix(ctx, "analysis:"))

	_, err = store.Get(ctx, "analysis:aaa")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = store.Get(ctx, "dataset:ccc")
	assert.NoError(t, err)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, store.Set(ctx, "short", []byte("v"), time.Nanosecond))
	time.Sleep(5 * time.Millisecond)
	_, err = store.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, store.Set(ctx, "pfx:1", []byte("a"), 0))
	require.NoError(t, store.Set(ctx, "pfx:2", []byte("b"), 0))
	require.NoError(t, store.DeleteByPrefix(ctx, "pfx:"))
	_, err = store.Get(ctx, "pfx:1")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestTypedHelpers(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	type payload struct {
		Name  string
		Score float64
	}
	in := payload{Name: "fund-a", Score: 1.32}

	require.NoError(t, SetTyped(ctx, store, "typed", in, time.Hour))

	var out payload
	require.NoError(t, GetTyped(ctx, store, "typed", &out))
	assert.Equal(t, in, out)
}
