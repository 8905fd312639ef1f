package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savegress/pamflow/internal/identifier"
)

// testBackend exercises the Backend contract shared by every implementation.
// Type and system names are suffixed so the test can run against a shared
// database.
func testBackend(t *testing.T, b Backend, suffix string) {
	t.Helper()
	ctx := context.Background()
	pi, sys := "PI"+suffix, "urn:test"+suffix

	require.NoError(t, b.Ping(ctx))

	t.Run("insert and exists", func(t *testing.T) {
		exists, err := b.Exists(ctx, "123", pi, sys)
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, b.Insert(ctx, "123", pi, sys))

		exists, err = b.Exists(ctx, "123", pi, sys)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = b.Exists(ctx, "123", pi, sys+":other")
		require.NoError(t, err)
		assert.False(t, exists)

		assert.ErrorIs(t, b.Insert(ctx, "123", pi, sys), identifier.ErrDuplicate)
	})

	t.Run("max numeric", func(t *testing.T) {
		vn := "VN" + suffix
		_, ok, err := b.MaxNumeric(ctx, vn, sys)
		require.NoError(t, err)
		assert.False(t, ok)

		for _, v := range []string{"1002", "998", "ABC", "1000"} {
			require.NoError(t, b.Insert(ctx, v, vn, sys))
		}
		n, ok, err := b.MaxNumeric(ctx, vn, sys)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(1002), n)

		require.NoError(t, b.Delete(ctx, "1002", vn, sys))
		require.NoError(t, b.Delete(ctx, "1002", vn, sys))
		exists, err := b.Exists(ctx, "1002", vn, sys)
		require.NoError(t, err)
		assert.False(t, exists)

		n, ok, err = b.MaxNumeric(ctx, vn, sys)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(1000), n)
	})

	t.Run("namespaces", func(t *testing.T) {
		ns := identifier.Namespace{
			Type:        "NS" + suffix,
			System:      sys,
			OID:         "1.2.3",
			DisplayName: "HOSP",
			PrefixMode:  "range",
			RangeMin:    100,
			RangeMax:    199,
		}
		require.NoError(t, b.PutNamespace(ctx, ns))

		got, ok, err := b.Namespace(ctx, ns.Type)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, ns, got)

		ns.RangeMax = 299
		require.NoError(t, b.PutNamespace(ctx, ns))
		got, err = GetNamespace(ctx, b, ns.Type)
		require.NoError(t, err)
		assert.Equal(t, int64(299), got.RangeMax)

		all, err := b.Namespaces(ctx)
		require.NoError(t, err)
		assert.Contains(t, all, ns)

		require.NoError(t, b.DeleteNamespace(ctx, ns.Type))
		_, err = GetNamespace(ctx, b, ns.Type)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, b.DeleteNamespace(ctx, ns.Type), ErrNotFound)
	})
}

func testVenues(t *testing.T, v VenueStore, suffix string) {
	t.Helper()
	ctx := context.Background()
	venue := "venue" + suffix

	last, err := v.LastTrigger(ctx, venue)
	require.NoError(t, err)
	assert.Equal(t, "", last)

	require.NoError(t, v.SetLastTrigger(ctx, venue, "A01"))
	require.NoError(t, v.SetLastTrigger(ctx, venue, "A02"))
	last, err = v.LastTrigger(ctx, venue)
	require.NoError(t, err)
	assert.Equal(t, "A02", last)

	require.NoError(t, v.ResetVenue(ctx, venue))
	last, err = v.LastTrigger(ctx, venue)
	require.NoError(t, err)
	assert.Equal(t, "", last)
}
