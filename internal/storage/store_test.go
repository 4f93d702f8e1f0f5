package storage

import (
	"context"
	"testing"
	"time"

	"github.com/iotaledger/hive.go/kvstore"
	"github.com/iotaledger/hive.go/kvstore/mapdb"
	"github.com/iotaledger/hive.go/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dueldanov/packscript/internal/crypto"
	"github.com/dueldanov/packscript/internal/packscript"
)

func newTestStore(t *testing.T, sealed bool) (*Store, kvstore.KVStore) {
	t.Helper()

	db := mapdb.NewMapDB()
	var sealer *crypto.Sealer
	if sealed {
		var err error
		sealer, err = crypto.NewSealer(make([]byte, crypto.HKDFKeySize))
		require.NoError(t, err)
	}

	s, err := NewStore(logger.NewNopLogger(), db, DefaultRealm, sealer)
	require.NoError(t, err)
	return s, db
}

func TestStoreRecall(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, false)

	_, err := s.Recall(ctx, "missing")
	require.ErrorIs(t, err, packscript.ErrNotFound)

	require.NoError(t, s.Store(ctx, "acct", []byte(`{"balance":10}`)))
	value, err := s.Recall(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, `{"balance":10}`, string(value))

	require.NoError(t, s.Store(ctx, "acct", []byte(`{"balance":20}`)))
	value, err = s.Recall(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, `{"balance":20}`, string(value))

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"acct"}, keys)
}

func TestForgetLeavesTombstone(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, false)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.ErrorIs(t, s.Forget(ctx, "acct", "closed"), packscript.ErrNotFound)

	require.NoError(t, s.Store(ctx, "acct", []byte("1")))
	require.NoError(t, s.Forget(ctx, "acct", "closed by owner"))

	_, err := s.Recall(ctx, "acct")
	require.ErrorIs(t, err, packscript.ErrNotFound)

	ts, err := s.Tombstone("acct")
	require.NoError(t, err)
	assert.Equal(t, "closed by owner", ts.Reason)
	assert.True(t, fixed.Equal(ts.ForgotAt))

	// storing again clears the tombstone
	require.NoError(t, s.Store(ctx, "acct", []byte("2")))
	_, err = s.Tombstone("acct")
	require.ErrorIs(t, err, packscript.ErrNotFound)
}

func TestSealedValues(t *testing.T) {
	ctx := context.Background()
	s, db := newTestStore(t, true)

	require.NoError(t, s.Store(ctx, "secret", []byte("plain text")))

	realm, err := db.WithRealm(DefaultRealm)
	require.NoError(t, err)
	raw, err := realm.Get(valueKey("secret"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "plain text")

	value, err := s.Recall(ctx, "secret")
	require.NoError(t, err)
	assert.Equal(t, "plain text", string(value))

	// a sealed value moved to another key no longer opens
	require.NoError(t, realm.Set(valueKey("moved"), raw))
	_, err = s.Recall(ctx, "moved")
	require.ErrorIs(t, err, crypto.ErrAEADAuthFailed)
}

func TestRealmIsolation(t *testing.T) {
	ctx := context.Background()
	db := mapdb.NewMapDB()

	a, err := NewStore(logger.NewNopLogger(), db, []byte("a"), nil)
	require.NoError(t, err)
	b, err := NewStore(logger.NewNopLogger(), db, []byte("b"), nil)
	require.NoError(t, err)

	require.NoError(t, a.Store(ctx, "k", []byte("v")))
	_, err = b.Recall(ctx, "k")
	require.ErrorIs(t, err, packscript.ErrNotFound)
}
