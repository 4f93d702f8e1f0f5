// Package storage backs the store, recall and forget actions with a hive.go
// key-value store. Values may be sealed at rest; forgotten keys leave a
// tombstone recording why and when.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/iotaledger/hive.go/kvstore"
	"github.com/iotaledger/hive.go/logger"
	"github.com/iotaledger/hive.go/serializer/v2/marshalutil"

	"github.com/dueldanov/packscript/internal/crypto"
	"github.com/dueldanov/packscript/internal/logging"
	"github.com/dueldanov/packscript/internal/packscript"
)

const (
	// Storage key prefixes
	StorePrefixValue     byte = 0
	StorePrefixTombstone byte = 1
)

// DefaultRealm isolates script data inside a shared database
var DefaultRealm = kvstore.Realm{0x50, 0x53}

// Tombstone records a forgotten key
type Tombstone struct {
	Key      string
	Reason   string
	ForgotAt time.Time
}

// Store satisfies packscript.KeyValueStore
type Store struct {
	*logger.WrappedLogger

	store  kvstore.KVStore
	sealer *crypto.Sealer
	now    func() time.Time
}

// NewStore scopes kv to realm. A nil sealer stores values in the clear.
func NewStore(log *logger.Logger, kv kvstore.KVStore, realm kvstore.Realm, sealer *crypto.Sealer) (*Store, error) {
	realmStore, err := kv.WithRealm(realm)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open storage realm")
	}

	return &Store{
		WrappedLogger: logger.NewWrappedLogger(log),
		store:         realmStore,
		sealer:        sealer,
		now:           time.Now,
	}, nil
}

// Store writes value under key and clears any tombstone for it
func (s *Store) Store(ctx context.Context, key string, value []byte) (err error) {
	start := time.Now()
	defer func() {
		logging.MeasureStepWithError(ctx, logging.PhaseCollaborator, "Store", fmt.Sprintf("key=%s bytes=%d", key, len(value)), start, err)
	}()

	if s.sealer != nil {
		if value, err = s.sealer.Seal(value, []byte(key)); err != nil {
			return errors.Wrapf(err, "failed to seal %s", key)
		}
	}
	if err = s.store.Set(valueKey(key), value); err != nil {
		return errors.Wrapf(err, "failed to store %s", key)
	}
	if err = s.store.Delete(tombstoneKey(key)); err != nil && !errors.Is(err, kvstore.ErrKeyNotFound) {
		return errors.Wrapf(err, "failed to clear tombstone of %s", key)
	}
	return nil
}

// Recall returns the value under key, or packscript.ErrNotFound
func (s *Store) Recall(ctx context.Context, key string) (value []byte, err error) {
	start := time.Now()
	defer func() {
		logging.MeasureStepWithError(ctx, logging.PhaseCollaborator, "Recall", "key="+key, start, err)
	}()

	value, err = s.store.Get(valueKey(key))
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, packscript.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to recall %s", key)
	}

	if s.sealer != nil {
		if value, err = s.sealer.Open(value, []byte(key)); err != nil {
			return nil, errors.Wrapf(err, "failed to open %s", key)
		}
	}
	return value, nil
}

// Forget deletes key and leaves a tombstone with reason. Forgetting a
// missing key reports packscript.ErrNotFound and writes nothing.
func (s *Store) Forget(ctx context.Context, key string, reason string) (err error) {
	start := time.Now()
	defer func() {
		logging.MeasureStepWithError(ctx, logging.PhaseCollaborator, "Forget", "key="+key, start, err)
	}()

	has, err := s.store.Has(valueKey(key))
	if err != nil {
		return errors.Wrapf(err, "failed to look up %s", key)
	}
	if !has {
		return packscript.ErrNotFound
	}

	if err = s.store.Delete(valueKey(key)); err != nil {
		return errors.Wrapf(err, "failed to forget %s", key)
	}
	if err = s.store.Set(tombstoneKey(key), encodeTombstone(reason, s.now())); err != nil {
		return errors.Wrapf(err, "failed to write tombstone of %s", key)
	}

	s.LogDebugf("forgot %s: %s", key, reason)
	return nil
}

// Tombstone returns the record left by Forget, or packscript.ErrNotFound
func (s *Store) Tombstone(key string) (*Tombstone, error) {
	data, err := s.store.Get(tombstoneKey(key))
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, packscript.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read tombstone of %s", key)
	}
	return decodeTombstone(key, data)
}

// Keys lists the stored keys
func (s *Store) Keys() ([]string, error) {
	var keys []string
	if err := s.store.IterateKeys(kvstore.KeyPrefix{StorePrefixValue}, func(key kvstore.Key) bool {
		keys = append(keys, string(key[1:]))
		return true
	}); err != nil {
		return nil, errors.Wrap(err, "failed to list keys")
	}
	return keys, nil
}

// Flush persists pending writes of the underlying store
func (s *Store) Flush() error {
	return s.store.Flush()
}

func valueKey(key string) []byte {
	ms := marshalutil.New(1 + len(key))
	ms.WriteByte(StorePrefixValue)
	ms.WriteBytes([]byte(key))
	return ms.Bytes()
}

func tombstoneKey(key string) []byte {
	ms := marshalutil.New(1 + len(key))
	ms.WriteByte(StorePrefixTombstone)
	ms.WriteBytes([]byte(key))
	return ms.Bytes()
}

func encodeTombstone(reason string, at time.Time) []byte {
	ms := marshalutil.New(8 + 4 + len(reason))
	ms.WriteInt64(at.UnixNano())
	ms.WriteUint32(uint32(len(reason)))
	ms.WriteBytes([]byte(reason))
	return ms.Bytes()
}

func decodeTombstone(key string, data []byte) (*Tombstone, error) {
	ms := marshalutil.New(data)
	nanos, err := ms.ReadInt64()
	if err != nil {
		return nil, errors.Wrap(err, "corrupt tombstone")
	}
	length, err := ms.ReadUint32()
	if err != nil {
		return nil, errors.Wrap(err, "corrupt tombstone")
	}
	reason, err := ms.ReadBytes(int(length))
	if err != nil {
		return nil, errors.Wrap(err, "corrupt tombstone")
	}
	return &Tombstone{Key: key, Reason: string(reason), ForgotAt: time.Unix(0, nanos)}, nil
}
