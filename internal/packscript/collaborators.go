package packscript

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by KeyValueStore.Recall for unknown keys
var ErrNotFound = errors.New("key not found")

// Fetcher performs `http get`
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// SocketConn is an open duplex stream. Poll must not block; it returns the
// messages received since the previous call.
type SocketConn interface {
	Send(ctx context.Context, message string) error
	Poll() ([]string, error)
	Close() error
}

// SocketDialer opens streams for `socket connect`
type SocketDialer interface {
	Dial(ctx context.Context, url string) (SocketConn, error)
}

// CryptoProvider backs hash, keygen, sign, verify signature, multisig and the
// zero-knowledge builtins.
type CryptoProvider interface {
	Hash(algorithm string, data []byte) ([]byte, error)
	GenerateKey() (public, private []byte, err error)
	DeriveKey(seed []byte) (public, private []byte, err error)
	Sign(private, message []byte) ([]byte, error)
	Verify(public, message, signature []byte) (bool, error)
	MultiSig(threshold int, publics [][]byte, message []byte, signatures [][]byte) (bool, error)
	Prove(secret []byte) (commitment, proof []byte, err error)
	VerifyProof(commitment, proof []byte) (bool, error)
}

// KeyValueStore backs store, recall and forget. Values arrive JSON encoded.
type KeyValueStore interface {
	Store(ctx context.Context, key string, value []byte) error
	Recall(ctx context.Context, key string) ([]byte, error)
	Forget(ctx context.Context, key string, reason string) error
}

// Clock drives `now`, `wait` and job timers
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Collaborators bundles the external services a run may call into.
// Nil members make the corresponding actions fail with ExternalFailure.
type Collaborators struct {
	Fetcher Fetcher
	Dialer  SocketDialer
	Crypto  CryptoProvider
	Store   KeyValueStore
	Clock   Clock
}

// SystemClock uses the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c Collaborators) withDefaults() Collaborators {
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	return c
}
