package packscript

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"sync"
	"time"
)

// fakeClock only moves when Sleep is called
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return nil
}

type fakeStore struct {
	values    map[string][]byte
	forgotten map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{values: make(map[string][]byte), forgotten: make(map[string]string)}
}

func (s *fakeStore) Store(_ context.Context, key string, value []byte) error {
	s.values[key] = value
	return nil
}

func (s *fakeStore) Recall(_ context.Context, key string) ([]byte, error) {
	v, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (s *fakeStore) Forget(_ context.Context, key string, reason string) error {
	if _, ok := s.values[key]; !ok {
		return ErrNotFound
	}
	delete(s.values, key)
	s.forgotten[key] = reason
	return nil
}

type fakeFetcher struct {
	bodies map[string]string
}

func (f *fakeFetcher) Get(_ context.Context, url string) ([]byte, error) {
	body, ok := f.bodies[url]
	if !ok {
		return nil, errors.New("404 not found")
	}
	return []byte(body), nil
}

// fakeConn echoes every sent message back as "echo: <msg>"
type fakeConn struct {
	sent   []string
	inbox  []string
	closed bool
}

func (c *fakeConn) Send(_ context.Context, message string) error {
	if c.closed {
		return errors.New("closed")
	}
	c.sent = append(c.sent, message)
	c.inbox = append(c.inbox, "echo: "+message)
	return nil
}

func (c *fakeConn) Poll() ([]string, error) {
	out := c.inbox
	c.inbox = nil
	return out, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeDialer struct {
	conns []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, url string) (SocketConn, error) {
	if url == "" {
		return nil, errors.New("empty url")
	}
	c := &fakeConn{}
	d.conns = append(d.conns, c)
	return c, nil
}

// fakeCrypto uses ed25519 for keys and a hash commitment in place of a real
// zero-knowledge proof.
type fakeCrypto struct{}

func (fakeCrypto) Hash(algorithm string, data []byte) ([]byte, error) {
	if algorithm != "sha256" {
		return nil, errors.New("unsupported algorithm " + algorithm)
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}

func (fakeCrypto) GenerateKey() ([]byte, []byte, error) {
	return ed25519.GenerateKey(nil)
}

func (fakeCrypto) DeriveKey(seed []byte) ([]byte, []byte, error) {
	s := sha256.Sum256(seed)
	priv := ed25519.NewKeyFromSeed(s[:])
	return priv.Public().(ed25519.PublicKey), priv, nil
}

func (fakeCrypto) Sign(private, message []byte) ([]byte, error) {
	if len(private) != ed25519.PrivateKeySize {
		return nil, errors.New("bad private key")
	}
	return ed25519.Sign(private, message), nil
}

func (fakeCrypto) Verify(public, message, signature []byte) (bool, error) {
	if len(public) != ed25519.PublicKeySize {
		return false, errors.New("bad public key")
	}
	return ed25519.Verify(public, message, signature), nil
}

func (c fakeCrypto) MultiSig(threshold int, publics [][]byte, message []byte, signatures [][]byte) (bool, error) {
	valid := 0
	for _, pub := range publics {
		for _, sig := range signatures {
			if ok, _ := c.Verify(pub, message, sig); ok {
				valid++
				break
			}
		}
	}
	return valid >= threshold, nil
}

func (fakeCrypto) Prove(secret []byte) ([]byte, []byte, error) {
	commitment := sha256.Sum256(secret)
	proof := sha256.Sum256(commitment[:])
	return commitment[:], proof[:], nil
}

func (fakeCrypto) VerifyProof(commitment, proof []byte) (bool, error) {
	expected := sha256.Sum256(commitment)
	return bytes.Equal(expected[:], proof), nil
}

type fakeMetrics struct {
	mu           sync.Mutex
	compilations int
	cacheHits    int
	executions   map[string]int
	errors       []string
	tests        map[bool]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{executions: make(map[string]int), tests: make(map[bool]int)}
}

func (m *fakeMetrics) RecordScriptCompilation(_, cached bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compilations++
	if cached {
		m.cacheHits++
	}
}

func (m *fakeMetrics) RecordScriptExecution(mode string, _ bool, _ int64, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[mode]++
}

func (m *fakeMetrics) RecordScriptError(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, errorType)
}

func (m *fakeMetrics) RecordTestResult(passed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tests[passed]++
}

// testCollaborators wires fresh fakes for one run
func testCollaborators() Collaborators {
	return Collaborators{
		Fetcher: &fakeFetcher{bodies: map[string]string{
			"http://api.test/score": `{"alice": 7, "bob": 3}`,
			"http://api.test/name":  `"carol"`,
		}},
		Dialer: &fakeDialer{},
		Crypto: fakeCrypto{},
		Store:  newFakeStore(),
		Clock:  newFakeClock(),
	}
}
