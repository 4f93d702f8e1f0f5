package packscript

import (
	"crypto/sha256"
	"sync"
	"time"
)

// maxCacheEntries triggers eviction of expired entries
const maxCacheEntries = 1000

// CompiledScript is the cached result of lexing, parsing, validating and
// compiling one source text.
type CompiledScript struct {
	Source   string
	Hash     [32]byte
	Program  *Program
	Bytecode *Bytecode
}

// ScriptCache maps source hashes to compiled scripts. Entries older than
// the TTL read as misses and are swept once the cache outgrows
// maxCacheEntries.
type ScriptCache struct {
	mu      sync.RWMutex
	entries map[[32]byte]cachedScript
	ttl     time.Duration
	now     func() time.Time
}

type cachedScript struct {
	script   *CompiledScript
	storedAt time.Time
}

// NewScriptCache keeps compiled scripts for ttl; ttl <= 0 means one hour
func NewScriptCache(ttl time.Duration) *ScriptCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ScriptCache{
		entries: make(map[[32]byte]cachedScript),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *ScriptCache) Get(source string) *CompiledScript {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.entries[hashSource(source)]
	if !ok || c.expired(cached, c.now()) {
		return nil
	}
	return cached.script
}

func (c *ScriptCache) Put(script *CompiledScript) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[script.Hash] = cachedScript{script: script, storedAt: now}
	if len(c.entries) <= maxCacheEntries {
		return
	}
	for hash, cached := range c.entries {
		if c.expired(cached, now) {
			delete(c.entries, hash)
		}
	}
}

// Len is the number of entries, expired ones included
func (c *ScriptCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ScriptCache) expired(cached cachedScript, now time.Time) bool {
	return now.Sub(cached.storedAt) > c.ttl
}

func hashSource(source string) [32]byte {
	return sha256.Sum256([]byte(source))
}
