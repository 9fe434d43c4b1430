package lens

import (
	"crypto/sha1"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/mtraver/base91"
	"github.com/vmihailenco/msgpack/v5"
)

type cacheEntry struct {
	Rewritten    string     `msgpack:"r"`
	CallSites    []CallSite `msgpack:"cs,omitempty"`
	Unterminated int        `msgpack:"u,omitempty"`
}

// CachingRewriter serves scans from Storage, scanning with the wrapped CallRewriter only when the source has not
// been seen before. Entries are namespaced by the rewriter options so a configuration change never reuses output.
// Storage failures are logged and otherwise ignored, the result is always the fresh scan in that case.
type CachingRewriter struct {
	rewriter     *CallRewriter
	store        Storage
	hits, misses atomic.Int64
}

// NewCachingRewriter wraps rewriter with a cache held in store.
func NewCachingRewriter(rewriter *CallRewriter, store Storage) *CachingRewriter {
	return &CachingRewriter{
		rewriter: rewriter,
		store:    KeyPrefixStorage(store, rewriter.Options().Fingerprint()),
	}
}

// cacheKey identifies a source within a single options namespace.
func cacheKey(source, path string) string {
	h := sha1.New()
	_, _ = h.Write([]byte(path))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(source))
	return base91.StdEncoding.EncodeToString(h.Sum(nil))
}

func (c *CachingRewriter) RewriteSource(source, path string) string {
	return c.ScanSource(source, path).Rewritten
}

func (c *CachingRewriter) ScanSource(source, path string) SourceScan {
	key := cacheKey(source, path)
	if scan, ok, err := c.load(key); err != nil {
		log.Printf("%sCache entry unreadable for %s: %v", ErrorLogPrefix, path, err)
		_ = c.store.DeleteEntry(key)
	} else if ok {
		c.hits.Add(1)
		return scan
	}

	c.misses.Add(1)
	scan := c.rewriter.ScanSource(source, path)
	if err := c.save(key, scan); err != nil {
		log.Printf("%sCache store failed for %s: %v", ErrorLogPrefix, path, err)
	}
	return scan
}

func (c *CachingRewriter) load(key string) (SourceScan, bool, error) {
	blob, ok, err := c.store.LoadEntry(key)
	if err != nil || !ok {
		return SourceScan{}, false, err
	}
	data, err := SnappyDecompress(nil, blob)
	if err != nil {
		return SourceScan{}, false, fmt.Errorf("decompress failure: %w", err)
	}
	var entry cacheEntry
	if err := msgpack.Unmarshal(data, &entry); err != nil {
		return SourceScan{}, false, fmt.Errorf("decode failure: %w", err)
	}
	return SourceScan{
		Rewritten:    entry.Rewritten,
		CallSites:    entry.CallSites,
		Unterminated: entry.Unterminated,
	}, true, nil
}

func (c *CachingRewriter) save(key string, scan SourceScan) error {
	data, err := msgpack.Marshal(&cacheEntry{
		Rewritten:    scan.Rewritten,
		CallSites:    scan.CallSites,
		Unterminated: scan.Unterminated,
	})
	if err != nil {
		return err
	}
	return c.store.SaveEntry(key, SnappyCompress(nil, data))
}

// Clear removes every entry cached under the rewriter's options.
func (c *CachingRewriter) Clear() error {
	return c.store.Clear()
}

// PruneCache deletes the entries of store cached under any options namespace other than keep, returning the number
// of entries removed.
func PruneCache(store Storage, keep string) (int, error) {
	keys, err := store.ListKeys()
	if err != nil {
		return 0, err
	}
	keepPrefix := keep + keyPrefixSeparator
	var removed int
	for _, key := range keys {
		if strings.HasPrefix(key, keepPrefix) {
			continue
		} else if err := store.DeleteEntry(key); err != nil {
			return removed, fmt.Errorf("cache delete failure %s: %w", key, err)
		}
		removed++
	}
	return removed, nil
}

// Stats returns the number of scans served from the cache and the number which required a fresh scan.
func (c *CachingRewriter) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
