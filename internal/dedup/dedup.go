package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"crawl-engine/internal/fingerprint"
	"crawl-engine/internal/kv"
)

const (
	// contentSampleBytes bounds the stored sample for future comparisons.
	contentSampleBytes = 256
	// exactKeyPrefix namespaces exact-fingerprint keys in the durable store.
	exactKeyPrefix = "fp:sha:"
)

// identity is one content-identity record. Duplicate relationships are held
// as an arena of identities plus a URL index, never a pointer graph.
type identity struct {
	canonicalURL string
	fp           fingerprint.Fingerprint
	sample       string
	duplicates   []string
}

// Checker runs the duplicate-classification pipeline against an in-memory
// index backed by an optional durable key/value store. The in-memory lookup
// is the fast path; the durable store catches duplicates across restarts.
type Checker struct {
	mu         sync.Mutex
	policy     Policy
	identities []*identity
	urlIndex   map[string]int
	exactIndex map[string]int
	lsh        *lshIndex
	durable    kv.Store
	logger     *zap.Logger
}

// New constructs a Checker. durable may be nil for purely in-memory operation.
func New(policy Policy, durable kv.Store, logger *zap.Logger) *Checker {
	return &Checker{
		policy:     policy,
		urlIndex:   make(map[string]int),
		exactIndex: make(map[string]int),
		lsh:        newLSHIndex(),
		durable:    durable,
		logger:     logger,
	}
}

// Check classifies content fetched from pageURL. canonicalURL is the
// extractor-supplied canonical link, or empty. A store-layer failure degrades
// to "not duplicate"; it never fails the crawl.
func (c *Checker) Check(ctx context.Context, content []byte, pageURL, canonicalURL string) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Step 1: canonical redirect.
	if canonicalURL != "" && canonicalURL != pageURL {
		if id, ok := c.urlIndex[canonicalURL]; ok {
			c.attachDuplicate(id, pageURL)
			return Result{
				IsDuplicate: true,
				Type:        TypeCanonical,
				Action:      ActionRedirect,
				OriginalURL: c.identities[id].canonicalURL,
				Similarity:  1.0,
			}
		}
	}

	fp := fingerprint.Compute(content)

	// Step 2: exact match, memory first, then the durable cache.
	if id, ok := c.exactIndex[fp.SHA256]; ok {
		c.attachDuplicate(id, pageURL)
		return Result{
			IsDuplicate: true,
			Type:        TypeExact,
			Action:      c.exactAction(),
			OriginalURL: c.identities[id].canonicalURL,
			Similarity:  1.0,
		}
	}
	if original, ok := c.durableExact(ctx, fp.SHA256); ok && original != pageURL {
		return Result{
			IsDuplicate: true,
			Type:        TypeExact,
			Action:      c.exactAction(),
			OriginalURL: original,
			Similarity:  1.0,
		}
	}

	// Step 3: classify against the best LSH candidate. Similarity at or
	// above ExactThreshold lands in the exact band even though the byte
	// hashes differ (trivial rewrites, timestamps, whitespace).
	if best, sim := c.bestCandidate(fp); best != nil {
		switch {
		case c.policy.ExactThreshold > 0 && sim >= c.policy.ExactThreshold:
			return Result{
				IsDuplicate: true,
				Type:        TypeExact,
				Action:      c.exactAction(),
				OriginalURL: best.canonicalURL,
				Similarity:  sim,
			}
		case sim >= c.policy.NearDuplicateThreshold:
			action := ActionAccept
			if c.policy.RejectNearDuplicate {
				action = ActionReject
			}
			return Result{
				IsDuplicate: true,
				Type:        TypeNearDuplicate,
				Action:      action,
				OriginalURL: best.canonicalURL,
				Similarity:  sim,
			}
		case sim >= c.policy.SimilarThreshold && c.policy.MergeSimilar:
			return Result{
				IsDuplicate: true,
				Type:        TypeSimilar,
				Action:      ActionMerge,
				OriginalURL: best.canonicalURL,
				Similarity:  sim,
			}
		}
	}

	// Step 4: unique. Store for future comparisons.
	c.store(ctx, fp, pageURL, canonicalURL, content)
	return Result{Action: ActionAccept}
}

// Cluster returns the URLs known to duplicate or redirect into canonicalURL.
func (c *Checker) Cluster(canonicalURL string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.urlIndex[canonicalURL]
	if !ok {
		return nil
	}
	dups := c.identities[id].duplicates
	out := make([]string, len(dups))
	copy(out, dups)
	return out
}

// Size reports the number of distinct content identities tracked.
func (c *Checker) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.identities)
}

func (c *Checker) exactAction() Action {
	if c.policy.RejectExact {
		return ActionReject
	}
	return ActionAccept
}

func (c *Checker) bestCandidate(fp fingerprint.Fingerprint) (*identity, float64) {
	var best *identity
	bestSim := 0.0
	for _, id := range c.lsh.candidates(fp.MinHash) {
		cand := c.identities[id]
		sim := fingerprint.Similarity(fp.SimHash, cand.fp.SimHash)
		if sim > bestSim {
			best, bestSim = cand, sim
		}
	}
	return best, bestSim
}

func (c *Checker) store(ctx context.Context, fp fingerprint.Fingerprint, pageURL, canonicalURL string, content []byte) {
	canonical := canonicalURL
	if canonical == "" {
		canonical = pageURL
	}
	sample := string(content)
	if len(sample) > contentSampleBytes {
		sample = sample[:contentSampleBytes]
	}
	rec := &identity{canonicalURL: canonical, fp: fp, sample: sample}
	c.identities = append(c.identities, rec)
	id := len(c.identities) - 1

	c.urlIndex[canonical] = id
	if pageURL != canonical {
		c.urlIndex[pageURL] = id
		rec.duplicates = append(rec.duplicates, pageURL)
	}
	c.exactIndex[fp.SHA256] = id
	c.lsh.add(fp.MinHash, id)

	if c.durable == nil {
		return
	}
	if err := c.durable.Set(ctx, exactKeyPrefix+fp.SHA256, []byte(canonical), 0); err != nil {
		c.logger.Warn("durable fingerprint write failed",
			zap.String("url", pageURL), zap.Error(err))
	}
}

func (c *Checker) durableExact(ctx context.Context, sha string) (string, bool) {
	if c.durable == nil {
		return "", false
	}
	getCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	val, err := c.durable.Get(getCtx, exactKeyPrefix+sha)
	if err != nil {
		if !errors.Is(err, kv.ErrKeyNotFound) {
			c.logger.Warn("durable fingerprint read failed; treating as unique", zap.Error(err))
		}
		return "", false
	}
	return string(val), true
}

func (c *Checker) attachDuplicate(id int, dupURL string) {
	rec := c.identities[id]
	if dupURL == rec.canonicalURL {
		return
	}
	if _, known := c.urlIndex[dupURL]; !known {
		c.urlIndex[dupURL] = id
	}
	for _, existing := range rec.duplicates {
		if existing == dupURL {
			return
		}
	}
	rec.duplicates = append(rec.duplicates, dupURL)
}

// String implements fmt.Stringer for debug logging.
func (r Result) String() string {
	if !r.IsDuplicate {
		return "unique"
	}
	return fmt.Sprintf("%s(%.2f)->%s", r.Type, r.Similarity, r.Action)
}
