package dedup

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"crawl-engine/internal/fingerprint"
)

// LSH banding over the MinHash signature: signatures that agree on every row
// of at least one band land in a shared bucket and become candidates.
const (
	lshBands = 32
	lshRows  = fingerprint.SignatureSize / lshBands
)

// lshIndex maps band-bucket keys to content-identity ids. Not safe for
// concurrent use; the Checker serializes access.
type lshIndex struct {
	buckets map[string][]int
}

func newLSHIndex() *lshIndex {
	return &lshIndex{buckets: make(map[string][]int)}
}

// add registers the identity id under every band bucket of sig.
func (ix *lshIndex) add(sig []uint64, id int) {
	for _, key := range bandKeys(sig) {
		ix.buckets[key] = append(ix.buckets[key], id)
	}
}

// candidates returns the deduplicated identity ids sharing any band bucket
// with sig.
func (ix *lshIndex) candidates(sig []uint64) []int {
	seen := make(map[int]struct{})
	var out []int
	for _, key := range bandKeys(sig) {
		for _, id := range ix.buckets[key] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func bandKeys(sig []uint64) []string {
	if len(sig) < fingerprint.SignatureSize {
		return nil
	}
	keys := make([]string, 0, lshBands)
	buf := make([]byte, 8*lshRows)
	for band := 0; band < lshBands; band++ {
		rows := sig[band*lshRows : (band+1)*lshRows]
		for i, v := range rows {
			binary.LittleEndian.PutUint64(buf[i*8:], v)
		}
		keys = append(keys, fmt.Sprintf("%d:%x", band, xxhash.Sum64(buf)))
	}
	return keys
}
