// Package fingerprint computes exact and near-duplicate fingerprints for a
// content blob: a SHA-256 digest, a 64-bit SimHash, and a MinHash signature.
// All values are pure functions of the input bytes.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"math/bits"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// SignatureSize is the number of hash permutations in a MinHash signature.
const SignatureSize = 128

// Fingerprint identifies a content blob exactly (SHA256) and approximately
// (SimHash, MinHash).
type Fingerprint struct {
	SHA256     string   `json:"sha256"`
	SimHash    uint64   `json:"simhash"`
	MinHash    []uint64 `json:"minhash"`
	WordCount  int      `json:"word_count"`
	ByteLength int      `json:"byte_length"`
}

// Compute derives the full fingerprint for content.
func Compute(content []byte) Fingerprint {
	sum := sha256.Sum256(content)
	tokens := tokenize(content)
	return Fingerprint{
		SHA256:     hex.EncodeToString(sum[:]),
		SimHash:    simHash(tokens),
		MinHash:    minHash(tokens),
		WordCount:  len(tokens),
		ByteLength: len(content),
	}
}

// Similarity converts the Hamming distance between two SimHashes into a
// score in [0,1], where 1 means identical bit patterns.
func Similarity(a, b uint64) float64 {
	return 1 - float64(bits.OnesCount64(a^b))/64
}

// JaccardEstimate approximates the Jaccard similarity of the underlying
// token sets from two MinHash signatures.
func JaccardEstimate(a, b []uint64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	match := 0
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			match++
		}
	}
	return float64(match) / float64(n)
}

// simHash folds weighted token hashes into a 64-bit locality-sensitive hash.
func simHash(tokens []string) uint64 {
	if len(tokens) == 0 {
		return 0
	}
	weights := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		weights[tok]++
	}
	var vec [64]int
	for tok, w := range weights {
		h := xxhash.Sum64String(tok)
		for i := 0; i < 64; i++ {
			if h&(1<<uint(i)) != 0 {
				vec[i] += w
			} else {
				vec[i] -= w
			}
		}
	}
	var out uint64
	for i := 0; i < 64; i++ {
		if vec[i] > 0 {
			out |= 1 << uint(i)
		}
	}
	return out
}

// minHash computes a fixed-size signature of per-permutation minima over the
// token set. Permutations are affine transforms of the base xxhash value with
// deterministic odd multipliers, so signatures are stable across processes.
func minHash(tokens []string) []uint64 {
	sig := make([]uint64, SignatureSize)
	for i := range sig {
		sig[i] = math.MaxUint64
	}
	if len(tokens) == 0 {
		return sig
	}
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		base := xxhash.Sum64String(tok)
		for i := 0; i < SignatureSize; i++ {
			h := permute(base, uint64(i))
			if h < sig[i] {
				sig[i] = h
			}
		}
	}
	return sig
}

func permute(base, i uint64) uint64 {
	// splitmix64-style mixing keyed by the permutation index.
	z := base + (i+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// tokenize lowercases the input and splits it on any non-letter/digit rune.
func tokenize(content []byte) []string {
	var tokens []string
	var cur []rune
	for _, r := range string(content) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur = append(cur, unicode.ToLower(r))
			continue
		}
		if len(cur) > 0 {
			tokens = append(tokens, string(cur))
			cur = cur[:0]
		}
	}
	if len(cur) > 0 {
		tokens = append(tokens, string(cur))
	}
	return tokens
}
