package retention

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// HashAlgorithm selects the content-hash function the dedup store uses to
// fingerprint stored bytes.
type HashAlgorithm int

const (
	// HashSHA256 is the default: cryptographic, collision-resistant.
	HashSHA256 HashAlgorithm = iota
	// HashXXHash trades collision resistance for speed; promoted from the
	// teacher's indirect xxhash/v2 dependency for callers that hash a high
	// volume of small blobs and accept the (astronomically small) risk.
	HashXXHash
)

func hashBytes(algo HashAlgorithm, data []byte) string {
	switch algo {
	case HashXXHash:
		sum := xxhash.Sum64(data)
		return "xx:" + hex.EncodeToString([]byte{
			byte(sum >> 56), byte(sum >> 48), byte(sum >> 40), byte(sum >> 32),
			byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum),
		})
	default:
		sum := sha256.Sum256(data)
		return "sha256:" + hex.EncodeToString(sum[:])
	}
}

// ErrNotFound is returned by Retrieve/Remove for an unknown reference ID.
var ErrNotFound = errors.New("retention: reference not found")

// Stats tracks the dedup store's running counters, per spec.md §4.4.
type Stats struct {
	TotalItems        int64 // live reference IDs
	UniqueContents    int64 // distinct content hashes currently stored
	TotalSizeBytes    int64 // bytes actually held (unique content only)
	DedupSavingsBytes int64 // bytes NOT stored because content was already present
	Retrievals        int64
	Stores            int64
}

type blob struct {
	data     []byte
	refcount int
}

// DedupStore is a content-addressed byte store with reference counting: a
// caller-chosen referenceId maps to a content hash, and the hash maps to
// the actual bytes, stored exactly once regardless of how many reference
// IDs point to the same content. Optional chunking (ChunkSize > 0) splits
// large payloads into spans that are deduplicated independently, so two
// blobs sharing a prefix only pay for the differing suffix once.
//
// store/remove are serialized by mu per spec.md §5 ("must serialize
// store/remove operations... retrieve is safe concurrently"); retrieve
// takes the same exclusive lock because it updates the Retrievals counter.
type DedupStore struct {
	mu sync.RWMutex

	algo      HashAlgorithm
	chunkSize int
	filter    *Bloom

	refToHash map[string][]string // referenceId -> ordered chunk hashes (len 1 if unchunked)
	blobs     map[string]*blob    // content hash -> blob

	stats Stats
}

// DedupOption configures a DedupStore at construction.
type DedupOption func(*DedupStore)

// WithHashAlgorithm selects the content-hash function (default SHA-256).
func WithHashAlgorithm(algo HashAlgorithm) DedupOption {
	return func(s *DedupStore) { s.algo = algo }
}

// WithChunkSize enables chunk-level deduplication: bytes longer than
// chunkSize are split into chunkSize-byte spans (the final span may be
// shorter) and each chunk is deduplicated independently.
func WithChunkSize(chunkSize int) DedupOption {
	return func(s *DedupStore) { s.chunkSize = chunkSize }
}

// WithBloomFilter attaches a Bloom filter to accelerate store's negative
// lookups (skip the map probe when the filter says "definitely new").
func WithBloomFilter(filter *Bloom) DedupOption {
	return func(s *DedupStore) { s.filter = filter }
}

// NewDedupStore builds an empty store.
func NewDedupStore(opts ...DedupOption) *DedupStore {
	s := &DedupStore{
		refToHash: make(map[string][]string),
		blobs:     make(map[string]*blob),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *DedupStore) chunks(data []byte) [][]byte {
	if s.chunkSize <= 0 || len(data) <= s.chunkSize {
		return [][]byte{data}
	}
	var out [][]byte
	for start := 0; start < len(data); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(data) {
			end = len(data)
		}
		out = append(out, data[start:end])
	}
	return out
}

// Store hashes data, storing it once per distinct hash and incrementing
// its refcount; referenceID must be unique and is the caller's handle for
// later Retrieve/Remove calls. If referenceID is empty, the content hash
// itself (of the whole payload) is used as the reference ID.
func (s *DedupStore) Store(data []byte, referenceID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunks := s.chunks(data)
	hashes := make([]string, len(chunks))
	for i, chunk := range chunks {
		h := hashBytes(s.algo, chunk)
		hashes[i] = h

		// The Bloom filter is a fast path for the common "definitely
		// new" case: a false result lets us skip the map probe entirely.
		// A true result is only a maybe, so it still falls through to
		// the authoritative map check.
		var existing *blob
		if s.filter == nil || s.filter.Contains([]byte(h)) {
			existing = s.blobs[h]
		}

		if existing != nil {
			existing.refcount++
			s.stats.DedupSavingsBytes += int64(len(chunk))
			continue
		}

		s.blobs[h] = &blob{data: append([]byte(nil), chunk...), refcount: 1}
		if s.filter != nil {
			s.filter.Add([]byte(h))
		}
		s.stats.UniqueContents++
		s.stats.TotalSizeBytes += int64(len(chunk))
	}

	if referenceID == "" {
		referenceID = hashBytes(s.algo, data)
	}
	if _, exists := s.refToHash[referenceID]; !exists {
		s.stats.TotalItems++
	}
	s.refToHash[referenceID] = hashes
	s.stats.Stores++
	return referenceID, nil
}

// Retrieve resolves referenceID back to bytes, reassembling chunks in
// order if the content was chunked. Safe for concurrent use.
func (s *DedupStore) Retrieve(referenceID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashes, ok := s.refToHash[referenceID]
	if !ok {
		return nil, ErrNotFound
	}
	s.stats.Retrievals++

	if len(hashes) == 1 {
		b, ok := s.blobs[hashes[0]]
		if !ok {
			return nil, ErrNotFound
		}
		return append([]byte(nil), b.data...), nil
	}

	var out []byte
	for _, h := range hashes {
		b, ok := s.blobs[h]
		if !ok {
			return nil, ErrNotFound
		}
		out = append(out, b.data...)
	}
	return out, nil
}

// Remove decrements the refcount of every chunk referenceID points to,
// deleting a chunk's blob once its refcount reaches zero. Returns false if
// referenceID was never stored.
func (s *DedupStore) Remove(referenceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashes, ok := s.refToHash[referenceID]
	if !ok {
		return false, nil
	}
	delete(s.refToHash, referenceID)
	s.stats.TotalItems--

	for _, h := range hashes {
		b, ok := s.blobs[h]
		if !ok {
			continue
		}
		b.refcount--
		if b.refcount <= 0 {
			s.stats.TotalSizeBytes -= int64(len(b.data))
			s.stats.UniqueContents--
			delete(s.blobs, h)
		}
	}
	return true, nil
}

// Stats returns a copy of the store's running counters.
func (s *DedupStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// liveRefcountSum is a test/invariant-checking helper: the sum of every
// live blob's refcount, which must equal len(refToHash) under the
// single-reference-per-chunk-slot model only when chunking is disabled;
// with chunking each reference holds one refcount per distinct chunk it
// names, so callers checking invariant 5 should compare against
// TotalItems for the unchunked case.
func (s *DedupStore) liveRefcountSum() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := 0
	for _, b := range s.blobs {
		sum += b.refcount
	}
	return sum
}
