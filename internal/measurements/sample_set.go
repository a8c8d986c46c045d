package measurements

import (
	"sync"

	"github.com/minio/sha256-simd"
)

// SampleSet remembers recently seen payloads so that repeated relays of the
// same message can be counted. Samples are keyed by their SHA-256 digest.
//
// Two maps of up to maxSize entries each are kept; when the active one fills
// up the older one is cleared and the two swap roles. Membership is therefore
// answered over a window of between maxSize and 2*maxSize recent samples.
type SampleSet struct {
	maxSize int

	mu   sync.Mutex
	flip map[[sha256.Size]byte]struct{}
	flop map[[sha256.Size]byte]struct{}
}

// NewSampleSet creates a new SampleSet with a specified max size per sample
// subset.
func NewSampleSet(maxSize int) *SampleSet {
	maxSize = max(1, maxSize)
	return &SampleSet{
		maxSize: maxSize,
		flip:    make(map[[sha256.Size]byte]struct{}, maxSize),
		flop:    make(map[[sha256.Size]byte]struct{}, maxSize),
	}
}

// Contains reports whether v was seen within the current window, and if not
// records it.
func (ss *SampleSet) Contains(v []byte) bool {
	key := sha256.Sum256(v)

	ss.mu.Lock()
	defer ss.mu.Unlock()

	if _, exists := ss.flip[key]; exists {
		return true
	}
	if _, exists := ss.flop[key]; exists {
		return true
	}
	ss.flip[key] = struct{}{}

	if len(ss.flip) >= ss.maxSize {
		clear(ss.flop)
		ss.flop, ss.flip = ss.flip, ss.flop
	}
	return false
}

// Reset forgets every sample.
func (ss *SampleSet) Reset() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	clear(ss.flip)
	clear(ss.flop)
}
