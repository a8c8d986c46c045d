package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrGenomeLength signals a genome whose length does not match the
	// validator count.
	ErrGenomeLength = errors.New("genome length mismatch")
	// ErrSelfPair signals a lookup of a validator against itself.
	ErrSelfPair = errors.New("validator paired with itself")
)

// Genome is the flat vector a genetic search proposes. Its interpretation
// depends on the schedule it is decoded into.
type Genome []float64

// GenomeLength returns the genome length for n validators: one gene per
// ordered pair of distinct validators and consensus message kind.
func GenomeLength(n int) int {
	return n * (n - 1) * NumConsensusMessageTypes
}

// GenomeIndex returns the position of the gene for messages of kind t sent
// from one validator to another. Self pairs are skipped, so destinations above
// the sender shift down by one.
func GenomeIndex(n int, from, to NodeIndex, t ConsensusMessageType) (int, error) {
	switch {
	case from < 0 || int(from) >= n || to < 0 || int(to) >= n:
		return 0, fmt.Errorf("pair (%d, %d) out of range for %d validators", from, to, n)
	case from == to:
		return 0, fmt.Errorf("pair (%d, %d): %w", from, to, ErrSelfPair)
	case t < 0 || t >= NumConsensusMessageTypes:
		return 0, fmt.Errorf("unknown consensus message type %d", t)
	}
	column := int(to)
	if to > from {
		column--
	}
	return int(from)*NumConsensusMessageTypes*(n-1) + column*NumConsensusMessageTypes + int(t), nil
}

// Schedule is a decoded genome that can be installed on a scheduler.
type Schedule interface {
	Validators() int
	Genome() Genome
}

var (
	_ Schedule = (*DelayMap)(nil)
	_ Schedule = (*PriorityMap)(nil)
)

// DelayMap assigns a delivery delay to every (from, to, kind) triple.
type DelayMap struct {
	n      int
	genome Genome
	delays []time.Duration
}

// NewDelayMap decodes a genome of millisecond delays. Negative and NaN genes
// clamp to zero.
func NewDelayMap(n int, genome Genome) (*DelayMap, error) {
	if len(genome) != GenomeLength(n) {
		return nil, fmt.Errorf("got %d genes for %d validators, want %d: %w", len(genome), n, GenomeLength(n), ErrGenomeLength)
	}
	dm := &DelayMap{
		n:      n,
		genome: append(Genome(nil), genome...),
		delays: make([]time.Duration, len(genome)),
	}
	for i, gene := range genome {
		if gene > 0 && !math.IsNaN(gene) {
			dm.delays[i] = time.Duration(math.Round(gene * float64(time.Millisecond)))
		}
	}
	return dm, nil
}

// Delay returns the delay for a message of kind t from one validator to
// another. Unknown triples are not delayed.
func (dm *DelayMap) Delay(from, to NodeIndex, t ConsensusMessageType) time.Duration {
	i, err := GenomeIndex(dm.n, from, to, t)
	if err != nil {
		return 0
	}
	return dm.delays[i]
}

// Total returns the sum of all configured delays.
func (dm *DelayMap) Total() time.Duration {
	var total time.Duration
	for _, d := range dm.delays {
		total += d
	}
	return total
}

func (dm *DelayMap) Validators() int { return dm.n }
func (dm *DelayMap) Genome() Genome  { return dm.genome }

// PriorityMap assigns a delivery priority to every (from, to, kind) triple.
// Higher values are delivered first.
type PriorityMap struct {
	n      int
	genome Genome
}

// NewPriorityMap decodes a genome of priorities. NaN genes map to zero.
func NewPriorityMap(n int, genome Genome) (*PriorityMap, error) {
	if len(genome) != GenomeLength(n) {
		return nil, fmt.Errorf("got %d genes for %d validators, want %d: %w", len(genome), n, GenomeLength(n), ErrGenomeLength)
	}
	pm := &PriorityMap{n: n, genome: append(Genome(nil), genome...)}
	for i, gene := range pm.genome {
		if math.IsNaN(gene) {
			pm.genome[i] = 0
		}
	}
	return pm, nil
}

// Priority returns the priority of a message of kind t from one validator to
// another. Unknown triples get zero.
func (pm *PriorityMap) Priority(from, to NodeIndex, t ConsensusMessageType) float64 {
	i, err := GenomeIndex(pm.n, from, to, t)
	if err != nil {
		return 0
	}
	return pm.genome[i]
}

func (pm *PriorityMap) Validators() int { return pm.n }
func (pm *PriorityMap) Genome() Genome  { return pm.genome }
