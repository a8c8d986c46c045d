package store

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/byzfuzz/rmo/ged"
	"github.com/byzfuzz/rmo/internal/encoding"
)

var (
	_ encoding.CBORMarshalUnmarshaler = (*RunRecord)(nil)
	_ encoding.CBORMarshalUnmarshaler = (*ViolationRecord)(nil)
	_ encoding.CBORMarshalUnmarshaler = (*graphRecord)(nil)
)

// maxGenomeLength bounds decoded genomes. A cluster of 32 validators has a
// genome of 32*31*5 genes.
const maxGenomeLength = 1 << 16

// RunRecord summarises one evaluation of a schedule.
type RunRecord struct {
	ID uint64
	// StartedAt is stored with nanosecond precision in UTC.
	StartedAt time.Time
	Policy    string

	FitnessKind string
	Fitness     float64
	Genome      []float64

	Ledgers          uint64
	FailedRounds     uint64
	Duration         time.Duration
	AccumulatedDelay time.Duration
	Outcome          string
	Violations       uint64
}

const runRecordFields = 12

func (r *RunRecord) MarshalCBOR(w io.Writer) error {
	if r == nil {
		return fmt.Errorf("cannot marshal nil run record")
	}
	if err := writeArrayHeader(w, runRecordFields); err != nil {
		return err
	}
	if err := writeUint(w, r.ID); err != nil {
		return err
	}
	started := int64(math.MinInt64)
	if !r.StartedAt.IsZero() {
		started = r.StartedAt.UnixNano()
	}
	if err := writeInt(w, started); err != nil {
		return err
	}
	if err := writeString(w, r.Policy); err != nil {
		return err
	}
	if err := writeString(w, r.FitnessKind); err != nil {
		return err
	}
	if err := writeFloat(w, r.Fitness); err != nil {
		return err
	}
	if err := writeArrayHeader(w, len(r.Genome)); err != nil {
		return err
	}
	for _, gene := range r.Genome {
		if err := writeFloat(w, gene); err != nil {
			return err
		}
	}
	for _, v := range []uint64{r.Ledgers, r.FailedRounds} {
		if err := writeUint(w, v); err != nil {
			return err
		}
	}
	for _, d := range []time.Duration{r.Duration, r.AccumulatedDelay} {
		if err := writeInt(w, int64(d)); err != nil {
			return err
		}
	}
	if err := writeString(w, r.Outcome); err != nil {
		return err
	}
	return writeUint(w, r.Violations)
}

func (r *RunRecord) UnmarshalCBOR(rd io.Reader) (err error) {
	*r = RunRecord{}
	if err := readArrayHeader(rd, runRecordFields); err != nil {
		return fmt.Errorf("run record: %w", err)
	}
	if r.ID, err = readUint(rd); err != nil {
		return fmt.Errorf("run record id: %w", err)
	}
	started, err := readInt(rd)
	if err != nil {
		return fmt.Errorf("run record start: %w", err)
	}
	if started != math.MinInt64 {
		r.StartedAt = time.Unix(0, started).UTC()
	}
	if r.Policy, err = readString(rd); err != nil {
		return fmt.Errorf("run record policy: %w", err)
	}
	if r.FitnessKind, err = readString(rd); err != nil {
		return fmt.Errorf("run record fitness kind: %w", err)
	}
	if r.Fitness, err = readFloat(rd); err != nil {
		return fmt.Errorf("run record fitness: %w", err)
	}
	n, err := readLength(rd, maxGenomeLength)
	if err != nil {
		return fmt.Errorf("run record genome: %w", err)
	}
	if n > 0 {
		r.Genome = make([]float64, n)
		for i := range r.Genome {
			if r.Genome[i], err = readFloat(rd); err != nil {
				return fmt.Errorf("run record gene %d: %w", i, err)
			}
		}
	}
	if r.Ledgers, err = readUint(rd); err != nil {
		return fmt.Errorf("run record ledgers: %w", err)
	}
	if r.FailedRounds, err = readUint(rd); err != nil {
		return fmt.Errorf("run record failed rounds: %w", err)
	}
	duration, err := readInt(rd)
	if err != nil {
		return fmt.Errorf("run record duration: %w", err)
	}
	r.Duration = time.Duration(duration)
	delay, err := readInt(rd)
	if err != nil {
		return fmt.Errorf("run record accumulated delay: %w", err)
	}
	r.AccumulatedDelay = time.Duration(delay)
	if r.Outcome, err = readString(rd); err != nil {
		return fmt.Errorf("run record outcome: %w", err)
	}
	if r.Violations, err = readUint(rd); err != nil {
		return fmt.Errorf("run record violations: %w", err)
	}
	return nil
}

// ViolationRecord is one property violation raised during a run.
type ViolationRecord struct {
	Kind   string
	Seq    uint64
	Node   int64
	Detail string
}

func (v *ViolationRecord) MarshalCBOR(w io.Writer) error {
	if err := writeArrayHeader(w, 4); err != nil {
		return err
	}
	if err := writeString(w, v.Kind); err != nil {
		return err
	}
	if err := writeUint(w, v.Seq); err != nil {
		return err
	}
	if err := writeInt(w, v.Node); err != nil {
		return err
	}
	return writeString(w, v.Detail)
}

func (v *ViolationRecord) UnmarshalCBOR(r io.Reader) (err error) {
	*v = ViolationRecord{}
	if err := readArrayHeader(r, 4); err != nil {
		return fmt.Errorf("violation record: %w", err)
	}
	if v.Kind, err = readString(r); err != nil {
		return err
	}
	if v.Seq, err = readUint(r); err != nil {
		return err
	}
	if v.Node, err = readInt(r); err != nil {
		return err
	}
	v.Detail, err = readString(r)
	return err
}

// graphRecord is the stored form of a dependency graph: node labels followed
// by edges as flattened (from, to) index pairs.
type graphRecord struct {
	graph *ged.Graph
}

// maxGraphItems bounds decoded node and edge counts.
const maxGraphItems = 1 << 22

func (g *graphRecord) MarshalCBOR(w io.Writer) error {
	if err := writeArrayHeader(w, 2); err != nil {
		return err
	}
	labels := g.graph.Labels()
	if err := writeArrayHeader(w, len(labels)); err != nil {
		return err
	}
	for _, l := range labels {
		if err := writeString(w, l); err != nil {
			return err
		}
	}
	edges := g.graph.Edges()
	if err := writeArrayHeader(w, 2*len(edges)); err != nil {
		return err
	}
	for _, e := range edges {
		if err := writeUint(w, uint64(e[0])); err != nil {
			return err
		}
		if err := writeUint(w, uint64(e[1])); err != nil {
			return err
		}
	}
	return nil
}

func (g *graphRecord) UnmarshalCBOR(r io.Reader) error {
	if err := readArrayHeader(r, 2); err != nil {
		return fmt.Errorf("graph: %w", err)
	}
	n, err := readLength(r, maxGraphItems)
	if err != nil {
		return fmt.Errorf("graph nodes: %w", err)
	}
	graph := ged.NewGraph()
	for i := 0; i < n; i++ {
		label, err := readString(r)
		if err != nil {
			return fmt.Errorf("graph node %d: %w", i, err)
		}
		graph.AddNode(label)
	}
	m, err := readLength(r, 2*maxGraphItems)
	if err != nil {
		return fmt.Errorf("graph edges: %w", err)
	}
	if m%2 != 0 {
		return fmt.Errorf("graph edges: odd number of endpoints %d", m)
	}
	for i := 0; i < m; i += 2 {
		from, err := readUint(r)
		if err != nil {
			return err
		}
		to, err := readUint(r)
		if err != nil {
			return err
		}
		if from >= uint64(n) || to >= uint64(n) {
			return fmt.Errorf("graph edge (%d, %d) out of range for %d nodes", from, to, n)
		}
		if err := graph.AddEdge(int(from), int(to)); err != nil {
			return err
		}
	}
	g.graph = graph
	return nil
}
