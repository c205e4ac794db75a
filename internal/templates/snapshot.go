package templates

import (
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

// Entry is one enrolled face template. Vector is unit length.
type Entry struct {
	StudentID  int64
	Vector     []float32
	EnrolledAt time.Time
}

// Snapshot is an immutable view of all templates. It is safe for concurrent
// use and never changes after it has been published by a Store.
type Snapshot struct {
	entries  []Entry
	pos      map[int64]int
	indexMin int

	graphOnce sync.Once
	graph     *hnsw.Graph[int64]
}

func (s *Store) newSnapshot(entries []Entry) *Snapshot {
	pos := make(map[int64]int, len(entries))
	for i, e := range entries {
		pos[e.StudentID] = i
	}
	return &Snapshot{entries: entries, pos: pos, indexMin: s.indexMin}
}

// Len returns the number of templates.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Entries returns the templates in enrollment order. The slice is shared and
// must not be modified.
func (s *Snapshot) Entries() []Entry {
	if s == nil {
		return nil
	}
	return s.entries
}

// Get returns the template of a student.
func (s *Snapshot) Get(studentID int64) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	i, ok := s.pos[studentID]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// Candidates returns the templates worth scoring against query, in
// enrollment order. Below the index threshold every entry is returned, so
// matching is exhaustive. At or above it the nearest HNSW neighbours are
// returned from a graph built on first use; recall is then approximate.
func (s *Snapshot) Candidates(query []float32) []Entry {
	if s.Len() == 0 || s.indexMin <= 0 || s.Len() < s.indexMin {
		return s.Entries()
	}

	s.graphOnce.Do(s.buildGraph)

	neighbors := s.graph.Search(query, constants.HNSWCandidates)
	idx := make([]int, 0, len(neighbors))
	for _, n := range neighbors {
		if i, ok := s.pos[n.Key]; ok {
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)

	out := make([]Entry, len(idx))
	for j, i := range idx {
		out[j] = s.entries[i]
	}
	return out
}

func (s *Snapshot) buildGraph() {
	g := hnsw.NewGraph[int64]()
	g.M = constants.HNSWNeighbors
	g.Ml = 1.0 / float64(constants.HNSWNeighbors)
	g.Distance = hnsw.CosineDistance

	for _, e := range s.entries {
		g.Add(hnsw.MakeNode(e.StudentID, e.Vector))
	}
	s.graph = g
}
