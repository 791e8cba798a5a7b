// Package conflict finds pairs of tasks whose declared file sets intersect.
package conflict

import (
	"fmt"
	"sort"

	"github.com/felixgeelhaar/batchguard/internal/errors"
	"github.com/felixgeelhaar/batchguard/internal/manifest"
)

// Edge is an undirected conflict between two tasks. A is the task declared
// first in the manifest.
type Edge struct {
	A     string   `json:"a"`
	B     string   `json:"b"`
	Files []string `json:"files"`
}

// Relation is the symmetric conflict relation over a task set
type Relation struct {
	index map[string][]string
	pairs map[pairKey][]string
	peers map[string][]string
	edges []Edge
}

type pairKey struct{ a, b string }

func key(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

// Detect builds an inverted index from file to owning tasks and derives one
// edge per pair of tasks sharing at least one file.
func Detect(tasks []manifest.Task) (*Relation, error) {
	position := make(map[string]int, len(tasks))
	index := make(map[string][]string)

	for i, t := range tasks {
		if _, dup := position[t.ID()]; dup {
			return nil, errors.NewManifestError(errors.ErrCodeManifestDuplicate,
				fmt.Sprintf("duplicate task id %q", t.ID()), t.ID())
		}
		position[t.ID()] = i
		for _, f := range t.Files() {
			index[f] = append(index[f], t.ID())
		}
	}

	r := &Relation{
		index: index,
		pairs: make(map[pairKey][]string),
		peers: make(map[string][]string),
	}

	files := make([]string, 0, len(index))
	for f := range index {
		files = append(files, f)
	}
	sort.Strings(files)

	for _, f := range files {
		owners := index[f]
		for i := 0; i < len(owners); i++ {
			for j := i + 1; j < len(owners); j++ {
				k := key(owners[i], owners[j])
				if _, seen := r.pairs[k]; !seen {
					r.peers[owners[i]] = append(r.peers[owners[i]], owners[j])
					r.peers[owners[j]] = append(r.peers[owners[j]], owners[i])
				}
				r.pairs[k] = append(r.pairs[k], f)
			}
		}
	}

	for k, shared := range r.pairs {
		a, b := k.a, k.b
		if position[a] > position[b] {
			a, b = b, a
		}
		r.edges = append(r.edges, Edge{A: a, B: b, Files: shared})
	}
	sort.Slice(r.edges, func(i, j int) bool {
		pi, pj := position[r.edges[i].A], position[r.edges[j].A]
		if pi != pj {
			return pi < pj
		}
		return position[r.edges[i].B] < position[r.edges[j].B]
	})

	for id := range r.peers {
		sort.Slice(r.peers[id], func(i, j int) bool {
			return position[r.peers[id][i]] < position[r.peers[id][j]]
		})
	}

	return r, nil
}

// Conflicts reports whether a and b share a file
func (r *Relation) Conflicts(a, b string) bool {
	_, ok := r.pairs[key(a, b)]
	return ok
}

// SharedFiles returns the sorted files a and b both modify
func (r *Relation) SharedFiles(a, b string) []string {
	return append([]string(nil), r.pairs[key(a, b)]...)
}

// Edges returns every conflict edge ordered by manifest position of A then B
func (r *Relation) Edges() []Edge {
	out := make([]Edge, len(r.edges))
	for i, e := range r.edges {
		out[i] = Edge{A: e.A, B: e.B, Files: append([]string(nil), e.Files...)}
	}
	return out
}

// Peers lists the tasks conflicting with id, in manifest order
func (r *Relation) Peers(id string) []string {
	return append([]string(nil), r.peers[id]...)
}

// Index returns a copy of the file to owning task ids index
func (r *Relation) Index() map[string][]string {
	out := make(map[string][]string, len(r.index))
	for f, ids := range r.index {
		out[f] = append([]string(nil), ids...)
	}
	return out
}
