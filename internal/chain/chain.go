// Package chain keeps the time-ordered snapshot chain of one entity as an arena indexed by
// snapshot time. Links are times looked up in the index, so removing a node never reaches
// beyond its direct neighbours.
package chain

import (
	"fmt"
	"sort"
	"time"

	apperrors "github.com/hedge-snapshots/internal/errors"
	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/types"
)

// Node is a snapshot that can live in a chain
type Node interface {
	Time() time.Time
	ChainLinks() *models.Links
}

// Chain is the snapshot chain of one entity. It is not safe for concurrent use.
type Chain[N Node] struct {
	key   types.EntityKey
	index map[int64]N
	times []time.Time
}

// New creates an empty chain for key
func New[N Node](key types.EntityKey) *Chain[N] {
	return &Chain[N]{key: key, index: make(map[int64]N)}
}

// FromNodes loads stored nodes without touching their links. Duplicated times are rejected.
// Use Verify to check the stored links.
func FromNodes[N Node](key types.EntityKey, nodes []N) (*Chain[N], error) {
	c := New[N](key)
	for _, n := range nodes {
		k := n.Time().UnixNano()
		if _, ok := c.index[k]; ok {
			return nil, apperrors.NewSnapshotExistsError(key, stamp(n.Time()))
		}
		c.index[k] = n
		c.times = append(c.times, n.Time())
	}
	sort.Slice(c.times, func(i, j int) bool { return c.times[i].Before(c.times[j]) })
	return c, nil
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// Key is the entity the chain belongs to
func (c *Chain[N]) Key() types.EntityKey { return c.key }

// Len is the number of nodes
func (c *Chain[N]) Len() int { return len(c.times) }

// Get returns the node at t
func (c *Chain[N]) Get(t time.Time) (N, bool) {
	n, ok := c.index[t.UnixNano()]
	return n, ok
}

// Head is the earliest node
func (c *Chain[N]) Head() (N, bool) {
	var zero N
	if len(c.times) == 0 {
		return zero, false
	}
	return c.Get(c.times[0])
}

// Tail is the latest node
func (c *Chain[N]) Tail() (N, bool) {
	var zero N
	if len(c.times) == 0 {
		return zero, false
	}
	return c.Get(c.times[len(c.times)-1])
}

// Before returns the latest node strictly before t
func (c *Chain[N]) Before(t time.Time) (N, bool) {
	var zero N
	i := sort.Search(len(c.times), func(i int) bool { return !c.times[i].Before(t) })
	if i == 0 {
		return zero, false
	}
	return c.Get(c.times[i-1])
}

// After returns the earliest node strictly after t
func (c *Chain[N]) After(t time.Time) (N, bool) {
	var zero N
	i := sort.Search(len(c.times), func(i int) bool { return c.times[i].After(t) })
	if i == len(c.times) {
		return zero, false
	}
	return c.Get(c.times[i])
}

// Nodes returns every node in time order
func (c *Chain[N]) Nodes() []N {
	out := make([]N, 0, len(c.times))
	for _, t := range c.times {
		out = append(out, c.index[t.UnixNano()])
	}
	return out
}

// Between returns the nodes with from <= time <= to, in time order
func (c *Chain[N]) Between(from, to time.Time) []N {
	var out []N
	for _, t := range c.times {
		if t.Before(from) || t.After(to) {
			continue
		}
		out = append(out, c.index[t.UnixNano()])
	}
	return out
}

// Insert appends n after the tail and points n.Last at it. The tail's Next is set only when
// attach is true; otherwise call Attach once the caller commits to n.
func (c *Chain[N]) Insert(n N, attach bool) error {
	t := n.Time()
	if _, ok := c.Get(t); ok {
		return apperrors.NewSnapshotExistsError(c.key, stamp(t))
	}
	tail, hasTail := c.Tail()
	if hasTail && t.Before(tail.Time()) {
		return apperrors.NewOutOfOrderError(c.key, stamp(t), stamp(tail.Time()))
	}

	links := n.ChainLinks()
	links.Next = nil
	links.Last = nil
	if hasTail {
		links.Last = timePtr(tail.Time())
		if attach {
			tail.ChainLinks().Next = timePtr(t)
		}
	}
	c.index[t.UnixNano()] = n
	c.times = append(c.times, t)
	return nil
}

// Attach points the predecessor of the node at t forward to it
func (c *Chain[N]) Attach(t time.Time) error {
	n, ok := c.Get(t)
	if !ok {
		return apperrors.NewSnapshotNotFoundError(c.key, stamp(t))
	}
	if prev, ok := c.Before(t); ok {
		prev.ChainLinks().Next = timePtr(t)
		n.ChainLinks().Last = timePtr(prev.Time())
	}
	return nil
}

// Replacement reports what Replace changed so a store can persist the same edits
type Replacement[N Node] struct {
	Old     N
	New     N
	Prev    N
	HasPrev bool
	Next    N
	HasNext bool
}

// Replace swaps the node at n's time for n: detach the old node, delete it, insert n and
// relink both neighbours. Nothing changes when it fails.
func (c *Chain[N]) Replace(n N) (Replacement[N], error) {
	t := n.Time()
	old, ok := c.Get(t)
	if !ok {
		return Replacement[N]{}, apperrors.NewSnapshotNotFoundError(c.key, stamp(t))
	}
	r := Replacement[N]{Old: old, New: n}
	r.Prev, r.HasPrev = c.Before(t)
	r.Next, r.HasNext = c.After(t)

	// detach
	oldLinks := old.ChainLinks()
	oldLinks.Last, oldLinks.Next = nil, nil
	if r.HasPrev {
		r.Prev.ChainLinks().Next = nil
	}
	if r.HasNext {
		r.Next.ChainLinks().Last = nil
	}

	// delete and insert in place
	c.index[t.UnixNano()] = n

	// relink
	links := n.ChainLinks()
	links.Last, links.Next = nil, nil
	if r.HasPrev {
		links.Last = timePtr(r.Prev.Time())
		r.Prev.ChainLinks().Next = timePtr(t)
	}
	if r.HasNext {
		links.Next = timePtr(r.Next.Time())
		r.Next.ChainLinks().Last = timePtr(t)
	}
	return r, nil
}

// Verify checks that consecutive nodes point at each other and that only the head has no
// Last and only the tail has no Next.
func (c *Chain[N]) Verify() error {
	nodes := c.Nodes()
	for i, n := range nodes {
		links := n.ChainLinks()
		if i == 0 {
			if links.Last != nil {
				return apperrors.NewChainBrokenError(c.key, fmt.Sprintf("head %s has a last link to %s", stamp(n.Time()), stamp(*links.Last)))
			}
		} else {
			prev := nodes[i-1]
			if links.Last == nil || !links.Last.Equal(prev.Time()) {
				return apperrors.NewChainBrokenError(c.key, fmt.Sprintf("%s does not link back to %s", stamp(n.Time()), stamp(prev.Time())))
			}
			if next := prev.ChainLinks().Next; next == nil || !next.Equal(n.Time()) {
				return apperrors.NewChainBrokenError(c.key, fmt.Sprintf("%s does not link forward to %s", stamp(prev.Time()), stamp(n.Time())))
			}
		}
		if i == len(nodes)-1 && links.Next != nil {
			return apperrors.NewChainBrokenError(c.key, fmt.Sprintf("tail %s has a next link to %s", stamp(n.Time()), stamp(*links.Next)))
		}
	}
	return nil
}
