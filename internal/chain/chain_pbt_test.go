package chain

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/hedge-snapshots/internal/models"
)

// op is one step of a random chain history: a positive value appends that many days after
// the tail, zero or less replaces the node at index -value modulo the length.
type op struct {
	value  int
	attach bool
}

func genOp() gopter.Gen {
	return gopter.CombineGens(gen.IntRange(-20, 5), gen.Bool()).Map(func(v []interface{}) op {
		return op{value: v[0].(int), attach: v[1].(bool)}
	})
}

func TestChainInvariant(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("create and replace keep last/next consistent", prop.ForAll(
		func(ops []op) bool {
			c := New[*models.AccountSnapshot](key)
			next := 1
			for _, o := range ops {
				if o.value > 0 || c.Len() == 0 {
					step := o.value
					if step <= 0 {
						step = 1
					}
					next += step
					if err := c.Insert(snap(next, 0), o.attach); err != nil {
						return false
					}
					if !o.attach {
						if err := c.Attach(day(next)); err != nil {
							return false
						}
					}
					continue
				}
				nodes := c.Nodes()
				target := nodes[(-o.value)%len(nodes)]
				fresh := &models.AccountSnapshot{AccountID: "acc-1", SnapshotTime: target.SnapshotTime, CashflowNPV: float64(o.value)}
				if _, err := c.Replace(fresh); err != nil {
					return false
				}
			}
			if c.Verify() != nil {
				return false
			}
			heads, tails := 0, 0
			for _, n := range c.Nodes() {
				if n.Last == nil {
					heads++
				}
				if n.Next == nil {
					tails++
				}
			}
			if c.Len() == 0 {
				return heads == 0 && tails == 0
			}
			return heads == 1 && tails == 1
		},
		gen.SliceOf(genOp()),
	))

	properties.Property("inserting before the tail never mutates the chain", prop.ForAll(
		func(n int, back int) bool {
			c := New[*models.AccountSnapshot](key)
			for d := 1; d <= n; d++ {
				if err := c.Insert(snap(d*2, 0), true); err != nil {
					return false
				}
			}
			before := c.Len()
			err := c.Insert(snap(2*n-back, 0), true)
			return err != nil && c.Len() == before && c.Verify() == nil
		},
		gen.IntRange(2, 10), gen.IntRange(1, 3),
	))

	properties.TestingRun(t)
}
