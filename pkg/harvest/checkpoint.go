package harvest

import (
	"fmt"

	"github.com/canopy-network/subnetx/pkg/dataset"
)

// Checkpoints records, per netuid, the blocks already persisted.
// It is owned by a single run and is not safe for concurrent use.
type Checkpoints struct {
	byNetuid map[uint64]map[uint64]struct{}
}

func NewCheckpoints() *Checkpoints {
	return &Checkpoints{byNetuid: map[uint64]map[uint64]struct{}{}}
}

// Discover reads the block column of every existing dataset in store.
// Malformed rows are ignored by the store and never count as checkpointed.
func Discover(store dataset.Store) (*Checkpoints, error) {
	netuids, err := store.Netuids()
	if err != nil {
		return nil, err
	}
	cp := NewCheckpoints()
	for _, netuid := range netuids {
		blocks, err := store.Blocks(netuid)
		if err != nil {
			return nil, fmt.Errorf("scan dataset %d: %w", netuid, err)
		}
		set := cp.entity(netuid)
		for _, b := range blocks {
			set[b] = struct{}{}
		}
	}
	return cp, nil
}

func (c *Checkpoints) entity(netuid uint64) map[uint64]struct{} {
	set, ok := c.byNetuid[netuid]
	if !ok {
		set = map[uint64]struct{}{}
		c.byNetuid[netuid] = set
	}
	return set
}

func (c *Checkpoints) Has(netuid, block uint64) bool {
	_, ok := c.byNetuid[netuid][block]
	return ok
}

func (c *Checkpoints) Add(netuid, block uint64) {
	c.entity(netuid)[block] = struct{}{}
}

// Netuids is the number of subnets with a dataset.
func (c *Checkpoints) Netuids() int { return len(c.byNetuid) }

// Len is the number of (netuid, block) pairs recorded.
func (c *Checkpoints) Len() int {
	n := 0
	for _, set := range c.byNetuid {
		n += len(set)
	}
	return n
}

// Fetched is the union of checkpointed blocks across all subnets. A block
// present for any subnet counts as done for every subnet, since all subnets of
// a block are written in the same batch.
//
// TODO: compute gaps per netuid so a subnet registered after a block was
// harvested gets that block backfilled.
func (c *Checkpoints) Fetched() map[uint64]struct{} {
	out := map[uint64]struct{}{}
	for _, set := range c.byNetuid {
		for b := range set {
			out[b] = struct{}{}
		}
	}
	return out
}

// Missing lists the blocks from head down to floor (inclusive) that are not in Fetched.
// A floor of 0 is treated as 1.
func (c *Checkpoints) Missing(head, floor uint64) []uint64 {
	if floor == 0 {
		floor = 1
	}
	if head < floor {
		return nil
	}
	fetched := c.Fetched()
	var out []uint64
	for h := head; h >= floor; h-- {
		if _, ok := fetched[h]; !ok {
			out = append(out, h)
		}
	}
	return out
}
