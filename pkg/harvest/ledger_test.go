package harvest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/canopy-network/subnetx/pkg/rpc"
)

// fakeLedger serves deterministic subnet states and records how many distinct
// heights are being fetched at once.
type fakeLedger struct {
	head    atomic.Uint64
	netuids []uint64
	delay   time.Duration

	mu          sync.Mutex
	failTS      map[uint64]bool
	failSubnets map[uint64]bool
	hang        map[uint64]bool
	inflight    map[uint64]int
	maxInflight int

	headErr     error
	subnetCalls atomic.Int32
	tsCalls     atomic.Int32
}

func newFakeLedger(head uint64, netuids ...uint64) *fakeLedger {
	l := &fakeLedger{
		netuids:     netuids,
		failTS:      map[uint64]bool{},
		failSubnets: map[uint64]bool{},
		hang:        map[uint64]bool{},
		inflight:    map[uint64]int{},
	}
	l.head.Store(head)
	return l
}

func (l *fakeLedger) setFailing(heights ...uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, h := range heights {
		l.failSubnets[h] = true
	}
}

func (l *fakeLedger) clearFailures() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failTS = map[uint64]bool{}
	l.failSubnets = map[uint64]bool{}
	l.hang = map[uint64]bool{}
}

func (l *fakeLedger) peak() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxInflight
}

func (l *fakeLedger) enter(h uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inflight[h]++
	if len(l.inflight) > l.maxInflight {
		l.maxInflight = len(l.inflight)
	}
}

func (l *fakeLedger) leave(h uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inflight[h]--
	if l.inflight[h] == 0 {
		delete(l.inflight, h)
	}
}

func (l *fakeLedger) wait(ctx context.Context, h uint64) error {
	l.mu.Lock()
	hang := l.hang[h]
	l.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if l.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.delay):
		}
	}
	return nil
}

func (l *fakeLedger) ChainHead(ctx context.Context) (uint64, error) {
	if l.headErr != nil {
		return 0, l.headErr
	}
	return l.head.Load(), nil
}

func (l *fakeLedger) BlockTimestamp(ctx context.Context, h uint64) (time.Time, error) {
	l.tsCalls.Add(1)
	l.enter(h)
	defer l.leave(h)
	if err := l.wait(ctx, h); err != nil {
		return time.Time{}, err
	}
	l.mu.Lock()
	fail := l.failTS[h]
	l.mu.Unlock()
	if fail {
		return time.Time{}, fmt.Errorf("timestamp unavailable at %d", h)
	}
	return blockTime(h), nil
}

func (l *fakeLedger) SubnetsByHeight(ctx context.Context, h uint64) ([]*rpc.Subnet, error) {
	l.subnetCalls.Add(1)
	l.enter(h)
	defer l.leave(h)
	if err := l.wait(ctx, h); err != nil {
		return nil, err
	}
	l.mu.Lock()
	fail := l.failSubnets[h]
	l.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("state pruned at %d", h)
	}
	out := make([]*rpc.Subnet, 0, len(l.netuids))
	for _, n := range l.netuids {
		out = append(out, &rpc.Subnet{
			Netuid:       n,
			AlphaIn:      rpc.Balance(h * 1_000_000_000),
			AlphaOut:     rpc.Balance(n * 1_000_000_000),
			TaoIn:        rpc.Balance(2 * h * 1_000_000_000),
			Price:        2_000_000_000,
			SubnetVolume: rpc.Balance(h + n),
		})
	}
	return out, nil
}

func (l *fakeLedger) Close() error { return nil }

func blockTime(h uint64) time.Time {
	return time.Unix(1_700_000_000+int64(h)*12, 0).UTC()
}
