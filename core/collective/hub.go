package collective

import (
	"context"
	"fmt"
	"sync"
)

// Hub matches contributions of the ranks of named groups into rounds.
type Hub struct {
	mu     sync.Mutex
	groups map[string]*hubGroup
}

type hubGroup struct {
	size   int
	rounds map[uint64]*round
}

type round struct {
	op      Op
	root    int
	arrived map[int]bool
	sums    []int64
	payload []byte
	result  Result
	err     error
	done    chan struct{}
}

func NewHub() *Hub {
	return &Hub{groups: map[string]*hubGroup{}}
}

// Exchange blocks until every rank of the group has contributed to the same
// round, or ctx ends.
func (h *Hub) Exchange(ctx context.Context, contribution Contribution) (Result, error) {
	current, err := h.join(contribution)
	if err != nil {
		return Result{}, err
	}
	select {
	case <-current.done:
		if current.err != nil {
			return Result{}, current.err
		}
		return cloneResult(current.result), nil
	case <-ctx.Done():
		return Result{}, fmt.Errorf("collective %s on group %q: %w", contribution.Op, contribution.Group, ctx.Err())
	}
}

func (h *Hub) join(contribution Contribution) (*round, error) {
	if contribution.Size < 1 || contribution.Rank < 0 || contribution.Rank >= contribution.Size {
		return nil, fmt.Errorf("%w: rank %d of size %d", ErrInvalidRank, contribution.Rank, contribution.Size)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[contribution.Group]
	if !ok {
		group = &hubGroup{size: contribution.Size, rounds: map[uint64]*round{}}
		h.groups[contribution.Group] = group
	}
	if group.size != contribution.Size {
		return nil, fmt.Errorf("%w: group %q has size %d, rank %d claims %d", ErrMismatchedCall, contribution.Group, group.size, contribution.Rank, contribution.Size)
	}

	current, ok := group.rounds[contribution.Seq]
	if !ok {
		current = &round{
			op:      contribution.Op,
			root:    contribution.Root,
			arrived: map[int]bool{},
			done:    make(chan struct{}),
		}
		group.rounds[contribution.Seq] = current
	}
	if current.arrived[contribution.Rank] {
		return nil, fmt.Errorf("%w: rank %d joined round %d twice", ErrMismatchedCall, contribution.Rank, contribution.Seq)
	}
	current.arrived[contribution.Rank] = true

	if current.err == nil {
		current.err = current.accumulate(contribution)
	}
	if len(current.arrived) == group.size {
		if current.err == nil {
			current.result = current.finish()
		}
		delete(group.rounds, contribution.Seq)
		close(current.done)
	}
	return current, nil
}

func (r *round) accumulate(contribution Contribution) error {
	if contribution.Op != r.op {
		return fmt.Errorf("%w: round mixes %s and %s", ErrMismatchedCall, r.op, contribution.Op)
	}
	switch r.op {
	case OpReduceSum:
		if r.sums == nil {
			r.sums = make([]int64, len(contribution.Values))
		}
		if len(contribution.Values) != len(r.sums) {
			return fmt.Errorf("%w: reduce of %d values against %d", ErrMismatchedCall, len(contribution.Values), len(r.sums))
		}
		for index, value := range contribution.Values {
			r.sums[index] += value
		}
	case OpBroadcast:
		if contribution.Root != r.root {
			return fmt.Errorf("%w: broadcast roots %d and %d", ErrMismatchedCall, r.root, contribution.Root)
		}
		if contribution.Rank == r.root {
			r.payload = append([]byte(nil), contribution.Payload...)
		}
	case OpBarrier:
	default:
		return fmt.Errorf("%w: unknown op %q", ErrMismatchedCall, contribution.Op)
	}
	return nil
}

func (r *round) finish() Result {
	switch r.op {
	case OpReduceSum:
		if r.sums == nil {
			return Result{Values: []int64{}}
		}
		return Result{Values: r.sums}
	case OpBroadcast:
		return Result{Payload: r.payload}
	default:
		return Result{}
	}
}

func cloneResult(result Result) Result {
	cloned := Result{}
	if result.Values != nil {
		cloned.Values = append([]int64(nil), result.Values...)
	}
	if result.Payload != nil {
		cloned.Payload = append([]byte(nil), result.Payload...)
	}
	return cloned
}
