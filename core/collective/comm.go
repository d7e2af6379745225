package collective

import (
	"context"
	"fmt"
)

// exchangeComm is a Communicator that sequences its calls onto an Exchanger.
// It is owned by a single rank and is not safe for concurrent use.
type exchangeComm struct {
	exchanger Exchanger
	group     string
	rank      int
	size      int
	seq       uint64
}

// NewCommunicator returns rank's communicator for group on exchanger.
func NewCommunicator(exchanger Exchanger, group string, rank int, size int) (Communicator, error) {
	if exchanger == nil {
		return nil, fmt.Errorf("communicator: nil exchanger")
	}
	if size < 1 || rank < 0 || rank >= size {
		return nil, fmt.Errorf("%w: rank %d of size %d", ErrInvalidRank, rank, size)
	}
	return &exchangeComm{exchanger: exchanger, group: group, rank: rank, size: size}, nil
}

func (c *exchangeComm) Rank() int {
	return c.rank
}

func (c *exchangeComm) Size() int {
	return c.size
}

func (c *exchangeComm) ReduceSum(ctx context.Context, values []int64) ([]int64, error) {
	result, err := c.exchange(ctx, Contribution{Op: OpReduceSum, Values: append([]int64(nil), values...)})
	if err != nil {
		return nil, err
	}
	if len(result.Values) != len(values) {
		return nil, fmt.Errorf("%w: reduce returned %d values for %d", ErrMismatchedCall, len(result.Values), len(values))
	}
	return result.Values, nil
}

func (c *exchangeComm) Broadcast(ctx context.Context, payload []byte, root int) ([]byte, error) {
	if root < 0 || root >= c.size {
		return nil, fmt.Errorf("%w: broadcast root %d of size %d", ErrInvalidRank, root, c.size)
	}
	contribution := Contribution{Op: OpBroadcast, Root: root}
	if c.rank == root {
		contribution.Payload = payload
	}
	result, err := c.exchange(ctx, contribution)
	if err != nil {
		return nil, err
	}
	return result.Payload, nil
}

func (c *exchangeComm) Barrier(ctx context.Context) error {
	_, err := c.exchange(ctx, Contribution{Op: OpBarrier})
	return err
}

func (c *exchangeComm) exchange(ctx context.Context, contribution Contribution) (Result, error) {
	c.seq++
	contribution.Group = c.group
	contribution.Size = c.size
	contribution.Rank = c.rank
	contribution.Seq = c.seq
	return c.exchanger.Exchange(ctx, contribution)
}

// NewLocalGroup returns the communicators of an in-process group of size
// ranks, indexed by rank.
func NewLocalGroup(size int) ([]Communicator, error) {
	return newGroupOn(NewHub(), "world", size)
}

// Self is a communicator for a group of one.
func Self() Communicator {
	comms, _ := NewLocalGroup(1)
	return comms[0]
}

func newGroupOn(exchanger Exchanger, group string, size int) ([]Communicator, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: group size %d", ErrInvalidRank, size)
	}
	comms := make([]Communicator, size)
	for rank := range comms {
		comm, err := NewCommunicator(exchanger, group, rank, size)
		if err != nil {
			return nil, err
		}
		comms[rank] = comm
	}
	return comms, nil
}
