// Package collective provides the blocking group operations that cooperating
// ranks use to agree on startup decisions.
//
// Every rank of a group must issue the same sequence of collective calls.
// Calls are matched by their position in that sequence, so a rank that skips a
// call leaves its peers waiting.
package collective

import (
	"context"
	"errors"
)

type Op string

const (
	OpReduceSum Op = "reduce_sum"
	OpBroadcast Op = "broadcast"
	OpBarrier   Op = "barrier"
)

var (
	ErrMismatchedCall = errors.New("ranks issued mismatched collective calls")
	ErrInvalidRank    = errors.New("invalid rank")
)

// Communicator is one rank's view of a process group.
type Communicator interface {
	Rank() int
	Size() int
	// ReduceSum returns the element-wise sum of values over all ranks. Every
	// rank must pass the same number of values.
	ReduceSum(ctx context.Context, values []int64) ([]int64, error)
	// Broadcast returns the payload passed by root on every rank. Payloads of
	// other ranks are ignored.
	Broadcast(ctx context.Context, payload []byte, root int) ([]byte, error)
	Barrier(ctx context.Context) error
}

// SumInt is the scalar form of ReduceSum.
func SumInt(ctx context.Context, comm Communicator, value int64) (int64, error) {
	sums, err := comm.ReduceSum(ctx, []int64{value})
	if err != nil {
		return 0, err
	}
	return sums[0], nil
}

// Contribution is what one rank hands to a rendezvous round.
type Contribution struct {
	Group   string  `json:"group"`
	Size    int     `json:"size"`
	Rank    int     `json:"rank"`
	Seq     uint64  `json:"seq"`
	Op      Op      `json:"op"`
	Root    int     `json:"root,omitempty"`
	Values  []int64 `json:"values,omitempty"`
	Payload []byte  `json:"payload,omitempty"`
}

// Result is what every rank of a completed round receives.
type Result struct {
	Values  []int64 `json:"values,omitempty"`
	Payload []byte  `json:"payload,omitempty"`
}

// Exchanger completes rendezvous rounds. Hub implements it in memory and
// RemoteHub forwards to a Hub over gRPC.
type Exchanger interface {
	Exchange(ctx context.Context, contribution Contribution) (Result, error)
}
