package collective

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func startHub(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := NewHubServer(NewHub())
	go func() {
		_ = ServeHub(server, listener)
	}()
	t.Cleanup(server.Stop)
	return listener.Addr().String()
}

func dialGroup(t *testing.T, target string, group string, size int) []Communicator {
	t.Helper()
	comms := make([]Communicator, size)
	for rank := range comms {
		remote, err := DialHub(target)
		if err != nil {
			t.Fatalf("dial hub: %v", err)
		}
		t.Cleanup(func() { _ = remote.Close() })
		comm, err := NewCommunicator(remote, group, rank, size)
		if err != nil {
			t.Fatalf("new communicator: %v", err)
		}
		comms[rank] = comm
	}
	return comms
}

func TestRemoteHubReduceAndBroadcast(t *testing.T) {
	target := startHub(t)
	comms := dialGroup(t, target, "sim-0", 3)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errs := runGroup(t, comms, func(comm Communicator) error {
		sum, err := SumInt(ctx, comm, int64(comm.Rank()+1))
		if err != nil {
			return err
		}
		if sum != 6 {
			return fmt.Errorf("sum %d", sum)
		}
		payload, err := comm.Broadcast(ctx, []byte{byte(comm.Rank() + 10)}, 0)
		if err != nil {
			return err
		}
		if len(payload) != 1 || payload[0] != 10 {
			return fmt.Errorf("payload %v", payload)
		}
		return comm.Barrier(ctx)
	})
	for rank, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", rank, err)
		}
	}
}

func TestRemoteHubReportsMismatchAsFailedPrecondition(t *testing.T) {
	target := startHub(t)
	comms := dialGroup(t, target, "sim-0", 2)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errs := runGroup(t, comms, func(comm Communicator) error {
		values := make([]int64, comm.Rank()+1)
		_, err := comm.ReduceSum(ctx, values)
		return err
	})
	for rank, err := range errs {
		if status.Code(errors.Unwrap(err)) != codes.FailedPrecondition {
			t.Fatalf("rank %d: expected FailedPrecondition, got %v", rank, err)
		}
	}
}

func TestHubStatusMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		err  error
		want codes.Code
	}{
		{err: context.Canceled, want: codes.Canceled},
		{err: fmt.Errorf("wrapped: %w", context.DeadlineExceeded), want: codes.DeadlineExceeded},
		{err: ErrMismatchedCall, want: codes.FailedPrecondition},
		{err: ErrInvalidRank, want: codes.FailedPrecondition},
		{err: errors.New("other"), want: codes.Internal},
	}
	for _, testCase := range testCases {
		if got := status.Code(hubStatus(testCase.err)); got != testCase.want {
			t.Fatalf("hubStatus(%v) = %s, want %s", testCase.err, got, testCase.want)
		}
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	codec := jsonCodec{}
	if codec.Name() != "json" {
		t.Fatalf("unexpected codec name %s", codec.Name())
	}
	encoded, err := codec.Marshal(&Contribution{Group: "g", Size: 2, Rank: 1, Seq: 3, Op: OpBroadcast, Payload: []byte{1, 2}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Contribution
	if err := codec.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Seq != 3 || decoded.Op != OpBroadcast || len(decoded.Payload) != 2 {
		t.Fatalf("unexpected decoded contribution: %+v", decoded)
	}
}
