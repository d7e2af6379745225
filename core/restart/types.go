// Package restart decides how a simulation starts from its checkpoint and
// output files, and makes every rank of every simulation agree on it.
package restart

import (
	"fmt"
	"os"
	"strings"

	"github.com/davidahmann/simrestart/core/checkpoint"
	"github.com/davidahmann/simrestart/core/fsx"
)

// AppendingBehavior is what the operator asked for.
type AppendingBehavior int

const (
	Auto AppendingBehavior = iota
	Appending
	NoAppending
)

func (b AppendingBehavior) String() string {
	switch b {
	case Auto:
		return "auto"
	case Appending:
		return "append"
	case NoAppending:
		return "noappend"
	default:
		return fmt.Sprintf("appending(%d)", int(b))
	}
}

// ParseAppendingBehavior accepts auto, append or noappend. Empty means auto.
func ParseAppendingBehavior(value string) (AppendingBehavior, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "auto":
		return Auto, nil
	case "append":
		return Appending, nil
	case "noappend":
		return NoAppending, nil
	default:
		return Auto, fmt.Errorf("unknown appending behavior %q (expected auto, append or noappend)", value)
	}
}

// StartingBehavior is the agreed outcome of the restart protocol.
type StartingBehavior uint8

const (
	NewSimulation StartingBehavior = iota
	RestartWithAppending
	RestartWithoutAppending
)

func (b StartingBehavior) String() string {
	switch b {
	case NewSimulation:
		return "new_simulation"
	case RestartWithAppending:
		return "restart_with_appending"
	case RestartWithoutAppending:
		return "restart_without_appending"
	default:
		return fmt.Sprintf("starting(%d)", uint8(b))
	}
}

func (b StartingBehavior) MarshalText() ([]byte, error) {
	if b > RestartWithoutAppending {
		return nil, fmt.Errorf("invalid starting behavior %d", uint8(b))
	}
	return []byte(b.String()), nil
}

func decodeStartingBehavior(payload []byte) (StartingBehavior, error) {
	if len(payload) != 1 || StartingBehavior(payload[0]) > RestartWithoutAppending {
		return NewSimulation, fmt.Errorf("invalid starting behavior payload %v", payload)
	}
	return StartingBehavior(payload[0]), nil
}

// ProcessRole places the calling process among its peers.
type ProcessRole struct {
	Rank     int
	Size     int
	SimIndex int
	NumSims  int
}

// IsMaster is true for the one rank per simulation that may touch files.
func (r ProcessRole) IsMaster() bool {
	return r.Rank == 0
}

func (r ProcessRole) IsParallel() bool {
	return r.Size > 1
}

func (r ProcessRole) IsMultiSim() bool {
	return r.NumSims > 1
}

// IsMasterSim is true for the simulation that reports cross-simulation diagnostics.
func (r ProcessRole) IsMasterSim() bool {
	return r.SimIndex == 0
}

func (r ProcessRole) validate() error {
	if r.Size < 1 || r.Rank < 0 || r.Rank >= r.Size {
		return fmt.Errorf("invalid process role: rank %d of %d", r.Rank, r.Size)
	}
	numSims := max(r.NumSims, 1)
	if r.SimIndex < 0 || r.SimIndex >= numSims {
		return fmt.Errorf("invalid process role: simulation %d of %d", r.SimIndex, numSims)
	}
	return nil
}

// Decision is what one master concludes from its checkpoint and output files.
type Decision struct {
	Behavior    StartingBehavior
	Header      checkpoint.Header
	OutputFiles []checkpoint.OutputFileRecord
}

// Phase is a state of the coordination protocol.
type Phase string

const (
	PhaseDeciding    Phase = "deciding"
	PhasePreparing   Phase = "preparing"
	PhaseReconciling Phase = "reconciling"
	PhaseCommitted   Phase = "committed"
	PhaseAborted     Phase = "aborted"
)

// LogFile is the open log of a simulation. When appending it holds the
// exclusive lock and is positioned at the checkpointed offset.
type LogFile struct {
	file   *os.File
	locked bool
}

func (l *LogFile) File() *os.File {
	if l == nil {
		return nil
	}
	return l.file
}

func (l *LogFile) Name() string {
	if l == nil || l.file == nil {
		return ""
	}
	return l.file.Name()
}

func (l *LogFile) Locked() bool {
	return l != nil && l.locked
}

func (l *LogFile) Write(p []byte) (int, error) {
	if l == nil || l.file == nil {
		return 0, os.ErrClosed
	}
	return l.file.Write(p)
}

// Close releases the lock, if held, and closes the file. It is safe on nil.
func (l *LogFile) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	var unlockErr error
	if l.locked {
		unlockErr = fsx.Unlock(l.file)
		l.locked = false
	}
	closeErr := l.file.Close()
	l.file = nil
	if closeErr != nil {
		return closeErr
	}
	return unlockErr
}
