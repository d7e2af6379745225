package testutil

import (
	"path/filepath"
	"testing"

	"github.com/davidahmann/simrestart/core/checkpoint"
	"github.com/davidahmann/simrestart/core/filenames"
)

// StaleOutput is appended to every output file after the checkpoint is
// written, like frames produced between the last checkpoint and a crash.
const StaleOutput = "written after checkpoint\n"

type RunOptions struct {
	SimulationPart  int
	DoublePrecision bool
	// LogName overrides md.log, for example to give it a part suffix.
	LogName string
}

// Run is a simulation directory holding output files and a checkpoint that
// describes them.
type Run struct {
	Dir        string
	Checkpoint string
	Log        string
	Trajectory string
	Energy     string
	Header     checkpoint.Header
	Records    []checkpoint.OutputFileRecord
}

// NewRun writes a run into dir, or a fresh temporary directory when dir is
// empty.
func NewRun(t *testing.T, dir string, opts RunOptions) Run {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	logName := opts.LogName
	if logName == "" {
		logName = "md.log"
	}
	run := Run{
		Dir:        dir,
		Checkpoint: filepath.Join(dir, "state.cpt"),
		Log:        filepath.Join(dir, logName),
		Trajectory: filepath.Join(dir, "traj.trr"),
		Energy:     filepath.Join(dir, "ener.edr"),
		Header: checkpoint.Header{
			SimulationPart:  opts.SimulationPart,
			DoublePrecision: opts.DoublePrecision,
			FileVersion:     checkpoint.CurrentFileVersion,
		},
	}
	WriteFile(t, run.Log, []byte("step 0\nstep 100\n"))
	WriteFile(t, run.Trajectory, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06})
	WriteFile(t, run.Energy, []byte("energy frames 0..100\n"))

	records, err := checkpoint.RecordOutputFiles(run.OutputPaths())
	if err != nil {
		t.Fatalf("record output files: %v", err)
	}
	run.Records = records
	if err := checkpoint.WriteManifest(run.Checkpoint, run.Header, records); err != nil {
		t.Fatalf("write checkpoint: %v", err)
	}
	for _, path := range run.OutputPaths() {
		AppendFile(t, path, []byte(StaleOutput))
	}
	return run
}

// OutputPaths lists the outputs in checkpoint order, log first.
func (r Run) OutputPaths() []string {
	return []string{r.Log, r.Trajectory, r.Energy}
}

// Files declares the run's files. checkpointInput controls whether -cpi was
// given explicitly.
func (r Run) Files(checkpointInput bool) filenames.Set {
	return filenames.NewSet(
		filenames.File{Option: filenames.CheckpointInputOption, Path: r.Checkpoint, Set: checkpointInput},
		filenames.File{Option: filenames.CheckpointOutputOption, Path: r.Checkpoint, Output: true},
		filenames.File{Option: filenames.LogOption, Path: r.Log, Output: true, Set: true},
		filenames.File{Option: "-o", Path: r.Trajectory, Output: true},
		filenames.File{Option: "-e", Path: r.Energy, Output: true},
	)
}

// CheckpointedSize is the length path had when the checkpoint was written.
func (r Run) CheckpointedSize(t *testing.T, path string) int64 {
	t.Helper()
	for _, record := range r.Records {
		if record.Filename == path {
			return record.Offset
		}
	}
	t.Fatalf("%s is not an output of the run", path)
	return 0
}
