package restart

import (
	"errors"
	"io"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/davidahmann/simrestart/core/checkpoint"
	coreerrors "github.com/davidahmann/simrestart/core/errors"
	"github.com/davidahmann/simrestart/core/filenames"
	"github.com/davidahmann/simrestart/internal/testutil"
)

const (
	testCheckpoint = "run/state.cpt"
	testLog        = "run/md.log"
	testTrajectory = "run/traj.trr"
)

func declaredFiles(checkpointInput bool) filenames.Set {
	return filenames.NewSet(
		filenames.File{Option: filenames.CheckpointInputOption, Path: testCheckpoint, Set: checkpointInput},
		filenames.File{Option: filenames.LogOption, Path: testLog, Output: true, Set: true},
		filenames.File{Option: "-o", Path: testTrajectory, Output: true},
	)
}

type checkpointState struct {
	header  checkpoint.Header
	records []checkpoint.OutputFileRecord
	onDisk  map[string]bool
	readErr error
}

func healthyCheckpoint() checkpointState {
	return checkpointState{
		header: checkpoint.Header{SimulationPart: 3, FileVersion: checkpoint.CurrentFileVersion},
		records: []checkpoint.OutputFileRecord{
			{Filename: testLog, Offset: 100, ChecksumSize: checkpoint.NoChecksum},
			{Filename: testTrajectory, Offset: 400, ChecksumSize: checkpoint.NoChecksum},
		},
		onDisk: map[string]bool{testCheckpoint: true, testLog: true, testTrajectory: true},
	}
}

func (s checkpointState) options(appending AppendingBehavior, checkpointInput bool) DecideOptions {
	return DecideOptions{
		Appending: appending,
		Files:     declaredFiles(checkpointInput),
		Reader: checkpoint.ReaderFunc(func(io.Reader) (checkpoint.Header, []checkpoint.OutputFileRecord, error) {
			return s.header, s.records, s.readErr
		}),
		Exists: func(path string) bool { return s.onDisk[path] },
		Open: func(string) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("")), nil
		},
	}
}

func TestDecideTruthTable(t *testing.T) {
	t.Parallel()

	noCheckpointFile := healthyCheckpoint()
	noCheckpointFile.onDisk[testCheckpoint] = false

	missingTrajectory := healthyCheckpoint()
	missingTrajectory.onDisk[testTrajectory] = false

	tooLarge := healthyCheckpoint()
	tooLarge.records[1].Offset = -1

	precisionMismatch := healthyCheckpoint()
	precisionMismatch.header.DoublePrecision = true

	legacyPrecision := healthyCheckpoint()
	legacyPrecision.header.DoublePrecision = true
	legacyPrecision.header.FileVersion = checkpoint.CurrentFileVersion - 1

	partSuffix := healthyCheckpoint()
	partSuffix.records[0].Filename = "run/md.part0003.log"
	partSuffix.onDisk["run/md.part0003.log"] = true

	testCases := []struct {
		name            string
		state           checkpointState
		checkpointInput bool
		appending       AppendingBehavior
		want            StartingBehavior
		wantCode        string
	}{
		{name: "no_cpi_auto", state: healthyCheckpoint(), appending: Auto, want: NewSimulation},
		{name: "no_cpi_append", state: healthyCheckpoint(), appending: Appending, want: NewSimulation},
		{name: "no_cpi_noappend", state: healthyCheckpoint(), appending: NoAppending, want: NewSimulation},
		{name: "absent_checkpoint_auto", state: noCheckpointFile, checkpointInput: true, appending: Auto, want: NewSimulation},
		{name: "absent_checkpoint_noappend", state: noCheckpointFile, checkpointInput: true, appending: NoAppending, want: NewSimulation},
		{name: "absent_checkpoint_append", state: noCheckpointFile, checkpointInput: true, appending: Appending, wantCode: CodeCheckpointMissing},
		{name: "noappend", state: healthyCheckpoint(), checkpointInput: true, appending: NoAppending, want: RestartWithoutAppending},
		{name: "healthy_auto", state: healthyCheckpoint(), checkpointInput: true, appending: Auto, want: RestartWithAppending},
		{name: "healthy_append", state: healthyCheckpoint(), checkpointInput: true, appending: Appending, want: RestartWithAppending},
		{name: "missing_output_auto", state: missingTrajectory, checkpointInput: true, appending: Auto, want: RestartWithoutAppending},
		{name: "missing_output_append", state: missingTrajectory, checkpointInput: true, appending: Appending, wantCode: CodeOutputFilesMissing},
		{name: "missing_output_noappend", state: missingTrajectory, checkpointInput: true, appending: NoAppending, want: RestartWithoutAppending},
		{name: "too_large_auto", state: tooLarge, checkpointInput: true, appending: Auto, want: RestartWithoutAppending},
		{name: "too_large_append", state: tooLarge, checkpointInput: true, appending: Appending, wantCode: CodeOutputFileTooLarge},
		{name: "precision_auto", state: precisionMismatch, checkpointInput: true, appending: Auto, want: RestartWithoutAppending},
		{name: "precision_append", state: precisionMismatch, checkpointInput: true, appending: Appending, wantCode: CodePrecisionMismatch},
		{name: "legacy_precision_append", state: legacyPrecision, checkpointInput: true, appending: Appending, want: RestartWithAppending},
		{name: "part_suffix_auto", state: partSuffix, checkpointInput: true, appending: Auto, want: RestartWithoutAppending},
		{name: "part_suffix_append", state: partSuffix, checkpointInput: true, appending: Appending, wantCode: CodePreviousPartNotAppended},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			decision, err := Decide(testCase.state.options(testCase.appending, testCase.checkpointInput))
			if testCase.wantCode != "" {
				if err == nil {
					t.Fatalf("expected %s error, got decision %s", testCase.wantCode, decision.Behavior)
				}
				if code := coreerrors.CodeOf(err); code != testCase.wantCode {
					t.Fatalf("unexpected error code %q: %v", code, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decide: %v", err)
			}
			if decision.Behavior != testCase.want {
				t.Fatalf("unexpected behavior %s, want %s", decision.Behavior, testCase.want)
			}
			if decision.Behavior == NewSimulation && len(decision.OutputFiles) != 0 {
				t.Fatalf("new simulation must not carry output records")
			}
			if decision.Behavior != NewSimulation && decision.Header.SimulationPart != 3 {
				t.Fatalf("expected checkpoint header in decision, got %+v", decision.Header)
			}
		})
	}
}

func TestDecideErrorCategories(t *testing.T) {
	t.Parallel()

	noCheckpointFile := healthyCheckpoint()
	noCheckpointFile.onDisk[testCheckpoint] = false
	missing := healthyCheckpoint()
	missing.onDisk[testTrajectory] = false
	precision := healthyCheckpoint()
	precision.header.DoublePrecision = true

	testCases := []struct {
		name  string
		state checkpointState
		want  coreerrors.Category
	}{
		{name: "configuration", state: noCheckpointFile, want: coreerrors.CategoryInvalidInput},
		{name: "integrity", state: missing, want: coreerrors.CategoryVerification},
		{name: "precision", state: precision, want: coreerrors.CategoryInvalidInput},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decide(testCase.state.options(Appending, true))
			if got := coreerrors.CategoryOf(err); got != testCase.want {
				t.Fatalf("unexpected category %q: %v", got, err)
			}
			if coreerrors.HintOf(err) == "" {
				t.Fatalf("expected operator hint on %v", err)
			}
		})
	}
}

func TestDecidePrecisionMessageNamesBothPrecisions(t *testing.T) {
	state := healthyCheckpoint()
	state.header.DoublePrecision = true
	_, err := Decide(state.options(Appending, true))
	if err == nil || !strings.Contains(err.Error(), "used double precision") || !strings.Contains(err.Error(), "the mixed precision of this build") {
		t.Fatalf("unexpected precision error: %v", err)
	}
}

func TestDecideRejectsBrokenCheckpoints(t *testing.T) {
	t.Parallel()

	empty := healthyCheckpoint()
	empty.records = nil

	wrongFirst := healthyCheckpoint()
	wrongFirst.records[0], wrongFirst.records[1] = wrongFirst.records[1], wrongFirst.records[0]

	testCases := []struct {
		name  string
		state checkpointState
	}{
		{name: "no_records", state: empty},
		{name: "first_not_log", state: wrongFirst},
	}
	for _, testCase := range testCases {
		for _, appending := range []AppendingBehavior{Auto, Appending, NoAppending} {
			t.Run(testCase.name+"_"+appending.String(), func(t *testing.T) {
				t.Parallel()
				_, err := Decide(testCase.state.options(appending, true))
				if coreerrors.CategoryOf(err) != coreerrors.CategoryInternalFailure {
					t.Fatalf("expected internal failure, got %v", err)
				}
				if coreerrors.CodeOf(err) != CodeCheckpointInconsistent {
					t.Fatalf("unexpected code %q", coreerrors.CodeOf(err))
				}
			})
		}
	}
}

func TestDecideReaderAndOpenFailures(t *testing.T) {
	state := healthyCheckpoint()
	state.readErr = errors.New("truncated header")
	_, err := Decide(state.options(Auto, true))
	if coreerrors.CodeOf(err) != CodeCheckpointUnreadable || !strings.Contains(err.Error(), "truncated header") {
		t.Fatalf("expected unreadable checkpoint error, got %v", err)
	}

	opts := healthyCheckpoint().options(Auto, true)
	opts.Open = func(string) (io.ReadCloser, error) { return nil, os.ErrPermission }
	_, err = Decide(opts)
	if coreerrors.CategoryOf(err) != coreerrors.CategoryIOFailure || !errors.Is(err, os.ErrPermission) {
		t.Fatalf("expected io failure wrapping permission error, got %v", err)
	}
}

func TestDecideTreatsMisnamedOutputAsMissing(t *testing.T) {
	state := healthyCheckpoint()
	state.records[1].Filename = "run/other.trr"
	state.onDisk["run/other.trr"] = true

	_, err := Decide(state.options(Appending, true))
	var missing *MissingOutputFilesError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing output files error, got %v", err)
	}
	if !reflect.DeepEqual(missing.Present, []string{testLog}) || !reflect.DeepEqual(missing.Missing, []string{"run/other.trr"}) {
		t.Fatalf("unexpected partition present=%v missing=%v", missing.Present, missing.Missing)
	}
}

func TestDecideListsPresentAndMissingFiles(t *testing.T) {
	run := testutil.NewRun(t, "", testutil.RunOptions{SimulationPart: 1})
	if err := os.Remove(run.Energy); err != nil {
		t.Fatalf("remove energy file: %v", err)
	}

	_, err := Decide(DecideOptions{Appending: Appending, Files: run.Files(true)})
	var missing *MissingOutputFilesError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing output files error, got %v", err)
	}
	if missing.Checkpoint != run.Checkpoint {
		t.Fatalf("unexpected checkpoint %q", missing.Checkpoint)
	}
	if !reflect.DeepEqual(missing.Present, []string{run.Log, run.Trajectory}) {
		t.Fatalf("unexpected present files %v", missing.Present)
	}
	if !reflect.DeepEqual(missing.Missing, []string{run.Energy}) {
		t.Fatalf("unexpected missing files %v", missing.Missing)
	}
	message := err.Error()
	if !strings.Contains(message, "are present:\n  "+run.Log) || !strings.Contains(message, "named differently:\n  "+run.Energy) {
		t.Fatalf("unexpected message:\n%s", message)
	}
}

func TestDecideReadsManifestCheckpointByDefault(t *testing.T) {
	run := testutil.NewRun(t, "", testutil.RunOptions{SimulationPart: 4})

	decision, err := Decide(DecideOptions{Appending: Auto, Files: run.Files(true)})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Behavior != RestartWithAppending || decision.Header.SimulationPart != 4 {
		t.Fatalf("unexpected decision %+v", decision)
	}
	if !reflect.DeepEqual(decision.OutputFiles, run.Records) {
		t.Fatalf("unexpected records %+v", decision.OutputFiles)
	}
}

func TestDecideNoCheckpointInputTouchesNothing(t *testing.T) {
	opts := DecideOptions{
		Files: declaredFiles(false),
		Exists: func(path string) bool {
			t.Fatalf("unexpected existence check of %s", path)
			return false
		},
		Open: func(path string) (io.ReadCloser, error) {
			t.Fatalf("unexpected open of %s", path)
			return nil, nil
		},
	}
	decision, err := Decide(opts)
	if err != nil || decision.Behavior != NewSimulation {
		t.Fatalf("unexpected decision %+v err=%v", decision, err)
	}
}

func TestParseAppendingBehavior(t *testing.T) {
	t.Parallel()

	testCases := map[string]AppendingBehavior{
		"":         Auto,
		"auto":     Auto,
		" Append ": Appending,
		"noappend": NoAppending,
		"NOAPPEND": NoAppending,
	}
	for input, want := range testCases {
		got, err := ParseAppendingBehavior(input)
		if err != nil || got != want {
			t.Fatalf("ParseAppendingBehavior(%q) = %s, %v", input, got, err)
		}
	}
	if _, err := ParseAppendingBehavior("sometimes"); err == nil {
		t.Fatalf("expected unknown behavior error")
	}
}

func TestStartingBehaviorWireEncoding(t *testing.T) {
	for _, behavior := range []StartingBehavior{NewSimulation, RestartWithAppending, RestartWithoutAppending} {
		decoded, err := decodeStartingBehavior([]byte{byte(behavior)})
		if err != nil || decoded != behavior {
			t.Fatalf("decode %s: %s %v", behavior, decoded, err)
		}
	}
	if _, err := decodeStartingBehavior([]byte{9}); err == nil {
		t.Fatalf("expected invalid payload error")
	}
	if _, err := decodeStartingBehavior(nil); err == nil {
		t.Fatalf("expected empty payload error")
	}
	if _, err := StartingBehavior(9).MarshalText(); err == nil {
		t.Fatalf("expected marshal error")
	}
	text, err := RestartWithAppending.MarshalText()
	if err != nil || string(text) != "restart_with_appending" {
		t.Fatalf("unexpected text %q err=%v", text, err)
	}
}
