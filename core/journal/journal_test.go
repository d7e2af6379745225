package journal

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	coreerrors "github.com/davidahmann/simrestart/core/errors"
	"github.com/davidahmann/simrestart/core/restart"
)

func TestNewEventCommitted(t *testing.T) {
	now := time.Date(2026, time.March, 4, 5, 6, 7, 0, time.FixedZone("X", 3600))
	role := restart.ProcessRole{Rank: 0, Size: 4, SimIndex: 1, NumSims: 2}
	event := NewEvent(role, restart.Auto, restart.Outcome{Behavior: restart.RestartWithAppending}, nil, "", now)

	if event.Status != StatusCommitted || event.StartingBehavior != "restart_with_appending" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.CreatedAt.Location() != time.UTC || !event.CreatedAt.Equal(now) {
		t.Fatalf("expected UTC timestamp, got %s", event.CreatedAt)
	}
	if event.ProducerVersion != "0.0.0-dev" || event.Simulation != 1 || event.Simulations != 2 || event.Ranks != 4 {
		t.Fatalf("unexpected event fields: %+v", event)
	}
	if event.Appending != "auto" || event.Log != "" {
		t.Fatalf("unexpected appending/log: %+v", event)
	}
}

func TestNewEventAborted(t *testing.T) {
	cause := coreerrors.Newf(coreerrors.CategoryVerification, "restart_checksum_mismatch", "", "checksum wrong for md.log")
	event := NewEvent(restart.ProcessRole{Size: 1}, restart.Appending, restart.Outcome{}, cause, "1.2.3", time.Time{})

	if event.Status != StatusAborted || event.StartingBehavior != "" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.ErrorCode != "restart_checksum_mismatch" || event.ErrorCategory != "verification_failed" {
		t.Fatalf("unexpected classification: %+v", event)
	}
	if event.CreatedAt.IsZero() || event.ProducerVersion != "1.2.3" {
		t.Fatalf("unexpected defaults: %+v", event)
	}
}

func TestAppendAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "restart.jsonl")
	committed := NewEvent(restart.ProcessRole{Size: 2}, restart.Auto, restart.Outcome{Behavior: restart.NewSimulation}, nil, "1.0.0", time.Now())
	aborted := NewEvent(restart.ProcessRole{Size: 2}, restart.Appending, restart.Outcome{}, errors.New("boom"), "1.0.0", time.Now())

	for _, event := range []Event{committed, aborted} {
		if err := Append(path, event); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	events, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(events) != 2 || events[0].Status != StatusCommitted || events[1].Error != "boom" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestAppendConcurrentMasters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restart.jsonl")
	const writers = 8
	var group sync.WaitGroup
	group.Add(writers)
	errs := make(chan error, writers)
	for index := 0; index < writers; index++ {
		go func() {
			defer group.Done()
			role := restart.ProcessRole{Size: 1, SimIndex: index, NumSims: writers}
			errs <- Append(path, NewEvent(role, restart.Auto, restart.Outcome{Behavior: restart.NewSimulation}, nil, "", time.Now()))
		}()
	}
	group.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	events, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(events) != writers {
		t.Fatalf("expected %d events, got %d", writers, len(events))
	}
}

func TestLoadMissingJournalIsEmpty(t *testing.T) {
	events, err := Load(filepath.Join(t.TempDir(), "absent.jsonl"))
	if err != nil || len(events) != 0 {
		t.Fatalf("expected empty journal, got %v err=%v", events, err)
	}
}

func TestLoadRejectsInvalidLines(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		content string
		want    string
	}{
		{name: "malformed", content: "{not-json}\n", want: "parse journal line 1"},
		{name: "schema", content: `{"schema_id":"other","schema_version":"1.0.0","status":"committed","starting_behavior":"new_simulation"}` + "\n", want: "schema_id"},
		{name: "status", content: `{"schema_id":"simrestart.journal_event","schema_version":"1.0.0","status":"pending"}` + "\n", want: "unknown journal status"},
		{name: "committed_without_behavior", content: `{"schema_id":"simrestart.journal_event","schema_version":"1.0.0","status":"committed"}` + "\n", want: "starting_behavior"},
		{name: "aborted_without_error", content: "\n" + `{"schema_id":"simrestart.journal_event","schema_version":"1.0.0","status":"aborted"}` + "\n", want: "line 2"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "restart.jsonl")
			if err := os.WriteFile(path, []byte(testCase.content), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), testCase.want) {
				t.Fatalf("expected error containing %q, got %v", testCase.want, err)
			}
		})
	}
}

func TestAppendValidatesInput(t *testing.T) {
	if err := Append(" ", Event{}); err == nil {
		t.Fatalf("expected path error")
	}
	if err := Append(filepath.Join(t.TempDir(), "restart.jsonl"), Event{}); err == nil {
		t.Fatalf("expected schema error")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected path error")
	}
}
