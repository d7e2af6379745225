// Package journal keeps an append-only JSONL record of restart outcomes, one
// event per simulation master per startup.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	coreerrors "github.com/davidahmann/simrestart/core/errors"
	"github.com/davidahmann/simrestart/core/fsx"
	"github.com/davidahmann/simrestart/core/restart"
)

const (
	eventSchemaID = "simrestart.journal_event"
	eventSchemaV1 = "1.0.0"
	maxLineBytes  = 1024 * 1024
)

const (
	StatusCommitted = "committed"
	StatusAborted   = "aborted"
)

type Event struct {
	SchemaID         string    `json:"schema_id"`
	SchemaVersion    string    `json:"schema_version"`
	CreatedAt        time.Time `json:"created_at"`
	ProducerVersion  string    `json:"producer_version"`
	CorrelationID    string    `json:"correlation_id,omitempty"`
	Simulation       int       `json:"simulation"`
	Simulations      int       `json:"simulations"`
	Ranks            int       `json:"ranks"`
	Appending        string    `json:"appending"`
	Status           string    `json:"status"`
	StartingBehavior string    `json:"starting_behavior,omitempty"`
	SimulationPart   int       `json:"simulation_part"`
	Log              string    `json:"log,omitempty"`
	ErrorCode        string    `json:"error_code,omitempty"`
	ErrorCategory    string    `json:"error_category,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// NewEvent describes the outcome of restart.Handle on a master rank.
func NewEvent(
	role restart.ProcessRole,
	appending restart.AppendingBehavior,
	outcome restart.Outcome,
	handleErr error,
	producerVersion string,
	now time.Time,
) Event {
	createdAt := now.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	trimmedProducerVersion := strings.TrimSpace(producerVersion)
	if trimmedProducerVersion == "" {
		trimmedProducerVersion = "0.0.0-dev"
	}
	event := Event{
		SchemaID:        eventSchemaID,
		SchemaVersion:   eventSchemaV1,
		CreatedAt:       createdAt,
		ProducerVersion: trimmedProducerVersion,
		Simulation:      role.SimIndex,
		Simulations:     max(role.NumSims, 1),
		Ranks:           max(role.Size, 1),
		Appending:       appending.String(),
	}
	if handleErr != nil {
		event.Status = StatusAborted
		event.ErrorCode = coreerrors.CodeOf(handleErr)
		event.ErrorCategory = string(coreerrors.CategoryOf(handleErr))
		event.Error = handleErr.Error()
		return event
	}
	event.Status = StatusCommitted
	event.StartingBehavior = outcome.Behavior.String()
	event.SimulationPart = outcome.Header.SimulationPart
	event.Log = outcome.Log.Name()
	return event
}

func Append(path string, event Event) error {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return fmt.Errorf("journal path is required")
	}
	if err := validateEvent(event); err != nil {
		return err
	}
	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal journal event: %w", err)
	}
	if err := fsx.AppendLineLocked(trimmedPath, encoded, 0o600); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

// Load reads every event of the journal at path. A missing journal is empty.
func Load(path string) ([]Event, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	// #nosec G304 -- journal path is explicit local user input.
	file, err := os.Open(trimmedPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Event{}, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	events := make([]Event, 0)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			return nil, fmt.Errorf("parse journal line %d: %w", line, err)
		}
		if err := validateEvent(event); err != nil {
			return nil, fmt.Errorf("validate journal line %d: %w", line, err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return events, nil
}

func validateEvent(event Event) error {
	if event.SchemaID != eventSchemaID {
		return fmt.Errorf("unsupported journal schema_id %q", event.SchemaID)
	}
	if event.SchemaVersion != eventSchemaV1 {
		return fmt.Errorf("unsupported journal schema_version %q", event.SchemaVersion)
	}
	switch event.Status {
	case StatusCommitted:
		if event.StartingBehavior == "" {
			return fmt.Errorf("committed journal event requires starting_behavior")
		}
	case StatusAborted:
		if event.Error == "" {
			return fmt.Errorf("aborted journal event requires error")
		}
	default:
		return fmt.Errorf("unknown journal status %q", event.Status)
	}
	return nil
}
