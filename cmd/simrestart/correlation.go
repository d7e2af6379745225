package main

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"sync"
)

const unsetCorrelationID = "000000000000000000000000"

// correlation holds the id stamped on JSON output, log records and journal
// events of the running command.
var correlation struct {
	mu sync.Mutex
	id string
}

func setCurrentCorrelationID(correlationID string) {
	correlation.mu.Lock()
	defer correlation.mu.Unlock()
	correlation.id = strings.TrimSpace(correlationID)
}

func currentCorrelationID() string {
	correlation.mu.Lock()
	defer correlation.mu.Unlock()
	return correlation.id
}

func hashCorrelation(fields []string) string {
	if len(fields) == 0 {
		return unsetCorrelationID
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:12])
}

// commandCorrelationID identifies one invocation by its command line.
func commandCorrelationID(arguments []string) string {
	fields := make([]string, 0, len(arguments))
	for _, argument := range arguments {
		fields = append(fields, strings.TrimSpace(argument))
	}
	return hashCorrelation(fields)
}

// runCorrelationID identifies a restart by the files it continues from, so
// every rank of a run agrees on it whatever process it runs in. Rank and
// process flags do not take part.
func runCorrelationID(flags runFlags) string {
	return hashCorrelation([]string{
		"run",
		absolutePath(flags.checkpointIn),
		absolutePath(flags.logPath),
		strings.Join(splitCSV(flags.outputs), ","),
		strings.Join(splitCSV(flags.multidir), ","),
	})
}

func absolutePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return absolute
}
