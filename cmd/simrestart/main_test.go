package main

import (
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	original := os.Stdout
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = writer
	defer func() {
		os.Stdout = original
	}()

	type readResult struct {
		raw []byte
		err error
	}
	resultCh := make(chan readResult, 1)
	go func() {
		raw, readErr := io.ReadAll(reader)
		resultCh <- readResult{raw: raw, err: readErr}
	}()

	fn()

	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	result := <-resultCh
	if result.err != nil {
		t.Fatalf("read stdout: %v", result.err)
	}
	return string(result.raw)
}

// runJSON runs the CLI and decodes its single JSON output line.
func runJSON(t *testing.T, arguments ...string) (int, map[string]any) {
	t.Helper()
	var code int
	raw := captureStdout(t, func() {
		code = run(append([]string{"simrestart"}, arguments...))
	})
	var output map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &output); err != nil {
		t.Fatalf("decode output %q: %v", raw, err)
	}
	return code, output
}

func TestRunDispatch(t *testing.T) {
	testCases := []struct {
		name      string
		arguments []string
		want      int
	}{
		{name: "no args", arguments: []string{"simrestart"}, want: exitOK},
		{name: "version", arguments: []string{"simrestart", "version"}, want: exitOK},
		{name: "unknown", arguments: []string{"simrestart", "unknown"}, want: exitInvalidInput},
		{name: "explain", arguments: []string{"simrestart", "--explain"}, want: exitOK},
		{name: "handle help", arguments: []string{"simrestart", "handle", "--help"}, want: exitOK},
		{name: "rank help", arguments: []string{"simrestart", "rank", "--help"}, want: exitOK},
		{name: "hub help", arguments: []string{"simrestart", "hub", "--help"}, want: exitOK},
		{name: "checkpoint without subcommand", arguments: []string{"simrestart", "checkpoint"}, want: exitInvalidInput},
		{name: "checkpoint write help", arguments: []string{"simrestart", "checkpoint", "write", "--help"}, want: exitOK},
		{name: "checkpoint inspect explain", arguments: []string{"simrestart", "checkpoint", "inspect", "--explain"}, want: exitOK},
		{name: "journal help", arguments: []string{"simrestart", "journal", "--help"}, want: exitOK},
		{name: "handle explain", arguments: []string{"simrestart", "handle", "--explain"}, want: exitOK},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			var code int
			captureStdout(t, func() {
				code = run(testCase.arguments)
			})
			if code != testCase.want {
				t.Fatalf("run %v: expected %d got %d", testCase.arguments, testCase.want, code)
			}
		})
	}
}

func TestMainEntrypoint(t *testing.T) {
	if os.Getenv("SIMRESTART_TEST_MAIN") == "1" {
		os.Args = []string{"simrestart", "version"}
		main()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestMainEntrypoint")
	cmd.Env = append(os.Environ(), "SIMRESTART_TEST_MAIN=1")
	if err := cmd.Run(); err != nil {
		t.Fatalf("run child process: %v", err)
	}
}

func TestVersionOutput(t *testing.T) {
	output := captureStdout(t, func() {
		run([]string{"simrestart", "version"})
	})
	if strings.TrimSpace(output) != "simrestart "+version {
		t.Fatalf("unexpected version output %q", output)
	}
}
