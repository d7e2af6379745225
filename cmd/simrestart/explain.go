package main

import (
	"fmt"
	"strings"
)

const explainFlag = "--explain"

// commandExplanations is keyed by the command path below the binary name.
var commandExplanations = map[string]string{
	"": "simrestart decides, consistently across every rank of one or more simulations, whether a run starts fresh or continues from its checkpoint, and prepares output files for appending.",
	"handle": "Run the restart protocol for every rank of one or more simulations in this process, then report the agreed starting behavior. " +
		"Masters validate and truncate output files when the run continues appending.",
	"rank":               "Run the restart protocol as one rank of a simulation whose ranks meet at a collective hub started with `simrestart hub`.",
	"hub":                "Serve the collective hub that ranks started with `simrestart rank` use to reduce and broadcast during restart handling.",
	"checkpoint":         "Write a checkpoint manifest that records the size and trailing MD5 of each output file, or inspect an existing one.",
	"checkpoint write":   "Record the current size and trailing MD5 of the log and every output file into a checkpoint manifest. The log is always the first record.",
	"checkpoint inspect": "Print the header and output file records of a checkpoint manifest.",
	"journal":            "List the restart outcomes recorded in a journal written by `simrestart handle --journal`.",
	"version":            "Print the CLI version.",
}

// explanationFor returns the explanation of the deepest known command named
// by the leading words of arguments, when arguments ask for one.
func explanationFor(arguments []string) (string, bool) {
	requested := false
	for _, argument := range arguments {
		if strings.TrimSpace(argument) == explainFlag {
			requested = true
			break
		}
	}
	if !requested {
		return "", false
	}
	path := ""
	for _, word := range arguments {
		if isFlagToken(word) {
			break
		}
		candidate := strings.TrimSpace(path + " " + word)
		if _, ok := commandExplanations[candidate]; !ok {
			break
		}
		path = candidate
	}
	if path == "" && len(arguments) > 0 && !isFlagToken(arguments[0]) {
		return "", false
	}
	return commandExplanations[path], true
}

func writeExplain(text string) int {
	fmt.Println(text)
	return exitOK
}
