package main

import (
	"flag"
	"strings"
)

// interspersed moves flags ahead of positional arguments so flag.Parse sees
// all of them. Whether a flag consumes the following argument is read from
// its definition in flagSet.
func interspersed(flagSet *flag.FlagSet, arguments []string) []string {
	flags := make([]string, 0, len(arguments))
	var positionals []string
	for index := 0; index < len(arguments); index++ {
		argument := arguments[index]
		switch {
		case argument == "--":
			positionals = append(positionals, arguments[index+1:]...)
			index = len(arguments)
		case !isFlagToken(argument):
			positionals = append(positionals, argument)
		default:
			flags = append(flags, argument)
			if takesValue(flagSet, argument) && index+1 < len(arguments) {
				index++
				flags = append(flags, arguments[index])
			}
		}
	}
	return append(flags, positionals...)
}

func isFlagToken(argument string) bool {
	return len(argument) > 1 && strings.HasPrefix(argument, "-")
}

type boolFlag interface {
	IsBoolFlag() bool
}

func takesValue(flagSet *flag.FlagSet, argument string) bool {
	name := strings.TrimLeft(argument, "-")
	if strings.Contains(name, "=") {
		return false
	}
	defined := flagSet.Lookup(name)
	if defined == nil {
		return false
	}
	if value, ok := defined.Value.(boolFlag); ok && value.IsBoolFlag() {
		return false
	}
	return true
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
