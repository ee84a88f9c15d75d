package classify

import (
	"regexp"
	"strconv"
)

// Location is a source position parsed out of a stack trace.
type Location struct {
	File     string
	Line     int
	Function string
}

var (
	fileLineRe = regexp.MustCompile(`File "([^"]+)", line (\d+)`)
	funcRe     = regexp.MustCompile(`in (\w+)`)
)

// ExtractLocation parses file, line, and function from a conventional
// stack-trace line. A trace that doesn't match yields a zero Location;
// absence of detail is not an error.
func ExtractLocation(stackTrace string) Location {
	var loc Location

	if m := fileLineRe.FindStringSubmatch(stackTrace); m != nil {
		loc.File = m[1]
		// Regex guarantees digits, so the error is unreachable.
		loc.Line, _ = strconv.Atoi(m[2])
	}
	if m := funcRe.FindStringSubmatch(stackTrace); m != nil {
		loc.Function = m[1]
	}

	return loc
}
