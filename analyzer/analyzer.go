// Package analyzer reports simple heuristics about source file contents:
// line count and whether the text contains TODOs, function definitions or
// comments.
package analyzer

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/vinayprograms/devsupport/errors"
)

// Analysis is the result of scanning one file.
type Analysis struct {
	LineCount    int  `json:"lineCount"`
	HasTodos     bool `json:"hasTodos"`
	HasFunctions bool `json:"hasFunctions"`
	HasComments  bool `json:"hasComments"`
}

var (
	functionPrefixes = []string{"def ", "class ", "function "}
	commentPrefixes  = []string{"#", "//", "/*", "*", "'''", `"""`}
)

// AnalyzeFile reads path and analyzes its contents. A missing file yields
// the zero Analysis. Content that is not UTF-8 is INVALID_INPUT.
func AnalyzeFile(ctx context.Context, path string) (Analysis, error) {
	if strings.TrimSpace(path) == "" {
		return Analysis{}, errors.InvalidInput("file_path must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return Analysis{}, errors.Wrap(err, "analyze file")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return Analysis{}, nil
		}
		return Analysis{}, errors.WrapWithCode(err, errors.ErrCodeIO, "read file", errors.WithPath(path))
	}
	if !utf8.Valid(data) {
		return Analysis{}, errors.InvalidInput("file is not valid UTF-8 text", errors.WithPath(path))
	}
	return Analyze(string(data)), nil
}

// Analyze scans content.
func Analyze(content string) Analysis {
	if content == "" {
		return Analysis{}
	}

	lines := splitLines(content)
	a := Analysis{
		LineCount: len(lines),
		HasTodos:  strings.Contains(strings.ToUpper(content), "TODO"),
	}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !a.HasFunctions && hasAnyPrefix(trimmed, functionPrefixes) {
			a.HasFunctions = true
		}
		if !a.HasComments && hasAnyPrefix(trimmed, commentPrefixes) {
			a.HasComments = true
		}
		if a.HasFunctions && a.HasComments {
			break
		}
	}
	return a
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// splitLines splits on every Unicode line boundary and treats "\r\n" as one
// break. A trailing break does not start an extra line.
func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !isLineBreak(r) {
			i += size
			continue
		}
		lines = append(lines, s[start:i])
		i += size
		if r == '\r' && i < len(s) && s[i] == '\n' {
			i++
		}
		start = i
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
		return true
	}
	return false
}
