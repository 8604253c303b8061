package logs

import (
	"errors"
	"fmt"
	"strings"
)

// NoErrorsLine is the single line of a Signal with no matches.
const NoErrorsLine = "No recent errors found."

var DefaultKeywords = []string{"ERROR", "Exception", "Traceback"}

const DefaultCount = 2

// Signal is the filtered error signal used as the retrieval query.
type Signal struct {
	Lines []string
	// NoErrors is set when nothing matched; Lines then holds only NoErrorsLine.
	NoErrors bool
}

// Query is the text embedded for retrieval.
func (s Signal) Query() string {
	return strings.Join(s.Lines, "\n")
}

// Filter keeps lines containing any keyword (case-sensitive) and then the last Count of them.
type Filter struct {
	Keywords []string
	Count    int
}

func (f Filter) Apply(streams []Stream) Signal {
	keywords := f.Keywords
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	count := f.Count
	if count <= 0 {
		count = DefaultCount
	}

	var lines []string
	for _, s := range streams {
		if s.Err != nil {
			lines = append(lines, failureLine(s))
			continue
		}
		for _, line := range splitLines(s.Text) {
			if containsAny(line, keywords) {
				lines = append(lines, line)
			}
		}
	}

	if len(lines) == 0 {
		return Signal{Lines: []string{NoErrorsLine}, NoErrors: true}
	}
	if len(lines) > count {
		lines = lines[len(lines)-count:]
	}
	return Signal{Lines: lines}
}

func failureLine(s Stream) string {
	err := s.Err
	var access *LogAccessError
	if errors.As(err, &access) {
		err = access.Err
	}
	return fmt.Sprintf("[ERROR] Failed to read logs from %s: %v", s.Name, err)
}

func containsAny(line string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(line, k) {
			return true
		}
	}
	return false
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}
