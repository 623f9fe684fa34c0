package filter

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrUnsupportedRule is returned for rsync rule syntax that has no meaning
// when selecting subvolumes, such as merge files or transfer-side rules.
var ErrUnsupportedRule = errors.New("unsupported rule")

// ParseError reports the rules-file line a rule came from.
type ParseError struct {
	File string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// rsync rule words that only make sense for a file transfer.
var transferRules = map[string]bool{
	"!": true, "P": true, "H": true, "S": true, "R": true, ".": true, ":": true,
	"protect": true, "hide": true, "show": true, "risk": true,
	"merge": true, "dir-merge": true, "clear": true,
}

// LoadFile adds the rules in the file at path to the chain.
func (c *Chain) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open filter file: %w", err)
	}
	defer f.Close()
	return c.Read(f, path)
}

// Read adds one rule per line of r to the chain, in order:
//
//	+ PATTERN        include
//	- PATTERN        exclude
//	include PATTERN  include
//	exclude PATTERN  exclude
//	PATTERN          exclude
//
// Blank lines and lines starting with "#" or ";" are skipped. name labels
// errors, which are *ParseError.
func (c *Chain) Read(r io.Reader, name string) error {
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] == '#' || text[0] == ';' {
			continue
		}
		include, pattern, err := parseRule(text)
		if err == nil {
			if include {
				err = c.AddInclude(pattern)
			} else {
				err = c.AddExclude(pattern)
			}
		}
		if err != nil {
			return &ParseError{File: name, Line: line, Err: err}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	return nil
}

func parseRule(text string) (include bool, pattern string, err error) {
	word, rest, found := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)
	switch {
	case !found:
		if transferRules[word] {
			return false, "", fmt.Errorf("%w: %q", ErrUnsupportedRule, word)
		}
		return false, text, nil
	case word == "+" || word == "include":
		include = true
	case word == "-" || word == "exclude":
	case transferRules[word]:
		return false, "", fmt.Errorf("%w: %q", ErrUnsupportedRule, word)
	case isModified(word):
		return false, "", fmt.Errorf("%w: rule modifiers in %q", ErrUnsupportedRule, word)
	default:
		return false, text, nil
	}
	return include, rest, nil
}

// isModified reports whether word is a "+" or "-" carrying rsync modifiers,
// as in "-! pattern" or "+/ pattern".
func isModified(word string) bool {
	if len(word) < 2 || (word[0] != '+' && word[0] != '-') {
		return false
	}
	return strings.Trim(word[1:], "!/Cswrpx,") == ""
}
