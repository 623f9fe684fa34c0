package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrBadPattern is returned for a pattern that cannot select subvolumes.
var ErrBadPattern = errors.New("bad pattern")

// glob matches the physical path of a subvolume, relative to the volume
// root, against one rsync-style pattern.
type glob struct {
	re  *regexp.Regexp
	src string
}

// compileGlob compiles pattern. A pattern holding a "/" is anchored at the
// volume root; any other pattern matches the last components of a path.
// Every subvolume is a directory, so a trailing "/" is dropped.
func compileGlob(pattern string) (*glob, error) {
	p := strings.TrimSuffix(pattern, "/")
	switch {
	case p == "":
		return nil, fmt.Errorf("%w: empty pattern %q", ErrBadPattern, pattern)
	case strings.Contains(p, "***"):
		return nil, fmt.Errorf("%w: %q: *** is not supported, a rule already covers nested subvolumes", ErrBadPattern, pattern)
	}

	var b strings.Builder
	if strings.Contains(p, "/") {
		b.WriteString("^")
	} else {
		b.WriteString("(^|/)")
	}
	segs := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, seg := range segs {
		last := i == len(segs)-1
		if seg == "**" {
			if last {
				b.WriteString(".*")
			} else {
				b.WriteString("(.*/)?")
			}
			continue
		}
		re, err := segmentRegex(seg)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrBadPattern, pattern, err)
		}
		b.WriteString(re)
		if !last {
			b.WriteByte('/')
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrBadPattern, pattern, err)
	}
	return &glob{re: re, src: pattern}, nil
}

func (g *glob) match(rel string) bool {
	return g.re.MatchString(rel)
}

func (g *glob) String() string { return g.src }

// segmentRegex translates one path component of a glob. Literal runs are
// quoted; "*" and "?" stop at "/", "**" does not.
func segmentRegex(seg string) (string, error) {
	var b, lit strings.Builder
	flush := func() {
		b.WriteString(regexp.QuoteMeta(lit.String()))
		lit.Reset()
	}
	for i := 0; i < len(seg); i++ {
		switch c := seg[i]; c {
		case '*':
			flush()
			if i+1 < len(seg) && seg[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			flush()
			b.WriteString("[^/]")
		case '[':
			end := classEnd(seg, i)
			if end < 0 {
				return "", fmt.Errorf("unterminated character class at offset %d", i)
			}
			flush()
			cls := seg[i+1 : end]
			if strings.HasPrefix(cls, "!") {
				cls = "^" + cls[1:]
			}
			b.WriteString("[" + strings.ReplaceAll(cls, `\`, `\\`) + "]")
			i = end
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return b.String(), nil
}

// classEnd returns the index of the "]" closing the class opened at
// seg[start], or -1. A "]" right after "[" or "[!" is literal.
func classEnd(seg string, start int) int {
	j := start + 1
	if j < len(seg) && seg[j] == '!' {
		j++
	}
	if j < len(seg) && seg[j] == ']' {
		j++
	}
	for ; j < len(seg); j++ {
		if seg[j] == ']' {
			return j
		}
	}
	return -1
}
