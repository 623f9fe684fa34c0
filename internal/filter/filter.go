// Package filter selects subvolumes by rsync-style glob rules. Rules match
// the physical path of a subvolume, taken from the volume root, so the same
// rule selects a subvolume whichever mount it is listed through.
package filter

import "strings"

// Rule represents a single include or exclude filter rule.
type Rule struct {
	Pattern *glob
	Include bool // true=include, false=exclude
}

// Chain holds an ordered list of filter rules.
type Chain struct {
	rules []Rule
}

// NewChain creates an empty filter chain.
func NewChain() *Chain {
	return &Chain{}
}

// AddExclude adds an exclude rule for the given pattern.
func (c *Chain) AddExclude(pattern string) error {
	g, err := compileGlob(pattern)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: g, Include: false})
	return nil
}

// AddInclude adds an include rule for the given pattern.
func (c *Chain) AddInclude(pattern string) error {
	g, err := compileGlob(pattern)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: g, Include: true})
	return nil
}

// Empty reports whether the chain has no rules.
func (c *Chain) Empty() bool {
	return c == nil || len(c.rules) == 0
}

// Match returns true if the subvolume at path should be INCLUDED. path is
// the physical path from the volume root; a leading "/" is ignored. A subvolume below
// an excluded one is excluded as well.
func (c *Chain) Match(path string) bool {
	if c.Empty() {
		return true
	}
	rel := strings.Trim(path, "/")
	if rel == "" {
		return c.decide(rel)
	}

	// Each ancestor is judged before its descendants.
	for i := 0; i <= len(rel); i++ {
		if i < len(rel) && rel[i] != '/' {
			continue
		}
		if !c.decide(rel[:i]) {
			return false
		}
	}
	return true
}

// decide walks rules in order; the first match wins. No match includes.
func (c *Chain) decide(rel string) bool {
	for _, rule := range c.rules {
		if rule.Pattern.match(rel) {
			return rule.Include
		}
	}
	return true
}
