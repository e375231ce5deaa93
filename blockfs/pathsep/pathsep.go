// Package pathsep splits absolute volume paths into the directories to walk
// and the leaf name to act on.
package pathsep

import (
	"errors"
	"strings"
)

// ErrInvalidPath is returned for paths that do not start with a slash.
var ErrInvalidPath = errors.New("invalid path")

// Separator tokenizes one path at a time. It is not safe to start a new Set
// while a previous walk is still being consumed.
type Separator struct {
	rest    string
	hasRest bool
	name    string
}

// Set resets the separator to path. "/a/b/c" yields components "a", "b" and
// name "c"; "/" yields no components and an empty name.
func (s *Separator) Set(path string) error {
	s.rest, s.hasRest, s.name = "", false, ""
	if !strings.HasPrefix(path, "/") {
		return ErrInvalidPath
	}
	last := strings.LastIndexByte(path, '/')
	s.name = path[last+1:]
	if last > 0 {
		s.rest = path[1:last]
		s.hasRest = true
	}
	return nil
}

// HasNext reports whether intermediate components remain.
func (s *Separator) HasNext() bool {
	return s.hasRest
}

// Next consumes the next intermediate component.
func (s *Separator) Next() string {
	if !s.hasRest {
		return ""
	}
	i := strings.IndexByte(s.rest, '/')
	if i < 0 {
		c := s.rest
		s.rest, s.hasRest = "", false
		return c
	}
	c := s.rest[:i]
	s.rest = s.rest[i+1:]
	return c
}

// Name returns the leaf component.
func (s *Separator) Name() string {
	return s.name
}

// Path is an absolute path built one component at a time.
type Path struct {
	parts []string
}

// Parse splits an absolute path into a Path. Empty components are skipped.
func Parse(path string) (Path, error) {
	if !strings.HasPrefix(path, "/") {
		return Path{}, ErrInvalidPath
	}
	var p Path
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			p.parts = append(p.parts, c)
		}
	}
	return p, nil
}

// Push appends a component.
func (p *Path) Push(name string) {
	p.parts = append(p.parts, name)
}

// Pop drops the last component. Popping the root is a no-op.
func (p *Path) Pop() {
	if len(p.parts) > 0 {
		p.parts = p.parts[:len(p.parts)-1]
	}
}

// Child returns a new path with name appended. p is left untouched.
func (p Path) Child(name string) Path {
	parts := make([]string, len(p.parts), len(p.parts)+1)
	copy(parts, p.parts)
	return Path{parts: append(parts, name)}
}

// IsRoot reports whether p has no components.
func (p Path) IsRoot() bool {
	return len(p.parts) == 0
}

// Join returns the path of name inside p without modifying p.
func (p Path) Join(name string) string {
	if p.IsRoot() {
		return "/" + name
	}
	return p.String() + "/" + name
}

func (p Path) String() string {
	return "/" + strings.Join(p.parts, "/")
}
