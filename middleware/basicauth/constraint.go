package basicauth

import (
	"net/url"
	"path"
	"strings"

	"tideland.dev/go/slices"
)

// Special role names
const (
	// RoleAnyDeclared grants access to users with any declared security role
	RoleAnyDeclared = "*"
	// RoleAnyAuthenticated grants access to any authenticated user
	RoleAnyAuthenticated = "**"
)

// Constraint protects a set of URL patterns; access requires one of the
// AuthRoles
type Constraint struct {
	AuthRoles []string `json:"auth_roles"`
	Patterns  []string `json:"patterns"`
	// Confidential requires a secure transport
	Confidential bool `json:"confidential"`
}

// NewConstraints returns one Constraint per auth role, each covering all
// passed patterns
func NewConstraints(authRoles, patterns []string, confidential bool) []Constraint {
	constraints := make([]Constraint, 0, len(authRoles))
	for _, role := range authRoles {
		constraints = append(
			constraints, Constraint{
				AuthRoles:    []string{role},
				Patterns:     patterns,
				Confidential: confidential,
			},
		)
	}
	return constraints
}

type matchKind int

const (
	noMatch matchKind = iota
	defaultMatch
	extensionMatch
	prefixMatch
	exactMatch
)

type match struct {
	kind   matchKind
	length int
}

func (m match) betterThan(o match) bool {
	if m.kind != o.kind {
		return m.kind > o.kind
	}
	return m.length > o.length
}

// matchPattern matches a path against a servlet url-pattern
func matchPattern(pattern, path string) match {
	switch {
	case pattern == "/":
		return match{kind: defaultMatch}
	case pattern == "":
		if path == "/" {
			return match{
				kind:   exactMatch,
				length: 1,
			}
		}
	case strings.HasSuffix(pattern, "/*"):
		prefix := strings.TrimSuffix(pattern, "/*")
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return match{
				kind:   prefixMatch,
				length: len(prefix),
			}
		}
	case strings.HasPrefix(pattern, "*."):
		segment := path[strings.LastIndexByte(path, '/')+1:]
		if strings.HasSuffix(segment, pattern[1:]) {
			return match{
				kind:   extensionMatch,
				length: len(pattern),
			}
		}
	case pattern == path:
		return match{
			kind:   exactMatch,
			length: len(pattern),
		}
	}
	return match{kind: noMatch}
}

// requestPath returns the decoded request path without dot segments and
// duplicate slashes; a trailing slash is kept
func requestPath(raw string) string {
	p, err := url.PathUnescape(raw)
	if err != nil {
		p = raw
	}
	cleaned := path.Clean("/" + p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

// requirement is the combined requirement of all constraints that apply to a
// request
type requirement struct {
	roles        []string
	confidential bool
}

// resolve finds the constraints with the best matching pattern for the path
// and combines them. It returns false if no constraint applies.
func resolve(constraints []Constraint, path string) (requirement, bool) {
	var best match
	var applying []*Constraint
	for i := range constraints {
		c := &constraints[i]
		var cm match
		for _, p := range c.Patterns {
			if m := matchPattern(p, path); m.betterThan(cm) {
				cm = m
			}
		}
		if cm.kind == noMatch {
			continue
		}
		switch {
		case cm.betterThan(best):
			best = cm
			applying = []*Constraint{c}
		case !best.betterThan(cm):
			applying = append(applying, c)
		}
	}
	if len(applying) == 0 {
		return requirement{}, false
	}
	var req requirement
	for _, c := range applying {
		req.roles = append(req.roles, slices.Subtract(c.AuthRoles, req.roles)...)
		req.confidential = req.confidential || c.Confidential
	}
	return req, true
}
