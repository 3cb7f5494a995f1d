package rewrite

import (
	"net/url"
	"os"
	"strconv"
	"strings"
)

// maxPasses limits how often the N flag restarts rule processing
const maxPasses = 100

// Variables resolves server variables referenced as %{NAME}
type Variables interface {
	Lookup(name string) string
}

// MapVariables is a Variables implementation backed by a map
type MapVariables map[string]string

// Lookup implements the Variables interface
func (m MapVariables) Lookup(name string) string {
	return m[name]
}

// Result is the outcome of applying a RuleSet to a request
type Result struct {
	// Path is the (possibly rewritten) decoded path
	Path string
	// Query is the (possibly rewritten) raw query string
	Query string
	// Changed indicates that Path or Query were rewritten
	Changed bool
	// Redirect is the redirect target; a path or an absolute URL
	Redirect string
	// Status is the response status for redirects, F and G rules; 0
	// otherwise
	Status int
	// Env holds the values set by E flags
	Env map[string]string
	// ContentType is the value of the last matching T flag
	ContentType string
}

// Apply evaluates the rules against the passed path and query
func (rs *RuleSet) Apply(path, query string, vars Variables) Result {
	res := Result{
		Path:  path,
		Query: query,
	}
	if rs.Empty() {
		return res
	}
	e := &evaluation{
		vars: vars,
		res:  &res,
	}
	passes := 0
	for i := 0; i < len(rs.Rules); i++ {
		rule := rs.Rules[i]
		if !e.apply(rule) {
			if rule.Chain {
				for i < len(rs.Rules) && rs.Rules[i].Chain {
					i++
				}
			}
			continue
		}
		if res.Status != 0 {
			return res
		}
		if rule.Last {
			break
		}
		if rule.Next {
			passes++
			if passes >= maxPasses {
				break
			}
			i = -1
			continue
		}
		i += rule.Skip
	}
	return res
}

type evaluation struct {
	vars      Variables
	res       *Result
	condGroup []string
}

// apply applies a single rule and reports whether it matched
func (e *evaluation) apply(rule *Rule) bool {
	e.condGroup = nil
	groups := rule.pattern.FindStringSubmatch(e.res.Path)
	matched := groups != nil
	if rule.negate {
		matched = !matched
		groups = nil
	}
	if !matched {
		return false
	}
	if !e.conditions(rule, groups) {
		return false
	}

	for k, v := range rule.Env {
		if e.res.Env == nil {
			e.res.Env = make(map[string]string)
		}
		e.res.Env[k] = e.expand(v, groups)
	}
	if rule.Type != "" {
		e.res.ContentType = rule.Type
	}
	if rule.Forbidden {
		e.res.Status = 403
		return true
	}
	if rule.Gone {
		e.res.Status = 410
		return true
	}
	if rule.Substitution == "-" {
		if rule.QSDiscard {
			e.setQuery("")
		}
		return true
	}

	target := e.expand(rule.Substitution, groups)
	path, query, hasQuery := strings.Cut(target, "?")
	switch {
	case hasQuery && rule.QSAppend && e.res.Query != "" && query != "":
		query = query + "&" + e.res.Query
	case hasQuery && rule.QSAppend && query == "":
		query = e.res.Query
	case !hasQuery && !rule.QSDiscard:
		query = e.res.Query
	}

	if rule.Redirect || isAbsoluteURL(path) {
		e.res.Status = 302
		if rule.RedirectCode != 0 {
			e.res.Status = rule.RedirectCode
		}
		if !rule.NoEscape && !isAbsoluteURL(path) {
			path = (&url.URL{Path: path}).EscapedPath()
		}
		e.res.Redirect = path
		if query != "" {
			e.res.Redirect += "?" + query
		}
		return true
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	e.res.Changed = e.res.Changed || path != e.res.Path || query != e.res.Query
	e.res.Path = path
	e.res.Query = query
	return true
}

func (e *evaluation) setQuery(q string) {
	if q != e.res.Query {
		e.res.Changed = true
		e.res.Query = q
	}
}

// conditions evaluates the conditions of a rule; OR flagged conditions are
// combined with the following condition. The groups of the last matching
// condition become %N only if the whole set passes.
func (e *evaluation) conditions(rule *Rule, groups []string) bool {
	result := true
	orPending := false
	var last []string
	for _, c := range rule.Conditions {
		if orPending && result {
			orPending = c.OrNext
			continue
		}
		ok, captured := e.condition(c, groups)
		if ok && captured != nil {
			last = captured
		}
		result = ok
		orPending = c.OrNext
		if !result && !orPending {
			return false
		}
	}
	if result {
		e.condGroup = last
	}
	return result
}

func (e *evaluation) condition(c *Condition, groups []string) (bool, []string) {
	test := e.expand(c.TestString, groups)
	var ok bool
	var captured []string
	switch c.kind {
	case condRegex:
		captured = c.regex.FindStringSubmatch(test)
		ok = captured != nil
	case condLess, condGreater, condEqual:
		a, b := test, c.value
		if c.NoCase {
			a, b = strings.ToLower(a), strings.ToLower(b)
		}
		cmp := strings.Compare(a, b)
		ok = (c.kind == condLess && cmp < 0) ||
			(c.kind == condGreater && cmp > 0) ||
			(c.kind == condEqual && cmp == 0)
	case condDirectory:
		stat, err := os.Stat(test)
		ok = err == nil && stat.IsDir()
	case condFile:
		stat, err := os.Stat(test)
		ok = err == nil && stat.Mode().IsRegular()
	case condNonEmptyFile:
		stat, err := os.Stat(test)
		ok = err == nil && stat.Mode().IsRegular() && stat.Size() > 0
	}
	if c.negate {
		return !ok, nil
	}
	return ok, captured
}

// expand replaces $N, %N and %{VAR} references; a backslash escapes the
// following character
func (e *evaluation) expand(s string, groups []string) string {
	if !strings.ContainsAny(s, `$%\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '\\' && i+1 < len(s):
			i++
			b.WriteByte(s[i])
		case (ch == '$' || ch == '%') && i+1 < len(s) && isDigit(s[i+1]):
			n, _ := strconv.Atoi(s[i+1 : i+2])
			i++
			src := groups
			if ch == '%' {
				src = e.condGroup
			}
			if n < len(src) {
				b.WriteString(src[n])
			}
		case ch == '%' && i+1 < len(s) && s[i+1] == '{':
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				b.WriteString(s[i:])
				return b.String()
			}
			b.WriteString(e.variable(s[i+2 : i+end]))
			i += end
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func (e *evaluation) variable(name string) string {
	if envName, ok := strings.CutPrefix(name, "ENV:"); ok {
		if v, found := e.res.Env[envName]; found {
			return v
		}
		return os.Getenv(envName)
	}
	if e.vars == nil {
		return ""
	}
	return e.vars.Lookup(name)
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isAbsoluteURL(s string) bool {
	scheme, _, ok := strings.Cut(s, "://")
	if !ok || scheme == "" {
		return false
	}
	for _, r := range scheme {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.') {
			return false
		}
	}
	return true
}
