// Package rewrite implements a subset of the mod_rewrite rule language and a
// fiber middleware applying it to incoming requests.
package rewrite

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// RuleSet is an ordered list of rewrite rules
type RuleSet struct {
	Rules []*Rule
}

// Empty checks if the RuleSet has no rules
func (rs *RuleSet) Empty() bool {
	return rs == nil || len(rs.Rules) == 0
}

// Rule is a single RewriteRule together with the RewriteCond directives
// preceding it
type Rule struct {
	Raw          string
	pattern      *regexp.Regexp
	negate       bool
	Substitution string
	Conditions   []*Condition

	Chain        bool
	Env          map[string]string
	Forbidden    bool
	Gone         bool
	Last         bool
	Next         bool
	NoCase       bool
	NoEscape     bool
	QSAppend     bool
	QSDiscard    bool
	Redirect     bool
	RedirectCode int
	Skip         int
	Type         string
}

type condKind int

const (
	condRegex condKind = iota
	condLess
	condGreater
	condEqual
	condDirectory
	condFile
	condNonEmptyFile
)

// Condition is a RewriteCond directive
type Condition struct {
	Raw        string
	TestString string
	kind       condKind
	regex      *regexp.Regexp
	value      string
	negate     bool
	NoCase     bool
	OrNext     bool
}

// Load reads and parses the rule file at the passed path
func Load(path string) (*RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open rewrite rules '%s'", path)
	}
	defer f.Close()
	rs, err := Parse(f)
	return rs, errors.Wrapf(err, "could not parse rewrite rules '%s'", path)
}

// Parse parses rewrite directives from the passed reader
func Parse(r io.Reader) (*RuleSet, error) {
	rs := &RuleSet{}
	var conds []*Condition
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens := strings.Fields(line)
		switch tokens[0] {
		case "RewriteCond":
			cond, err := parseCondition(line, tokens[1:])
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", lineNo)
			}
			conds = append(conds, cond)
		case "RewriteRule":
			rule, err := parseRule(line, tokens[1:])
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", lineNo)
			}
			rule.Conditions = conds
			conds = nil
			rs.Rules = append(rs.Rules, rule)
		default:
			return nil, errors.Errorf("line %d: unsupported directive '%s'", lineNo, tokens[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	if len(conds) > 0 {
		return nil, errors.New("RewriteCond without following RewriteRule")
	}
	return rs, nil
}

func parseCondition(raw string, args []string) (*Condition, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, errors.New("RewriteCond expects a test string, a condition pattern and optional flags")
	}
	c := &Condition{
		Raw:        raw,
		TestString: args[0],
	}
	if len(args) == 3 {
		flags, err := splitFlags(args[2])
		if err != nil {
			return nil, err
		}
		for _, flag := range flags {
			switch strings.ToUpper(flag) {
			case "NC", "NOCASE":
				c.NoCase = true
			case "OR", "ORNEXT":
				c.OrNext = true
			default:
				return nil, errors.Errorf("unsupported RewriteCond flag '%s'", flag)
			}
		}
	}
	pattern := args[1]
	if strings.HasPrefix(pattern, "!") {
		c.negate = true
		pattern = pattern[1:]
	}
	switch {
	case strings.HasPrefix(pattern, "<"):
		c.kind, c.value = condLess, pattern[1:]
	case strings.HasPrefix(pattern, ">"):
		c.kind, c.value = condGreater, pattern[1:]
	case strings.HasPrefix(pattern, "="):
		c.kind, c.value = condEqual, strings.Trim(pattern[1:], `"`)
	case pattern == "-d":
		c.kind = condDirectory
	case pattern == "-f":
		c.kind = condFile
	case pattern == "-s":
		c.kind = condNonEmptyFile
	default:
		re, err := compile(pattern, c.NoCase)
		if err != nil {
			return nil, err
		}
		c.kind, c.regex = condRegex, re
	}
	return c, nil
}

func parseRule(raw string, args []string) (*Rule, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, errors.New("RewriteRule expects a pattern, a substitution and optional flags")
	}
	r := &Rule{
		Raw:          raw,
		Substitution: args[1],
	}
	if len(args) == 3 {
		flags, err := splitFlags(args[2])
		if err != nil {
			return nil, err
		}
		for _, flag := range flags {
			if err = r.setFlag(flag); err != nil {
				return nil, err
			}
		}
	}
	pattern := args[0]
	if strings.HasPrefix(pattern, "!") {
		r.negate = true
		pattern = pattern[1:]
	}
	re, err := compile(pattern, r.NoCase)
	if err != nil {
		return nil, err
	}
	r.pattern = re
	return r, nil
}

func (r *Rule) setFlag(flag string) error {
	name, value, hasValue := strings.Cut(flag, "=")
	switch strings.ToUpper(name) {
	case "C", "CHAIN":
		r.Chain = true
	case "E", "ENV":
		key, val, ok := strings.Cut(value, ":")
		if !hasValue || !ok || key == "" {
			return errors.Errorf("invalid env flag '%s', expected env=var:value", flag)
		}
		if r.Env == nil {
			r.Env = make(map[string]string)
		}
		r.Env[key] = val
	case "F", "FORBIDDEN":
		r.Forbidden = true
	case "G", "GONE":
		r.Gone = true
	case "L", "LAST":
		r.Last = true
	case "N", "NEXT":
		r.Next = true
	case "NC", "NOCASE":
		r.NoCase = true
	case "NE", "NOESCAPE":
		r.NoEscape = true
	case "QSA", "QSAPPEND":
		r.QSAppend = true
	case "QSD", "QSDISCARD":
		r.QSDiscard = true
	case "R", "REDIRECT":
		r.Redirect = true
		r.RedirectCode = 302
		if hasValue {
			code, err := strconv.Atoi(value)
			if err != nil || code < 300 || code > 399 {
				return errors.Errorf("invalid redirect code in flag '%s'", flag)
			}
			r.RedirectCode = code
		}
	case "S", "SKIP":
		n, err := strconv.Atoi(value)
		if !hasValue || err != nil || n < 0 {
			return errors.Errorf("invalid skip flag '%s'", flag)
		}
		r.Skip = n
	case "T", "TYPE":
		if !hasValue || value == "" {
			return errors.Errorf("invalid type flag '%s'", flag)
		}
		r.Type = value
	default:
		return errors.Errorf("unsupported RewriteRule flag '%s'", flag)
	}
	return nil
}

func splitFlags(s string) ([]string, error) {
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, errors.Errorf("invalid flags '%s'", s)
	}
	var flags []string
	for _, f := range strings.Split(s[1:len(s)-1], ",") {
		if f = strings.TrimSpace(f); f != "" {
			flags = append(flags, f)
		}
	}
	return flags, nil
}

func compile(pattern string, noCase bool) (*regexp.Regexp, error) {
	if noCase {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	return re, errors.Wrapf(err, "invalid pattern '%s'", pattern)
}
