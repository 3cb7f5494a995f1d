package accesslog

import (
	"bytes"
	"fmt"
	"mime"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"github.com/go-oidfed/frontdoor/connector"
)

// DefaultPattern is the default extended access log pattern
const DefaultPattern = "c-ip s-ip cs-uri sc-status time x-threadname x-H(secure) x-H(remoteUser)"

const missing = "-"

// Pattern is a compiled W3C extended log file format pattern
type Pattern struct {
	raw    string
	fields []field
	geo    bool
}

type field struct {
	name   string
	quoted bool
	value  func(e *entry) string
}

type entry struct {
	c       *fiber.Ctx
	info    *connector.RequestInfo
	start   time.Time
	elapsed time.Duration
	conf    *Config
}

// Compile parses a whitespace separated list of W3C extended log fields
func Compile(pattern string) (*Pattern, error) {
	tokens := strings.Fields(pattern)
	if len(tokens) == 0 {
		return nil, errors.New("empty access log pattern")
	}
	p := &Pattern{raw: strings.Join(tokens, " ")}
	for _, token := range tokens {
		f, err := compileField(token)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(token, "x-G(") {
			p.geo = true
		}
		p.fields = append(p.fields, f)
	}
	return p, nil
}

// String returns the normalized pattern
func (p *Pattern) String() string {
	return p.raw
}

// UsesGeoIP indicates if the pattern contains GeoIP fields
func (p *Pattern) UsesGeoIP() bool {
	return p.geo
}

func (p *Pattern) format(buf *bytes.Buffer, e *entry) {
	for i, f := range p.fields {
		if i > 0 {
			buf.WriteByte(' ')
		}
		v := f.value(e)
		if f.quoted {
			v = quote(v)
		} else if v == "" {
			v = missing
		}
		buf.WriteString(v)
	}
	buf.WriteByte('\n')
}

var simpleFields = map[string]func(e *entry) string{
	"date": func(e *entry) string {
		return e.start.UTC().Format("2006-01-02")
	},
	"time": func(e *entry) string {
		return e.start.UTC().Format("15:04:05")
	},
	"time-taken": func(e *entry) string {
		return strconv.FormatFloat(e.elapsed.Seconds(), 'f', 3, 64)
	},
	"bytes": func(e *entry) string {
		n := len(e.c.Response().Body())
		if n == 0 {
			return missing
		}
		return strconv.Itoa(n)
	},
	"cached": func(*entry) string {
		return missing
	},
	"c-ip": func(e *entry) string {
		return e.info.RemoteAddr
	},
	"c-dns": func(e *entry) string {
		return e.info.RemoteHost
	},
	"s-ip": func(e *entry) string {
		ip := e.c.Context().LocalIP()
		if ip == nil || ip.IsUnspecified() {
			return missing
		}
		return ip.String()
	},
	"s-dns": func(*entry) string {
		return localHostname
	},
	"cs-method": func(e *entry) string {
		return e.c.Method()
	},
	"cs-uri": func(e *entry) string {
		return e.c.OriginalURL()
	},
	"cs-uri-stem": func(e *entry) string {
		stem, _, _ := strings.Cut(e.c.OriginalURL(), "?")
		return stem
	},
	"cs-uri-query": func(e *entry) string {
		_, query, _ := strings.Cut(e.c.OriginalURL(), "?")
		return query
	},
	"sc-status": func(e *entry) string {
		return strconv.Itoa(e.c.Response().StatusCode())
	},
	"x-threadname": func(e *entry) string {
		return e.info.Connector
	},
}

var requestProperties = map[string]func(e *entry) string{
	"authType": func(e *entry) string {
		return e.info.AuthType
	},
	"characterEncoding": func(e *entry) string {
		_, params, err := mime.ParseMediaType(e.c.Get(fiber.HeaderContentType))
		if err != nil {
			return ""
		}
		return params["charset"]
	},
	"contentLength": func(e *entry) string {
		n := e.c.Request().Header.ContentLength()
		if n < 0 {
			return ""
		}
		return strconv.Itoa(n)
	},
	"locale": func(e *entry) string {
		lang, _, _ := strings.Cut(e.c.Get(fiber.HeaderAcceptLanguage), ",")
		lang, _, _ = strings.Cut(lang, ";")
		return strings.TrimSpace(lang)
	},
	"protocol": func(e *entry) string {
		return string(e.c.Request().Header.Protocol())
	},
	"remoteUser": func(e *entry) string {
		return e.info.RemoteUser
	},
	"requestedSessionId": func(*entry) string {
		return ""
	},
	"requestedSessionIdFromCookie": func(*entry) string {
		return "false"
	},
	"requestedSessionIdValid": func(*entry) string {
		return "false"
	},
	"scheme": func(e *entry) string {
		return e.info.Scheme
	},
	"secure": func(e *entry) string {
		return strconv.FormatBool(e.info.Secure)
	},
}

var geoFields = map[string]bool{
	"country":   true,
	"city":      true,
	"continent": true,
}

func compileField(token string) (field, error) {
	if f, ok := simpleFields[token]; ok {
		return field{
			name:  token,
			value: f,
		}, nil
	}
	prefix, param, ok := parseParameterized(token)
	if !ok {
		return field{}, errors.Errorf("unsupported access log field '%s'", token)
	}
	f := field{
		name:   token,
		quoted: true,
	}
	switch prefix {
	case "cs":
		f.value = func(e *entry) string {
			return e.c.Get(param)
		}
	case "sc":
		f.value = func(e *entry) string {
			return e.c.GetRespHeader(param)
		}
	case "x-H":
		prop, found := requestProperties[param]
		if !found {
			return field{}, errors.Errorf("unsupported request property '%s' in access log field '%s'", param, token)
		}
		f.value = prop
	case "x-C":
		f.value = func(e *entry) string {
			return e.c.Cookies(param)
		}
	case "x-P":
		f.value = func(e *entry) string {
			if v := e.c.Query(param); v != "" {
				return v
			}
			if e.c.Method() == fiber.MethodPost {
				return e.c.FormValue(param)
			}
			return ""
		}
	case "x-R":
		f.value = func(e *entry) string {
			if v, ok := e.info.Attribute(param); ok {
				return stringify(v)
			}
			return stringify(e.c.Locals(param))
		}
	case "x-A":
		f.value = func(e *entry) string {
			return e.conf.ContextAttributes[param]
		}
	case "x-G":
		if !geoFields[param] {
			return field{}, errors.Errorf("unsupported geoip property '%s' in access log field '%s'", param, token)
		}
		f.value = func(e *entry) string {
			if e.conf.GeoIP == nil {
				return ""
			}
			rec, ok := e.conf.GeoIP.Lookup(e.info.RemoteAddr)
			if !ok {
				return ""
			}
			return rec.Get(param)
		}
	default:
		return field{}, errors.Errorf("unsupported access log field '%s'", token)
	}
	return f, nil
}

// parseParameterized splits tokens of the form prefix(param)
func parseParameterized(token string) (prefix, param string, ok bool) {
	open := strings.IndexByte(token, '(')
	if open <= 0 || !strings.HasSuffix(token, ")") {
		return "", "", false
	}
	param = token[open+1 : len(token)-1]
	if param == "" {
		return "", "", false
	}
	return token[:open], param, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case interface{ String() string }:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// quote wraps a value in double quotes, doubling contained quotes; empty
// values are logged as missing
func quote(v string) string {
	if v == "" || v == missing {
		return missing
	}
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

var localHostname = func() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return missing
	}
	return h
}()
