package connector

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/structs"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"tideland.dev/go/slices"

	"github.com/go-oidfed/frontdoor/internal/utils"
)

// Attributes holds the connector attributes understood by the container.
// The attr tags are the attribute names used in configuration; they follow
// the Tomcat connector attribute names.
type Attributes struct {
	// MaxPostSize is the maximum request body size in bytes; <= 0 means
	// unlimited
	MaxPostSize int64 `attr:"maxPostSize" json:"max_post_size"`
	// AllowTrace enables the TRACE method
	AllowTrace bool `attr:"allowTrace" json:"allow_trace"`
	// EnableLookups enables reverse DNS lookups of the remote host
	EnableLookups bool `attr:"enableLookups" json:"enable_lookups"`
	// AsyncTimeout in milliseconds, used as write timeout
	AsyncTimeout int64 `attr:"asyncTimeout" json:"async_timeout_ms"`
	// ConnectionTimeout in milliseconds, used as read timeout
	ConnectionTimeout int64 `attr:"connectionTimeout" json:"connection_timeout_ms"`
	// KeepAliveTimeout in milliseconds, used as idle timeout
	KeepAliveTimeout int64 `attr:"keepAliveTimeout" json:"keep_alive_timeout_ms"`
	// MaxHTTPHeaderSize in bytes
	MaxHTTPHeaderSize int64 `attr:"maxHttpHeaderSize" json:"max_http_header_size"`
	// ProxyName overrides the server name reported to the application
	ProxyName string `attr:"proxyName" json:"proxy_name,omitempty"`
	// Server sets the Server response header
	Server string `attr:"server" json:"server,omitempty"`
	// XPoweredBy adds a X-Powered-By response header
	XPoweredBy bool `attr:"xpoweredBy" json:"xpowered_by"`
}

// DefaultAttributes returns the attribute values a new Connector starts with
func DefaultAttributes() Attributes {
	return Attributes{
		MaxPostSize:       2 * 1024 * 1024,
		AsyncTimeout:      20000,
		ConnectionTimeout: 3000,
		KeepAliveTimeout:  150000,
		MaxHTTPHeaderSize: 8192,
	}
}

// AttributeNames returns the names of all known attributes
func AttributeNames() []string {
	return utils.FieldTagNames(structs.New(Attributes{}).Fields(), "attr")
}

// AttributeMap holds attributes as configured, keyed by attribute name
type AttributeMap map[string]string

// UnmarshalYAML implements the yaml.Unmarshaler interface.
// Scalar values of any type are accepted and kept in their string form.
func (m *AttributeMap) UnmarshalYAML(node *yaml.Node) error {
	raw := make(map[string]any)
	if err := node.Decode(&raw); err != nil {
		return errors.WithStack(err)
	}
	out := make(AttributeMap, len(raw))
	for k, v := range raw {
		switch v.(type) {
		case map[string]any, []any:
			return errors.Errorf("connector attribute '%s' must be a scalar value", k)
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	*m = out
	return nil
}

// SetAttributes applies the passed attributes to this Connector.
// Unknown attribute names are logged and ignored; values that cannot be
// parsed are returned as error.
func (c *Connector) SetAttributes(attrs AttributeMap) error {
	if len(attrs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if unknown := slices.Subtract(keys, AttributeNames()); len(unknown) > 0 {
		log.WithFields(
			log.Fields{
				"connector":  c.Name,
				"attributes": unknown,
			},
		).Warn("ignoring unknown connector attributes")
	}

	s := structs.New(&c.Attributes)
	for _, f := range s.Fields() {
		name := f.Tag("attr")
		raw, ok := attrs[name]
		if !ok {
			continue
		}
		v, err := parseAttribute(f.Kind(), strings.TrimSpace(raw))
		if err != nil {
			return errors.Wrapf(err, "connector %s: invalid value for attribute '%s'", c.Name, name)
		}
		if err = f.Set(v); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func parseAttribute(kind reflect.Kind, raw string) (any, error) {
	switch kind {
	case reflect.Bool:
		return strconv.ParseBool(raw)
	case reflect.Int64:
		return strconv.ParseInt(raw, 10, 64)
	case reflect.String:
		return raw, nil
	default:
		return nil, errors.Errorf("unsupported attribute kind %s", kind)
	}
}
