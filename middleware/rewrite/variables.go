package rewrite

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/go-oidfed/frontdoor/connector"
	"github.com/go-oidfed/frontdoor/internal/version"
)

// requestVariables resolves server variables from a fiber request
type requestVariables struct {
	c    *fiber.Ctx
	info *connector.RequestInfo
	now  time.Time
}

func (v requestVariables) Lookup(name string) string {
	if header, ok := strings.CutPrefix(name, "HTTP:"); ok {
		return v.c.Get(header)
	}
	switch name {
	case "REMOTE_ADDR":
		return v.info.RemoteAddr
	case "REMOTE_HOST":
		return v.info.RemoteHost
	case "REMOTE_PORT":
		if addr, ok := v.c.Context().RemoteAddr().(*net.TCPAddr); ok {
			return strconv.Itoa(addr.Port)
		}
		return ""
	case "REMOTE_USER":
		return v.info.RemoteUser
	case "AUTH_TYPE":
		return v.info.AuthType
	case "REQUEST_METHOD":
		return v.c.Method()
	case "REQUEST_URI", "REQUEST_PATH":
		return string(v.c.Request().URI().PathOriginal())
	case "REQUEST_FILENAME", "SCRIPT_FILENAME":
		return v.c.Path()
	case "QUERY_STRING":
		return string(v.c.Request().URI().QueryString())
	case "THE_REQUEST":
		return v.c.Method() + " " + v.c.OriginalURL() + " " + string(v.c.Request().Header.Protocol())
	case "SERVER_NAME":
		return v.info.ServerName
	case "SERVER_PORT":
		return strconv.Itoa(v.info.ServerPort)
	case "SERVER_PROTOCOL":
		return string(v.c.Request().Header.Protocol())
	case "SERVER_SOFTWARE":
		return version.Software()
	case "HTTPS":
		if v.info.Secure {
			return "on"
		}
		return "off"
	}
	if header, ok := strings.CutPrefix(name, "HTTP_"); ok {
		return v.c.Get(strings.ReplaceAll(header, "_", "-"))
	}
	if strings.HasPrefix(name, "TIME") {
		return timeVariable(name, v.now)
	}
	return ""
}

func timeVariable(name string, t time.Time) string {
	switch name {
	case "TIME_YEAR":
		return t.Format("2006")
	case "TIME_MON":
		return t.Format("01")
	case "TIME_DAY":
		return t.Format("02")
	case "TIME_HOUR":
		return t.Format("15")
	case "TIME_MIN":
		return t.Format("04")
	case "TIME_SEC":
		return t.Format("05")
	case "TIME_WDAY":
		return strconv.Itoa(int(t.Weekday()))
	case "TIME":
		return t.Format("20060102150405")
	}
	return ""
}
