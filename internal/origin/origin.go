// Package origin parses browser Origin headers and decides which of them may
// reach the chat relay's REST and WebSocket endpoints.
package origin

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

var ErrInvalid = errors.New("invalid origin")

// Origin is a parsed http or https origin. Opaque marks the literal "null"
// origin sent by sandboxed documents and file:// pages.
type Origin struct {
	Scheme string
	// Host is lower-case; IPv6 literals carry no brackets.
	Host string
	// Port is zero when it is the scheme's default.
	Port   uint16
	Opaque bool
}

// Parse accepts exactly scheme://host[:port] with an optional trailing slash,
// or "null".
func Parse(header string) (Origin, error) {
	raw := strings.TrimSpace(header)
	switch raw {
	case "":
		return Origin{}, ErrInvalid
	case "null":
		return Origin{Opaque: true}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Origin{}, ErrInvalid
	}
	if u.Opaque != "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" || u.ForceQuery {
		return Origin{}, ErrInvalid
	}
	if u.Path != "" && u.Path != "/" {
		return Origin{}, ErrInvalid
	}

	o, ok := parseAuthority(strings.ToLower(u.Scheme), u.Host)
	if !ok {
		return Origin{}, ErrInvalid
	}
	return o, nil
}

// String renders the serialized origin, dropping default ports.
func (o Origin) String() string {
	if o.Opaque {
		return "null"
	}
	return o.Scheme + "://" + o.authority()
}

func (o Origin) authority() string {
	host := o.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if o.Port != 0 {
		host += ":" + strconv.FormatUint(uint64(o.Port), 10)
	}
	return host
}

func parseAuthority(scheme, authority string) (Origin, bool) {
	if scheme != "http" && scheme != "https" {
		return Origin{}, false
	}

	host, port := authority, ""
	if h, p, err := net.SplitHostPort(authority); err == nil {
		if p == "" {
			return Origin{}, false
		}
		host, port = h, p
	} else if strings.HasPrefix(authority, "[") && strings.HasSuffix(authority, "]") {
		host = authority[1 : len(authority)-1]
	} else if strings.ContainsAny(authority, ":[]") {
		return Origin{}, false
	}
	// Zone identifiers never appear in browser origins.
	if host == "" || strings.Contains(host, "%") {
		return Origin{}, false
	}

	o := Origin{Scheme: scheme, Host: strings.ToLower(host)}
	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return Origin{}, false
		}
		o.Port = uint16(n)
	}
	if (scheme == "http" && o.Port == 80) || (scheme == "https" && o.Port == 443) {
		o.Port = 0
	}
	return o, true
}

// Policy decides which origins may call the relay.
//
// A non-empty AllowedOrigins is authoritative; entries are serialized origins
// or "*". An empty list admits only origins naming the request's own host and
// port. Schemes are not compared, so TLS terminated in front of the relay
// still counts as same-host.
type Policy struct {
	AllowedOrigins []string
}

func (p Policy) Allows(o Origin, requestHost string) bool {
	if len(p.AllowedOrigins) > 0 {
		serialized := o.String()
		for _, allowed := range p.AllowedOrigins {
			if allowed == "*" || allowed == serialized {
				return true
			}
		}
		return false
	}
	if o.Opaque {
		return false
	}
	req, ok := parseAuthority(o.Scheme, strings.TrimSpace(requestHost))
	return ok && req.Host == o.Host && req.Port == o.Port
}

// Check returns the serialized Origin of r and whether the policy admits it.
// A request without an Origin header is not a browser cross-origin request
// and is admitted with an empty origin.
func (p Policy) Check(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Origin"))
	if header == "" {
		return "", true
	}
	o, err := Parse(header)
	if err != nil {
		return "", false
	}
	return o.String(), p.Allows(o, r.Host)
}

// CheckOrigin has the signature websocket.Upgrader expects.
func (p Policy) CheckOrigin(r *http.Request) bool {
	_, ok := p.Check(r)
	return ok
}
