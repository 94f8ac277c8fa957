package proxysvc

import (
	"fmt"
	"strconv"
	"strings"
)

// Spec is a parsed --proxy argument: which local port to bind, and,
// optionally, a literal upstream host:port. When Upstream is empty the
// supervisor recovers the original destination per accepted socket instead.
type Spec struct {
	LocalPort int
	Upstream  string
}

// ParseSpec parses the proxy-spec grammar: "local" or "local:host:port".
// local is always bound on 0.0.0.0; the upstream host:port, when present,
// is taken literally.
func ParseSpec(s string) (Spec, error) {
	first, rest, hasRest := strings.Cut(s, ":")

	port, err := strconv.Atoi(first)
	if err != nil {
		return Spec{}, fmt.Errorf("proxysvc: invalid proxy spec %q: local port must be numeric", s)
	}
	if port <= 0 || port > 65535 {
		return Spec{}, fmt.Errorf("proxysvc: invalid proxy spec %q: local port out of range", s)
	}

	if !hasRest {
		return Spec{LocalPort: port}, nil
	}
	if rest == "" {
		return Spec{}, fmt.Errorf("proxysvc: invalid proxy spec %q: missing upstream host:port", s)
	}
	if !strings.Contains(rest, ":") {
		return Spec{}, fmt.Errorf("proxysvc: invalid proxy spec %q: upstream must be host:port", s)
	}

	return Spec{LocalPort: port, Upstream: rest}, nil
}

// BindAddr is the literal address to Listen on: always 0.0.0.0:LocalPort.
func (s Spec) BindAddr() string {
	return fmt.Sprintf("0.0.0.0:%d", s.LocalPort)
}
