package common

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	// DefaultPort is used when an endpoint omits the port
	DefaultPort = 9231

	// DefaultTimeout bounds how long a single request may stay outstanding
	DefaultTimeout = 5 * time.Second

	// DefaultRetryMinTimeout is the first reconnect backoff delay
	DefaultRetryMinTimeout = 200 * time.Millisecond

	// DefaultRetryMaxTimeout caps the reconnect backoff delay
	DefaultRetryMaxTimeout = 30 * time.Second

	// DefaultProtocolVersion is written into every frame header
	DefaultProtocolVersion = 1
)

// --------------------------------------------------------------------------
// Client configuration structs
// --------------------------------------------------------------------------

// RetryConfig controls the reconnect backoff policy. When Disabled is set a
// single failed connection attempt is terminal for the client instance.
type RetryConfig struct {
	Disabled   bool
	MinTimeout time.Duration
	MaxTimeout time.Duration
}

// ShardConfig holds the endpoints of independent server shards. When present
// the client routes each bucket key to exactly one shard.
type ShardConfig struct {
	Endpoints []string
}

// SocketConf holds transport-level socket tuning parameters.
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// ClientConfig holds all configuration parameters for a client instance.
type ClientConfig struct {
	// Endpoints of a single logical server. With more than one entry,
	// reconnect attempts rotate through them (failover, not sharding).
	Endpoints []string

	// Shard, when non-nil, switches the client into sharded mode
	Shard *ShardConfig

	// Per-request deadline
	Timeout time.Duration

	// Reconnect policy
	Retry RetryConfig

	// ProtocolVersion tags every frame on the wire
	ProtocolVersion uint8

	// Socket tuning
	Socket SocketConf
}

// WithDefaults returns a copy of the configuration with zero values replaced
// by defaults.
func (c ClientConfig) WithDefaults() ClientConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retry.MinTimeout <= 0 {
		c.Retry.MinTimeout = DefaultRetryMinTimeout
	}
	if c.Retry.MaxTimeout <= 0 {
		c.Retry.MaxTimeout = DefaultRetryMaxTimeout
	}
	if c.ProtocolVersion == 0 {
		c.ProtocolVersion = DefaultProtocolVersion
	}
	return c
}

// String returns a formatted string representation of the configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Timeout", c.Timeout.String())
	if c.Retry.Disabled {
		addField("Retry", "disabled")
	} else {
		addField("Retry Min Timeout", c.Retry.MinTimeout.String())
		addField("Retry Max Timeout", c.Retry.MaxTimeout.String())
	}
	addField("Protocol Version", strconv.Itoa(int(c.ProtocolVersion)))

	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	if c.Shard != nil {
		addSection("Shards")
		for i, endpoint := range c.Shard.Endpoints {
			addField(strconv.Itoa(i), endpoint)
		}
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// Endpoint parsing
// --------------------------------------------------------------------------

// Endpoint is a parsed endpoint string. Endpoint strings follow
// scheme://host[:port][?retry=...&timeout=...] with schemes "limitd" and
// "tcp" (TCP, default port 9231) and "unix" (socket path). A bare host[:port]
// is treated as TCP.
type Endpoint struct {
	Network string // "tcp" or "unix"
	Address string // host:port, or socket path for unix

	// Per-endpoint overrides from the query string
	Retry   *bool         // nil = inherit from ClientConfig
	Timeout time.Duration // 0 = inherit from ClientConfig
}

// ParseEndpoint parses a single endpoint string.
func ParseEndpoint(raw string) (Endpoint, error) {
	if raw == "" {
		return Endpoint{}, fmt.Errorf("empty endpoint")
	}

	// Bare host[:port] without a scheme
	if !strings.Contains(raw, "://") {
		return Endpoint{Network: "tcp", Address: withDefaultPort(raw)}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %v", raw, err)
	}

	ep := Endpoint{}
	switch u.Scheme {
	case "limitd", "tcp":
		ep.Network = "tcp"
		ep.Address = withDefaultPort(u.Host)
	case "unix":
		ep.Network = "unix"
		ep.Address = u.Path
		if ep.Address == "" {
			ep.Address = u.Opaque
		}
	default:
		return Endpoint{}, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}

	if ep.Address == "" {
		return Endpoint{}, fmt.Errorf("endpoint %q has no address", raw)
	}

	// Query parameter overrides
	q := u.Query()
	if v := q.Get("retry"); v != "" {
		retry, err := strconv.ParseBool(v)
		if err != nil {
			return Endpoint{}, fmt.Errorf("invalid retry value %q in endpoint %q", v, raw)
		}
		ep.Retry = &retry
	}
	if v := q.Get("timeout"); v != "" {
		timeout, err := parseTimeout(v)
		if err != nil {
			return Endpoint{}, fmt.Errorf("invalid timeout value %q in endpoint %q", v, raw)
		}
		ep.Timeout = timeout
	}

	return ep, nil
}

// ParseEndpoints parses a list of endpoint strings and requires at least one.
func ParseEndpoints(raw []string) ([]Endpoint, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("no endpoints provided")
	}
	endpoints := make([]Endpoint, 0, len(raw))
	for _, r := range raw {
		ep, err := ParseEndpoint(r)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// withDefaultPort appends the default port to a host that has none.
func withDefaultPort(host string) string {
	if host == "" {
		return host
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(DefaultPort))
}

// parseTimeout accepts a Go duration string or a bare integer in milliseconds.
func parseTimeout(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		if ms <= 0 {
			return 0, fmt.Errorf("timeout must be positive")
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive")
	}
	return d, nil
}
