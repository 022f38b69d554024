// Package transport abstracts the byte-stream connection underneath the
// client. The IConnector interface covers dialing and socket tuning; framing
// and request correlation live in the client package, which works the same
// way over any connector.
//
// Implementations:
//
//   - tcp: TCP sockets with optional TCP_NODELAY, keepalive, linger and
//     buffer-size tuning
//   - unix: Unix domain sockets for same-host deployments
package transport
