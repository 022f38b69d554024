// Package tcp implements the transport connector for TCP sockets.
// It is the default transport for talking to a remote rate-limiting server
// and supports socket tuning (TCP_NODELAY, keepalive, linger, buffer sizes)
// through the shared SocketConf parameters.
package tcp
