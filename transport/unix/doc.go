// Package unix implements the transport connector for Unix domain sockets.
// It avoids the TCP stack for clients running on the same host as the
// rate-limiting server.
package unix
