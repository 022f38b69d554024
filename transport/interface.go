package transport

import (
	"net"

	"github.com/diegose/limitd-go/common"
)

// IConnector abstracts the transport-specific connection operations so the
// connection supervisor stays independent of the socket type.
type IConnector interface {
	// Connect establishes a single connection to the given address
	Connect(address string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, conf common.SocketConf) error
}
