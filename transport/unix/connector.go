package unix

import (
	"net"

	"github.com/diegose/limitd-go/common"
	"github.com/diegose/limitd-go/transport"
)

// clientConnector implements the IConnector interface for Unix sockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "unix"
}

func (c *clientConnector) Connect(address string) (net.Conn, error) {
	return net.Dial("unix", address)
}

// UpgradeConnection applies socket buffer settings where the platform
// supports them for Unix domain sockets
func (c *clientConnector) UpgradeConnection(conn net.Conn, conf common.SocketConf) error {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}

	if conf.WriteBufferSize > 0 {
		if err := unixConn.SetWriteBuffer(conf.WriteBufferSize); err != nil {
			return err
		}
	}

	if conf.ReadBufferSize > 0 {
		if err := unixConn.SetReadBuffer(conf.ReadBufferSize); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Connector Factory Method
// --------------------------------------------------------------------------

// NewConnector creates a new Unix socket connector
func NewConnector() transport.IConnector {
	return &clientConnector{}
}
