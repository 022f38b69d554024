package client

import (
	"encoding/binary"
	"io"
	"net"
)

// frameHeaderSize is the fixed header in front of every payload:
// - 1 byte:  protocol version
// - 8 bytes: correlation id (uint64, big endian)
// - 4 bytes: payload length (uint32, big endian)
const frameHeaderSize = 13

// writeFrame writes a single framed message to the connection
func writeFrame(conn net.Conn, version uint8, requestID uint64, data []byte) error {
	header := make([]byte, frameHeaderSize)
	header[0] = version
	binary.BigEndian.PutUint64(header[1:9], requestID)
	binary.BigEndian.PutUint32(header[9:13], uint32(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads a frame from the connection using the provided buffer.
// If the buffer is too small, a new temporary buffer is allocated for the data.
func readFrame(conn net.Conn, buf []byte) (uint8, uint64, []byte, error) {
	if buf == nil || len(buf) < frameHeaderSize {
		buf = make([]byte, frameHeaderSize)
	}

	// Read header
	if _, err := io.ReadFull(conn, buf[:frameHeaderSize]); err != nil {
		return 0, 0, nil, err
	}

	// Parse header
	version := buf[0]
	requestID := binary.BigEndian.Uint64(buf[1:9])
	contentLength := binary.BigEndian.Uint32(buf[9:13])

	if contentLength == 0 {
		return version, requestID, []byte{}, nil
	}

	if len(buf) < int(contentLength) {
		buf = make([]byte, contentLength)
	}

	if _, err := io.ReadFull(conn, buf[:contentLength]); err != nil {
		return 0, 0, nil, err
	}

	return version, requestID, buf[:contentLength], nil
}
