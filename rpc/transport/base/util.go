package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

const (
	// frameHeaderSize is shardId (8) + requestID (8) + payload length (4)
	frameHeaderSize = 20

	// MaxFrameSize is the largest payload accepted from the wire. Result sets of
	// a single fetch travel in one frame, so this is generous.
	MaxFrameSize = 64 << 20
)

// writeFrame writes one frame: shardId and requestID as big endian uint64,
// the payload length as big endian uint32, then the payload.
func writeFrame(conn net.Conn, shardID uint64, requestID uint64, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds the limit of %d bytes", len(data), MaxFrameSize)
	}

	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint64(header[0:8], shardID)
	binary.BigEndian.PutUint64(header[8:16], requestID)
	binary.BigEndian.PutUint32(header[16:20], uint32(len(data)))

	b := net.Buffers{header[:], data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads one frame written by writeFrame.
// buf is reused for the payload when it is large enough, so the returned slice is
// only valid until the next call with the same buffer.
func readFrame(conn net.Conn, buf []byte) (shardID uint64, requestID uint64, data []byte, err error) {
	var header [frameHeaderSize]byte
	if _, err = io.ReadFull(conn, header[:]); err != nil {
		return 0, 0, nil, err
	}

	shardID = binary.BigEndian.Uint64(header[0:8])
	requestID = binary.BigEndian.Uint64(header[8:16])
	n := binary.BigEndian.Uint32(header[16:20])

	if n > MaxFrameSize {
		// the stream is out of sync or not ours, nothing after this can be trusted
		return 0, 0, nil, fmt.Errorf("frame of %d bytes exceeds the limit of %d bytes", n, MaxFrameSize)
	}
	if n == 0 {
		return shardID, requestID, []byte{}, nil
	}

	if len(buf) < int(n) {
		buf = make([]byte, n)
	}
	if _, err = io.ReadFull(conn, buf[:n]); err != nil {
		return 0, 0, nil, err
	}
	return shardID, requestID, buf[:n], nil
}
