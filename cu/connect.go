package cu

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/fabricdb/qfabric/wire"
)

// handshakeTimeout mirrors router.Handshake's receive timeout
// (spec.md §4.9: "a 2-second receive timeout").
const handshakeTimeout = 2 * time.Second

// Connect dials addr and runs the client side of spec.md §4.9's
// connect sequence: wait for UpdateUnitType, reply with a
// self-chosen ConnectInfo, and retry with a freshly chosen UUID each
// time the router answers UuidCollision.
//
// Grounded on original_source/computeUnit/ComputeUnit.cpp's connect
// loop; the self-chosen UUID is the first 8 bytes of a random UUIDv4
// (github.com/google/uuid), since the original leaves the
// exact id-space unspecified beyond "random 64-bit".
func Connect(addr string, unitType wire.UnitType, prettyName string) (net.Conn, uint64, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, 0, fmt.Errorf("cu: dialing %s: %w", addr, err)
	}

	parser := wire.NewStreamParser(false)
	frame, err := readHandshakeFrame(conn, parser, handshakeTimeout)
	if err != nil {
		conn.Close()
		return nil, 0, fmt.Errorf("cu: waiting for UpdateUnitType: %w", err)
	}
	if frame.Meta.PackageType != wire.PkgUpdateUnitType {
		conn.Close()
		return nil, 0, fmt.Errorf("cu: expected UpdateUnitType, got package type %d", frame.Meta.PackageType)
	}

	for {
		id := newClientUUID()
		info := wire.ConnectInfo{UUID: id, UnitType: unitType, PrettyName: prettyName}
		if err := sendConnectInfo(conn, info); err != nil {
			conn.Close()
			return nil, 0, fmt.Errorf("cu: sending ConnectInfo: %w", err)
		}

		// The router sends UuidCollision only when it must retry;
		// acceptance is silent. A read timeout with no frame therefore
		// means the uuid was accepted, not a failure (spec.md §4.9's
		// "2-second receive timeout" is how the router's own
		// connect-handshake collision retry is bounded, and the client
		// side uses the same bound to recognize "no collision
		// message arrived").
		reply, err := readHandshakeFrame(conn, parser, handshakeTimeout)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return conn, id, nil
			}
			conn.Close()
			return nil, 0, fmt.Errorf("cu: waiting for handshake result: %w", err)
		}
		if reply.Meta.PackageType == wire.PkgUuidCollision {
			continue
		}
		return conn, id, nil
	}
}

func newClientUUID() uint64 {
	u := uuid.New()
	var v uint64
	for _, b := range u[:8] {
		v = v<<8 | uint64(b)
	}
	return v
}

func sendConnectInfo(conn net.Conn, info wire.ConnectInfo) error {
	payload, err := wire.EncodePayload(info)
	if err != nil {
		return err
	}
	_, err = conn.Write(wire.Encode(wire.Meta{PackageType: wire.PkgConnectInfo}, payload, false))
	return err
}

func readHandshakeFrame(conn net.Conn, parser *wire.StreamParser, timeout time.Duration) (wire.Frame, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 64*1024)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return wire.Frame{}, err
		}
		n, err := conn.Read(buf)
		if n > 0 {
			frames, _ := parser.Feed(buf[:n])
			if len(frames) > 0 {
				return frames[0], nil
			}
		}
		if err != nil {
			return wire.Frame{}, err
		}
	}
}
