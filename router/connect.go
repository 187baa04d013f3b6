package router

import (
	"fmt"
	"net"
	"time"

	"github.com/fabricdb/qfabric/wire"
)

// handshakeTimeout is spec.md §4.9's "2-second receive timeout".
const handshakeTimeout = 2 * time.Second

// readFrame reads from conn, feeding a StreamParser, until exactly one
// frame is available or the deadline passes. It is the receive half
// of the connect handshake; the steady-state receiver loop
// (Router.receiveLoop) reads with its own parser in a loop instead of
// one-shot.
func readFrame(conn net.Conn, parser *wire.StreamParser, timeout time.Duration) (wire.Frame, error) {
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

func sendPackage(conn net.Conn, pkgType wire.PackageType, v any) error {
	var payload []byte
	if v != nil {
		p, err := wire.EncodePayload(v)
		if err != nil {
			return err
		}
		payload = p
	}
	_, err := conn.Write(wire.Encode(wire.Meta{PackageType: pkgType}, payload, false))
	return err
}

// Handshake performs spec.md §4.9's connect sequence on a freshly
// accepted connection:
//  1. Send UpdateUnitType with a 2-second receive timeout.
//  2. Parse the ConnectInfo reply; if its UUID collides with an
//     already-registered client, send UuidCollision and retry (same
//     timeout) until a unique UUID is produced.
//
// On success it returns a ClientInfo ready for reg.Add; the caller is
// responsible for installing it and spawning its receive loop.
func Handshake(conn net.Conn, reg *Registry) (*ClientInfo, error) {
	parser := wire.NewStreamParser(false)

	if err := sendPackage(conn, wire.PkgUpdateUnitType, nil); err != nil {
		return nil, fmt.Errorf("router: sending UpdateUnitType: %w", err)
	}

	for {
		frame, err := readFrame(conn, parser, handshakeTimeout)
		if err != nil {
			return nil, fmt.Errorf("router: waiting for ConnectInfo: %w", err)
		}
		if frame.Meta.PackageType != wire.PkgConnectInfo {
			return nil, fmt.Errorf("router: handshake expected ConnectInfo, got package type %d", frame.Meta.PackageType)
		}
		var info wire.ConnectInfo
		if err := wire.DecodePayload(frame.Payload, &info); err != nil {
			return nil, fmt.Errorf("router: decoding ConnectInfo: %w", err)
		}

		if !reg.HasUUID(info.UUID) {
			return &ClientInfo{
				Conn:       conn,
				UnitType:   info.UnitType,
				UUID:       info.UUID,
				PrettyName: info.PrettyName,
			}, nil
		}

		if err := sendPackage(conn, wire.PkgUuidCollision, nil); err != nil {
			return nil, fmt.Errorf("router: sending UuidCollision: %w", err)
		}
	}
}
