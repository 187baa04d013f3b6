package router

import (
	"net"
	"testing"

	"github.com/fabricdb/qfabric/wire"
)

// simulatePeer plays the client side of the connect handshake: for
// each UUID in order, it waits for a request frame (UpdateUnitType or
// UuidCollision) and replies with a ConnectInfo carrying that UUID.
func simulatePeer(t *testing.T, conn net.Conn, uuids []uint64, unitType wire.UnitType, name string) {
	t.Helper()
	parser := wire.NewStreamParser(false)
	buf := make([]byte, 4096)
	for i, uuid := range uuids {
		n, err := conn.Read(buf)
		if err != nil {
			t.Errorf("simulatePeer: read %d failed: %v", i, err)
			return
		}
		frames, _ := parser.Feed(buf[:n])
		if len(frames) == 0 {
			t.Errorf("simulatePeer: no frame decoded at step %d", i)
			return
		}
		payload, err := wire.EncodePayload(wire.ConnectInfo{UUID: uuid, UnitType: unitType, PrettyName: name})
		if err != nil {
			t.Errorf("simulatePeer: encoding ConnectInfo: %v", err)
			return
		}
		if _, err := conn.Write(wire.Encode(wire.Meta{PackageType: wire.PkgConnectInfo}, payload, false)); err != nil {
			t.Errorf("simulatePeer: write %d failed: %v", i, err)
			return
		}
	}
}

func TestHandshakeSucceedsOnFirstUnusedUUID(t *testing.T) {
	reg := NewRegistry()
	server, client := net.Pipe()
	defer client.Close()

	go simulatePeer(t, client, []uint64{42}, wire.UnitComputeUnit, "cu-a")

	got, err := Handshake(server, reg)
	if err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	if got.UUID != 42 || got.UnitType != wire.UnitComputeUnit || got.PrettyName != "cu-a" {
		t.Fatalf("got %+v, want uuid=42 type=ComputeUnit name=cu-a", got)
	}
}

func TestHandshakeRetriesOnUUIDCollision(t *testing.T) {
	reg := NewRegistry()
	existing := &ClientInfo{UUID: 7, UnitType: wire.UnitComputeUnit}
	if !reg.Add(existing) {
		t.Fatal("setup: failed to register the existing client")
	}

	server, client := net.Pipe()
	defer client.Close()

	// The peer first offers the already-taken uuid 7 twice, then a
	// fresh one; the router must retry UuidCollision each time.
	go simulatePeer(t, client, []uint64{7, 7, 99}, wire.UnitComputeUnit, "cu-b")

	got, err := Handshake(server, reg)
	if err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	if got.UUID != 99 {
		t.Fatalf("got uuid %d, want 99 after collision retries", got.UUID)
	}
}
