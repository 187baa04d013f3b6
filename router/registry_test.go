package router

import (
	"net"
	"testing"

	"github.com/fabricdb/qfabric/wire"
)

func newTestClient(t *testing.T, uuid uint64, unitType wire.UnitType) (*ClientInfo, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { clientSide.Close() })
	return &ClientInfo{Conn: serverSide, UUID: uuid, UnitType: unitType, PrettyName: "test"}, clientSide
}

func TestRegistryAddRejectsDuplicateUUID(t *testing.T) {
	reg := NewRegistry()
	c1, _ := newTestClient(t, 1, wire.UnitComputeUnit)
	c2, _ := newTestClient(t, 1, wire.UnitComputeUnit)

	if !reg.Add(c1) {
		t.Fatal("first Add should succeed")
	}
	if reg.Add(c2) {
		t.Fatal("second Add with the same uuid should fail")
	}
	if reg.Count() != 1 {
		t.Fatalf("count = %d, want 1", reg.Count())
	}
}

func TestRegistryRemoveDropsBothIndexes(t *testing.T) {
	reg := NewRegistry()
	c, _ := newTestClient(t, 1, wire.UnitComputeUnit)
	reg.Add(c)
	reg.Remove(1)

	if reg.ByUUID(1) != nil {
		t.Fatal("client should be gone from byUUID")
	}
	if reg.CountOfType(wire.UnitComputeUnit) != 0 {
		t.Fatal("client should be gone from byType")
	}
}

func TestAnyOtherOfTypeExcludesOriginal(t *testing.T) {
	reg := NewRegistry()
	a, _ := newTestClient(t, 1, wire.UnitComputeUnit)
	b, _ := newTestClient(t, 2, wire.UnitComputeUnit)
	reg.Add(a)
	reg.Add(b)

	for i := 0; i < 20; i++ {
		picked := reg.AnyOtherOfType(wire.UnitComputeUnit, 1)
		if picked == nil || picked.UUID == 1 {
			t.Fatalf("AnyOtherOfType(exclude=1) returned %v, must never return the excluded uuid", picked)
		}
	}
}

func TestAnyOtherOfTypeReturnsNilWhenOnlyExcludedRemains(t *testing.T) {
	reg := NewRegistry()
	a, _ := newTestClient(t, 1, wire.UnitComputeUnit)
	reg.Add(a)

	if got := reg.AnyOtherOfType(wire.UnitComputeUnit, 1); got != nil {
		t.Fatalf("expected nil when the only client of type is the excluded one, got %v", got)
	}
}

func TestBroadcastSkipsAbortedClients(t *testing.T) {
	reg := NewRegistry()
	a, _ := newTestClient(t, 1, wire.UnitComputeUnit)
	a.markAborted()
	b, _ := newTestClient(t, 2, wire.UnitComputeUnit)
	reg.Add(a)
	reg.Add(b)

	var delivered []uint64
	reg.Broadcast(func(c *ClientInfo) error {
		delivered = append(delivered, c.UUID)
		return nil
	})

	if len(delivered) != 1 || delivered[0] != 2 {
		t.Fatalf("delivered = %v, want only uuid 2 (1 is aborted)", delivered)
	}
}

func TestBroadcastRemovesClientsThatFailToSend(t *testing.T) {
	reg := NewRegistry()
	a, _ := newTestClient(t, 1, wire.UnitComputeUnit)
	b, _ := newTestClient(t, 2, wire.UnitComputeUnit)
	reg.Add(a)
	reg.Add(b)

	reg.Broadcast(func(c *ClientInfo) error {
		if c.UUID == 1 {
			return net.ErrClosed
		}
		return nil
	})

	if reg.ByUUID(1) != nil {
		t.Fatal("client 1 should have been removed after a failed send")
	}
	if reg.ByUUID(2) == nil {
		t.Fatal("client 2 should still be registered")
	}
}
