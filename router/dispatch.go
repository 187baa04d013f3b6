package router

import (
	"fmt"

	"github.com/fabricdb/qfabric/wire"
)

// sendTo serializes pkgType/v and writes it to c's connection, marking
// c aborted on failure (spec.md §7 "send failure"; grounded on
// TCPServer.cpp's sendTo).
func sendTo(c *ClientInfo, pkgType wire.PackageType, v any) error {
	payload, err := wire.EncodePayload(v)
	if err != nil {
		return err
	}
	meta := wire.Meta{PackageType: pkgType, TgtUUID: c.UUID}
	if _, err := c.Conn.Write(wire.Encode(meta, payload, false)); err != nil {
		c.markAborted()
		return err
	}
	return nil
}

// Forward sends work to tgtUUID if it is set and registered, or
// otherwise to a random client of unitType (spec.md §4.9
// "Forwarding"). A send failure removes the failed client and returns
// the error; it does not retry against a different client, since an
// explicit tgtUUID forward has no fallback target and the random-pick
// case already chose uniformly among the live set.
func (r *Registry) Forward(unitType wire.UnitType, tgtUUID uint64, work wire.Work) error {
	var c *ClientInfo
	if tgtUUID != 0 {
		c = r.ByUUID(tgtUUID)
		if c == nil {
			return fmt.Errorf("router: forward target %d not registered", tgtUUID)
		}
	} else {
		c = r.AnyOfType(unitType)
		if c == nil {
			return fmt.Errorf("router: no client of type %v connected", unitType)
		}
	}
	if err := sendTo(c, wire.PkgWork, work); err != nil {
		r.Remove(c.UUID)
		return err
	}
	return nil
}

// Reroute sends work to a random client of unitType other than
// originalUUID (spec.md §4.9 "Reroute", §8 invariant 6: reroute never
// sends back to the original uuid).
func (r *Registry) Reroute(unitType wire.UnitType, originalUUID uint64, work wire.RerouteWork) error {
	c := r.AnyOtherOfType(unitType, originalUUID)
	if c == nil {
		return fmt.Errorf("router: no other client of type %v to reroute to", unitType)
	}
	if err := sendTo(c, wire.PkgRerouteWork, work); err != nil {
		r.Remove(c.UUID)
		return err
	}
	return nil
}

// BroadcastText sends a TextMsg to every connected, non-aborted
// client.
func (r *Registry) BroadcastText(text string) {
	r.Broadcast(func(c *ClientInfo) error {
		return sendTo(c, wire.PkgText, wire.TextMsg{Text: text})
	})
}

// DispatchQueryGroup sends msg to the compute unit chosen round-robin
// (groupIdx mod |connected compute units|) from the currently
// connected set (spec.md §4.8 Dispatch step 4). The open question in
// spec.md §9 about a better-than-round-robin policy under skewed
// groups is left unresolved, per DESIGN.md: the spec explicitly
// declines to prescribe one.
func (r *Registry) DispatchQueryGroup(groupIdx int, msg wire.QueryGroupMsg) error {
	clients := r.snapshotType(wire.UnitComputeUnit)
	if len(clients) == 0 {
		return fmt.Errorf("router: no compute units connected")
	}
	c := clients[groupIdx%len(clients)]
	if err := sendTo(c, wire.PkgQueryGroup, msg); err != nil {
		r.Remove(c.UUID)
		return err
	}
	return nil
}
