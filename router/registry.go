// Package router implements the front-end of spec.md §4.9: a typed
// client registry keyed by uuid and by unit type, the connect
// handshake (UpdateUnitType + UuidCollision retry), and
// forward/broadcast/reroute over the wire protocol. Grounded on
// original_source/grouper/include/TCPServer.hpp and
// grouper/src/TCPServer.cpp's ClientInfo/clientMap/clientUuidMap
// design.
package router

import (
	"math/rand"
	"net"
	"sync"
	"sync/atomic"

	"github.com/fabricdb/qfabric/wire"
)

// ClientInfo is a connected client's registry entry. The C++
// ClientInfo guards its abort flag with std::atomic<bool>; Go's
// sync/atomic.Bool is the direct equivalent.
type ClientInfo struct {
	Conn       net.Conn
	UnitType   wire.UnitType
	UUID       uint64
	PrettyName string

	aborted atomic.Bool
}

// Aborted reports whether a send to this client has already failed.
func (c *ClientInfo) Aborted() bool { return c.aborted.Load() }

// markAborted flips the abort flag; safe to call more than once.
func (c *ClientInfo) markAborted() { c.aborted.Store(true) }

// Registry is the router's client-tracking table: uuid->ClientInfo and
// unit_type->[]ClientInfo (spec.md §4.9/§5). spec.md asks for a
// recursive mutex because a broadcast may recurse into client removal
// on a send failure; Go has no recursive mutex. Broadcast/BroadcastToType
// instead collect the uuids of clients whose send failed while holding
// the lock only to snapshot the client list, then remove them in a
// second pass after the lock is released — no recursion needed, same
// end state spec.md's design achieves.
type Registry struct {
	mu     sync.Mutex
	byUUID map[uint64]*ClientInfo
	byType map[wire.UnitType][]*ClientInfo
}

// NewRegistry creates an empty client registry.
func NewRegistry() *Registry {
	return &Registry{
		byUUID: make(map[uint64]*ClientInfo),
		byType: make(map[wire.UnitType][]*ClientInfo),
	}
}

// Add installs a client under both indexes. It returns false if uuid
// is already registered; callers should resolve uuid collisions during
// the connect handshake (see Handshake) before calling Add.
func (r *Registry) Add(c *ClientInfo) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byUUID[c.UUID]; exists {
		return false
	}
	r.byUUID[c.UUID] = c
	r.byType[c.UnitType] = append(r.byType[c.UnitType], c)
	return true
}

// HasUUID reports whether uuid is currently registered; used by the
// connect handshake's collision-retry loop.
func (r *Registry) HasUUID(uuid uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byUUID[uuid]
	return ok
}

// Remove drops a client from both indexes. A no-op if uuid is absent.
func (r *Registry) Remove(uuid uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(uuid)
}

func (r *Registry) removeLocked(uuid uint64) {
	c, ok := r.byUUID[uuid]
	if !ok {
		return
	}
	delete(r.byUUID, uuid)
	list := r.byType[c.UnitType]
	for i, cc := range list {
		if cc.UUID == uuid {
			r.byType[c.UnitType] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// ByUUID returns the client registered under uuid, or nil.
func (r *Registry) ByUUID(uuid uint64) *ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byUUID[uuid]
}

// AnyOfType returns a random non-aborted client of the given type, or
// nil if none are connected.
func (r *Registry) AnyOfType(t wire.UnitType) *ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return pickFrom(r.byType[t], 0, false)
}

// AnyOtherOfType returns a random non-aborted client of the given type
// other than exclude (spec.md §8 invariant 6: reroute never sends back
// to the original uuid). Returns nil if exclude is the only client of
// that type, or none are connected.
func (r *Registry) AnyOtherOfType(t wire.UnitType, exclude uint64) *ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return pickFrom(r.byType[t], exclude, true)
}

func pickFrom(list []*ClientInfo, exclude uint64, excludeSet bool) *ClientInfo {
	if len(list) == 0 {
		return nil
	}
	start := rand.Intn(len(list))
	for i := 0; i < len(list); i++ {
		c := list[(start+i)%len(list)]
		if c.Aborted() {
			continue
		}
		if excludeSet && c.UUID == exclude {
			continue
		}
		return c
	}
	return nil
}

// Count returns the total number of registered clients.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUUID)
}

// CountOfType returns how many clients of type t are registered,
// aborted or not.
func (r *Registry) CountOfType(t wire.UnitType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byType[t])
}

// snapshotAll returns a defensive copy of every registered client.
func (r *Registry) snapshotAll() []*ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ClientInfo, 0, len(r.byUUID))
	for _, c := range r.byUUID {
		out = append(out, c)
	}
	return out
}

// snapshotType returns a defensive copy of the clients of type t.
func (r *Registry) snapshotType(t wire.UnitType) []*ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*ClientInfo(nil), r.byType[t]...)
}

// UUIDsOfType returns the uuids of every currently registered client of
// type t, in the same order DispatchQueryGroup's round-robin pick sees
// them. cmd/router uses this to build grouper.Analyze's cuTargets
// argument from the live compute-unit set.
func (r *Registry) UUIDsOfType(t wire.UnitType) []uint64 {
	clients := r.snapshotType(t)
	out := make([]uint64, len(clients))
	for i, c := range clients {
		out[i] = c.UUID
	}
	return out
}

// Broadcast calls send for every registered, non-aborted client.
// Clients whose send fails are marked aborted and removed from the
// registry once the scan completes (spec.md §7 "send failure").
func (r *Registry) Broadcast(send func(*ClientInfo) error) {
	r.broadcast(r.snapshotAll(), send)
}

// BroadcastToType is Broadcast restricted to one unit type.
func (r *Registry) BroadcastToType(t wire.UnitType, send func(*ClientInfo) error) {
	r.broadcast(r.snapshotType(t), send)
}

func (r *Registry) broadcast(clients []*ClientInfo, send func(*ClientInfo) error) {
	var failed []uint64
	for _, c := range clients {
		if c.Aborted() {
			continue
		}
		if err := send(c); err != nil {
			c.markAborted()
			failed = append(failed, c.UUID)
		}
	}
	if len(failed) == 0 {
		return
	}
	r.mu.Lock()
	for _, uuid := range failed {
		r.removeLocked(uuid)
	}
	r.mu.Unlock()
}
