package router

import (
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/fabricdb/qfabric/wire"
)

// Handler processes one decoded frame from an established client
// connection. Implementations type-switch on frame.Meta.PackageType
// and decode the payload with wire.DecodePayload.
type Handler func(c *ClientInfo, frame wire.Frame)

// Router accepts connections, runs the connect handshake, and spawns
// one receiver goroutine per client. Grounded on
// original_source/grouper/src/TCPServer.cpp's acceptLoop plus
// clientInfoReceiveCallback, condensed onto Go's net package (no
// manual poll/recv loop needed).
type Router struct {
	Registry *Registry
	Logger   *log.Logger
	Handle   Handler

	// pollTimeout bounds how long a receiver goroutine blocks on a
	// single read before re-checking for shutdown, mirroring the
	// original receiver's 200ms poll loop (spec.md §5).
	pollTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// NewRouter creates a Router ready to Serve. handle processes frames
// from established clients; it runs on each client's own receiver
// goroutine, so it must not block indefinitely.
func NewRouter(logger *log.Logger, handle Handler) *Router {
	return &Router{
		Registry:    NewRegistry(),
		Logger:      logger,
		Handle:      handle,
		pollTimeout: 200 * time.Millisecond,
	}
}

// Serve accepts connections on l until Close is called. Each
// connection is handled on its own goroutine, which runs the connect
// handshake (spec.md §4.9 steps 1-2) and then becomes that client's
// receive loop (step 3).
func (r *Router) Serve(l net.Listener) error {
	r.mu.Lock()
	r.listener = l
	r.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			r.mu.Lock()
			closed := r.closed
			r.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		go r.accept(conn)
	}
}

func (r *Router) accept(conn net.Conn) {
	client, err := Handshake(conn, r.Registry)
	if err != nil {
		if r.Logger != nil {
			r.Logger.Printf("router: handshake failed: %v", err)
		}
		conn.Close()
		return
	}
	if !r.Registry.Add(client) {
		if r.Logger != nil {
			r.Logger.Printf("router: uuid %d registered concurrently, dropping duplicate connection", client.UUID)
		}
		conn.Close()
		return
	}
	if r.Logger != nil {
		r.Logger.Printf("router: registered unit_type=%v %q uuid=%d", client.UnitType, client.PrettyName, client.UUID)
	}
	r.receiveLoop(client)
}

// receiveLoop reads frames from client until the connection errs or
// the router is closed, dispatching each to Handle. A finite read
// deadline (pollTimeout) lets the loop notice shutdown without relying
// on the peer to close its side first.
func (r *Router) receiveLoop(client *ClientInfo) {
	parser := wire.NewStreamParser(false)
	buf := make([]byte, 64*1024)
	defer func() {
		client.markAborted()
		r.Registry.Remove(client.UUID)
		client.Conn.Close()
	}()

	for {
		r.mu.Lock()
		closed := r.closed
		r.mu.Unlock()
		if closed || client.Aborted() {
			return
		}

		client.Conn.SetReadDeadline(time.Now().Add(r.pollTimeout))
		n, err := client.Conn.Read(buf)
		if n > 0 {
			frames, _ := parser.Feed(buf[:n])
			for _, f := range frames {
				if r.Handle != nil {
					r.Handle(client, f)
				}
			}
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return
		}
	}
}

// Close stops the accept loop. Each connected client's receive loop
// notices the close at its next poll (within pollTimeout), then drops
// the client from the registry and closes its connection.
func (r *Router) Close() error {
	r.mu.Lock()
	r.closed = true
	l := r.listener
	r.mu.Unlock()
	if l != nil {
		return l.Close()
	}
	return nil
}
