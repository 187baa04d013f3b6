// Command router runs the front end of spec.md §4.9: it accepts
// planner and compute-unit connections, buckets incoming plans into
// window.Collections, clusters each sealed window with grouper.Analyze,
// and dispatches the resulting QueryGroups round-robin to the
// currently connected compute units.
//
// Grounded on original_source/grouper's Grouper executable and the
// teacher's cmd/snellerd flag-per-binary style (run_daemon.go).
package main

import (
	"flag"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/fabricdb/qfabric/dag"
	"github.com/fabricdb/qfabric/grouper"
	"github.com/fabricdb/qfabric/hwconfig"
	"github.com/fabricdb/qfabric/idgen"
	"github.com/fabricdb/qfabric/plan"
	"github.com/fabricdb/qfabric/router"
	"github.com/fabricdb/qfabric/wire"
	"github.com/fabricdb/qfabric/window"
)

func main() {
	fs := flag.NewFlagSet("router", flag.ExitOnError)
	port := fs.Int("port", 23232, "listen port")
	verbose := fs.Bool("v", false, "verbose logging")
	hwconfigPath := fs.String("hwconfig", "", "optional hwconfig.Config YAML file")
	fs.Parse(os.Args[1:])

	logger := log.New(os.Stderr, "", log.Lshortfile)

	hw := hwconfig.Default()
	if *hwconfigPath != "" {
		loaded, err := hwconfig.Load(*hwconfigPath)
		if err != nil {
			logger.Fatalf("router: loading hwconfig: %v", err)
		}
		hw = loaded
	}

	gen := idgen.NewGroupIDGenerator(uint64(time.Now().UnixNano()))
	schema := grouper.Schema{}

	r := router.NewRouter(logger, nil)

	analyze := func(c *window.Collection) {
		cuTargets := r.Registry.UUIDsOfType(wire.UnitComputeUnit)
		groups := grouper.Analyze(c, schema, cuTargets, hw, gen)
		for gi, g := range groups {
			msg := wire.QueryGroupMsg{
				GroupID:         g.GroupID,
				TargetCUUUID:    g.TargetCUUUID,
				ColumnTransfers: g.ColumnTransfers,
				Plans:           g.Plans,
			}
			if err := r.Registry.DispatchQueryGroup(gi, msg); err != nil {
				logger.Printf("router: dispatching group %d: %v", g.GroupID, err)
			}
		}
	}
	manager := window.NewManager(time.Duration(hw.WindowDurationMillis)*time.Millisecond, analyze)
	defer manager.Shutdown()

	r.Handle = func(c *router.ClientInfo, frame wire.Frame) {
		handleFrame(logger, r, manager, c, frame, *verbose)
	}

	addr := net.JoinHostPort("", strconv.Itoa(*port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatalf("router: listening on %s: %v", addr, err)
	}
	logger.Printf("router: listening on %s", addr)
	if err := r.Serve(l); err != nil {
		logger.Fatalf("router: serve: %v", err)
	}
}

// handleFrame decodes one frame from an established client connection.
// QueryPlan and Work frames feed their plan into manager's window, and
// a MonitorRequest is answered with a text summary of the registry.
// Every other package type, RerouteWork included, is not forwarded or
// rerouted; it is only logged when verbose is set.
func handleFrame(logger *log.Logger, r *router.Router, manager *window.Manager, c *router.ClientInfo, frame wire.Frame, verbose bool) {
	if verbose {
		logger.Printf("router: frame from uuid=%d type=%d", c.UUID, frame.Meta.PackageType)
	}
	switch frame.Meta.PackageType {
	case wire.PkgQueryPlan:
		var msg wire.QueryPlanMsg
		if err := wire.DecodePayload(frame.Payload, &msg); err != nil {
			logger.Printf("router: decoding QueryPlanMsg: %v", err)
			return
		}
		submitPlan(logger, manager, msg.Plan)

	case wire.PkgWork:
		var msg wire.Work
		if err := wire.DecodePayload(frame.Payload, &msg); err != nil {
			logger.Printf("router: decoding Work: %v", err)
			return
		}
		submitPlan(logger, manager, msg.Plan)

	case wire.PkgMonitorRequest:
		summary := wire.TextMsg{Text: monitorSummary(r)}
		payload, err := wire.EncodePayload(summary)
		if err != nil {
			logger.Printf("router: encoding monitor summary: %v", err)
			return
		}
		c.Conn.Write(wire.Encode(wire.Meta{PackageType: wire.PkgText, TgtUUID: c.UUID}, payload, false))

	default:
		if verbose {
			logger.Printf("router: unhandled package type %d from uuid=%d", frame.Meta.PackageType, c.UUID)
		}
	}
}

func submitPlan(logger *log.Logger, manager *window.Manager, p plan.Plan) {
	d, vr := dag.Build(p.Items)
	if !vr.OK() {
		logger.Printf("router: rejecting plan %d: %v", p.PlanID, vr.Errors)
		return
	}
	if len(vr.Warnings) > 0 {
		logger.Printf("router: forwarding plan %d with warnings: %v", p.PlanID, vr.Warnings)
	}
	manager.Add(d)
}

func monitorSummary(r *router.Router) string {
	cus := r.Registry.CountOfType(wire.UnitComputeUnit)
	planners := r.Registry.CountOfType(wire.UnitPlanner)
	return "compute_units=" + strconv.Itoa(cus) + " planners=" + strconv.Itoa(planners) + " total=" + strconv.Itoa(r.Registry.Count())
}
