// Command computeunit runs the compute-unit side of spec.md §4.8/§4.9:
// it connects to a router, optionally ingests a base-column dataset
// from disk, then receives QueryGroups and ConfigurationActions and
// runs them against a local catalog, dispatcher, worker pool, and
// orchestrator.
//
// Grounded on original_source/computeUnit's ComputeUnit executable and
// the teacher's cmd/snellerd run_worker.go flag style.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"

	"github.com/fabricdb/qfabric/catalog"
	"github.com/fabricdb/qfabric/cu"
	"github.com/fabricdb/qfabric/cu/ingest"
	"github.com/fabricdb/qfabric/dispatch"
	"github.com/fabricdb/qfabric/orchestrator"
	"github.com/fabricdb/qfabric/plan"
	"github.com/fabricdb/qfabric/wire"
	"github.com/fabricdb/qfabric/workerpool"
)

func main() {
	fs := flag.NewFlagSet("computeunit", flag.ExitOnError)
	ip := fs.String("ip", "127.0.0.1", "router address")
	port := fs.Int("port", 23232, "router port")
	name := fs.String("name", "", "pretty name announced to the router")
	node := fs.Int("node", -1, "NUMA node to pin workers to (-1 = all)")
	cxlNode := fs.Int("cxl_node", -1, "NUMA node to pin CXL-resident data to (-1 = any, informational)")
	worker := fs.Int("worker", 0, "worker count (0 = logical cores for -node)")
	path := fs.String("path", "", "optional base-column data root to ingest at startup")
	basedata := fs.String("basedata", "bin", "base data format when -path is set: bin|csv")
	fs.Parse(os.Args[1:])

	logger := log.New(os.Stderr, "", log.Lshortfile)
	_ = cxlNode // informational only: spec.md names it but assigns it no runtime behavior beyond labeling which NUMA node holds CXL-tier memory

	if *worker <= 0 {
		n := *node
		if n < 0 {
			n = 0
		}
		*worker = workerpool.LogicalCoresForNode(n)
	}

	cat := catalog.New()
	if *path != "" {
		if err := ingestBaseData(*basedata, *path, cat); err != nil {
			logger.Fatalf("computeunit: ingesting %s from %s: %v", *basedata, *path, err)
		}
		logger.Printf("computeunit: ingested %d tables from %s (%s)", len(cat.Tables()), *path, *basedata)
	}

	workerpool.LogCPUFeatures(logger)

	dispatcher := dispatch.New()
	orch := orchestrator.New(logger, dispatcher, cat, orchestrator.DefaultConfig())
	defer orch.Shutdown()

	sel := workerpool.NodeSelector{All: true}
	if *node >= 0 {
		sel = workerpool.NodeSelector{Nodes: []int{*node}}
	}
	pool := workerpool.New(logger, *worker, sel)
	defer pool.Shutdown()

	// route orchestrator-dispatched items through the pinned worker pool
	orch.SetDispatchFunc(func(item *plan.WorkItem, onDone func(success bool)) {
		var err error
		pool.Enqueue(workerpool.Task{
			Run: func() { err = dispatcher.Execute(cat, item) },
			OnFinish: func() {
				if err != nil {
					logger.Printf("computeunit: item %d/%d failed: %v", item.PlanID, item.ItemID, err)
				}
				onDone(err == nil)
			},
		})
	})

	front := cu.New(logger, cat, dispatcher, pool, orch)

	addr := *ip + ":" + strconv.Itoa(*port)
	conn, uuid, err := cu.Connect(addr, wire.UnitComputeUnit, *name)
	if err != nil {
		logger.Fatalf("computeunit: connecting to %s: %v", addr, err)
	}
	defer conn.Close()
	logger.Printf("computeunit: connected to %s as uuid=%d", addr, uuid)

	front.SendResponse = func(targetUUID uint64, resp wire.PlanResponse) {
		payload, err := wire.EncodePayload(resp)
		if err != nil {
			logger.Printf("computeunit: encoding PlanResponse: %v", err)
			return
		}
		meta := wire.Meta{PackageType: wire.PkgPlanResponse, SrcUUID: uuid, TgtUUID: targetUUID}
		if _, err := conn.Write(wire.Encode(meta, payload, false)); err != nil {
			logger.Printf("computeunit: sending PlanResponse: %v", err)
		}
	}

	receiveLoop(logger, conn, front)
}

func ingestBaseData(format, path string, cat *catalog.Catalog) error {
	switch format {
	case "bin":
		return ingest.LoadBin(path, cat)
	case "csv":
		return ingest.LoadCSV(path, cat)
	default:
		return fmt.Errorf("unknown -basedata format %q (want bin|csv)", format)
	}
}

// receiveLoop reads frames from the router connection until it closes,
// dispatching QueryGroups and ConfigurationActions to front.
func receiveLoop(logger *log.Logger, conn net.Conn, front *cu.FrontEnd) {
	parser := wire.NewStreamParser(false)
	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			frames, _ := parser.Feed(buf[:n])
			for _, f := range frames {
				handleFrame(logger, front, f)
			}
		}
		if err != nil {
			logger.Printf("computeunit: router connection closed: %v", err)
			return
		}
	}
}

func handleFrame(logger *log.Logger, front *cu.FrontEnd, frame wire.Frame) {
	switch frame.Meta.PackageType {
	case wire.PkgQueryGroup:
		var msg wire.QueryGroupMsg
		if err := wire.DecodePayload(frame.Payload, &msg); err != nil {
			logger.Printf("computeunit: decoding QueryGroupMsg: %v", err)
			return
		}
		front.ReceiveQueryGroup(msg, frame.Meta.SrcUUID)

	case wire.PkgConfigurationAction:
		var action wire.ConfigurationAction
		if err := wire.DecodePayload(frame.Payload, &action); err != nil {
			logger.Printf("computeunit: decoding ConfigurationAction: %v", err)
			return
		}
		if err := front.ApplyConfigurationAction(action); err != nil {
			logger.Printf("computeunit: applying configuration action: %v", err)
		}

	default:
		logger.Printf("computeunit: unhandled package type %d", frame.Meta.PackageType)
	}
}

