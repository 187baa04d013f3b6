package wire

import "github.com/fabricdb/qfabric/plan"

// ConfigurationActionKind enumerates the configuration actions a
// compute unit accepts (spec.md §6).
type ConfigurationActionKind int

const (
	ActionSetWorker ConfigurationActionKind = iota
	ActionResetCatalog
)

// ConfigurationAction is the payload of a PkgConfigurationAction message.
type ConfigurationAction struct {
	Kind  ConfigurationActionKind
	Count int // meaningful only for ActionSetWorker
}

// UuidForUnitRequest/Response let a client ask the router to resolve a
// friendly name to a UUID within a unit type.
type UuidForUnitRequest struct {
	UnitType   UnitType
	PrettyName string
}

type UuidForUnitResponse struct {
	UUID  uint64
	Found bool
}

// ConnectInfo is the unit's reply in the initial handshake (spec.md
// §4.9): the router opens with an empty PkgUpdateUnitType frame, and the
// unit replies with ConnectInfo carrying its type, name and
// self-chosen UUID (subject to collision retry). The handshake does
// not send ConnectAction.
type ConnectAction struct {
	Want UnitType
}

type ConnectInfo struct {
	UUID       uint64
	UnitType   UnitType
	PrettyName string
}

// Work carries a single query plan submitted by a planner client, sent
// with PkgWork and forwarded to a compute unit (spec.md §4.9).
type Work struct {
	Plan plan.Plan
}

// RerouteWork is Work re-sent to a different compute unit after the
// original target drained its workers (spec.md §8 scenario S6);
// OriginalUUID is excluded when the router picks the new target.
type RerouteWork struct {
	Plan         plan.Plan
	OriginalUUID uint64
}

// QueryPlanMsg is the raw plan a planner submits before the router's
// window/grouper pipeline has clustered it with others.
type QueryPlanMsg struct {
	Plan plan.Plan
}

// QueryGroupMsg is the router's dispatch unit sent to a compute unit:
// the column-transfer work items followed by the member plans, every
// base-column reference already aliased to its staged table name
// (spec.md §4.8's Dispatch step).
type QueryGroupMsg struct {
	GroupID         uint64
	TargetCUUUID    uint64
	ColumnTransfers []plan.WorkItem
	Plans           []plan.Plan
}

// PlanResponse is returned to the plan's originator once its
// orchestrator reaches a terminal state (spec.md §4.5/§7).
type PlanResponse struct {
	PlanID  uint32
	Success bool
	Info    string
}

// TextMsg carries a free-form diagnostic string, used by -v logging
// and ad-hoc monitor tooling.
type TextMsg struct {
	Text string
}

// MonitorRequest asks a router for its current client roster; the
// response is carried back as a TextMsg summary.
type MonitorRequest struct{}

// ServerConfiguration/Response resize a compute unit's announced
// worker count from the router side (distinct from the unit-local
// ConfigurationAction{ActionSetWorker}, which a compute unit applies
// to its own pool directly).
type ServerConfiguration struct {
	Workers int
}

type ServerConfigurationResponse struct {
	Applied bool
}

// TaskFinished notifies the router that one plan item completed, used
// by monitor tooling to track progress without polling PlanResponse.
type TaskFinished struct {
	PlanID uint32
	ItemID uint32
}
