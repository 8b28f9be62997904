package support

import "time"

// Subsystem identifies the target of a dispatch branch.
type Subsystem string

const (
	SubsystemRetrieval Subsystem = "retrieval"
	SubsystemLedger    Subsystem = "ledger"
)

// LedgerOp enumerates the ledger operations a branch may request. Explicit
// tagged variants instead of dispatch-by-tool-name: the executor switches on
// the operation kind, each with a fixed parameter shape.
type LedgerOp string

const (
	OpSearch        LedgerOp = "search"
	OpCreate        LedgerOp = "create"
	OpModify        LedgerOp = "modify"
	OpCancel        LedgerOp = "cancel"
	OpQuoteRefund   LedgerOp = "quote_refund"
	OpQueryCustomer LedgerOp = "query_customer"
)

// RoutingDecision is the router's top-level classification of a turn.
type RoutingDecision string

const (
	RoutePolicy RoutingDecision = "policy"
	RouteLedger RoutingDecision = "ledger"
	RouteMixed  RoutingDecision = "mixed"
	RouteNone   RoutingDecision = "none"
)

// Branch is one operation request inside a dispatch plan.
type Branch struct {
	ID        string    `json:"id"`
	Subsystem Subsystem `json:"subsystem"`

	// Ledger branches only.
	Op     LedgerOp     `json:"op,omitempty"`
	Params LedgerParams `json:"params,omitempty"`

	// Retrieval branches only.
	Query string `json:"query,omitempty"`

	// DependsOn names a branch whose result must be available before this
	// branch runs. Empty means the branch is independent and may run in
	// parallel with other independent branches.
	DependsOn string `json:"depends_on,omitempty"`
}

// LedgerParams carries the extracted parameters for a ledger operation.
// Unused fields stay zero; the ledger validates per operation.
type LedgerParams struct {
	BookingRef  string     `json:"booking_ref,omitempty"`
	CustomerID  string     `json:"customer_id,omitempty"`
	FromPlace   string     `json:"from_place,omitempty"` // city or station, resolver decides
	ToPlace     string     `json:"to_place,omitempty"`
	DepartAfter time.Time  `json:"depart_after,omitempty"`
	TicketType  TicketType `json:"ticket_type,omitempty"`
	MaxPrice    float64    `json:"max_price,omitempty"`
	TrainNumber string     `json:"train_number,omitempty"`
}

// DispatchPlan is an ordered composition of branches derived from one
// utterance. Branch order is the logical reply order; execution order is
// whatever the dependency edges allow.
type DispatchPlan struct {
	Decision   RoutingDecision `json:"decision"`
	Confidence float64         `json:"confidence"`
	Branches   []Branch        `json:"branches"`
}

// Empty reports whether the plan dispatches nothing.
func (p DispatchPlan) Empty() bool { return len(p.Branches) == 0 }

// BranchStatus is the per-branch outcome recorded in reply metadata.
type BranchStatus string

const (
	BranchSuccess BranchStatus = "success"
	BranchFailure BranchStatus = "failure"
	BranchTimeout BranchStatus = "timeout"
)

// BranchResult is what the executor hands the synthesizer for one branch.
type BranchResult struct {
	Branch  Branch
	Status  BranchStatus
	Err     error
	Elapsed time.Duration

	// Exactly one of the following is set on success, depending on the
	// branch's subsystem and operation.
	Trips    []TripOption
	Bookings []Booking
	Booking  *Booking
	Refund   float64
	Customer *Customer
	Chunks   []ScoredChunk
}

// ScoredChunk is a retrieval hit: a chunk plus its similarity score.
type ScoredChunk struct {
	Chunk
	Score float64
}

// Chunk is one slice of a source policy document with its precomputed
// embedding. Built once during offline ingestion, immutable afterwards.
type Chunk struct {
	ID        string    `json:"id"`
	SourceDoc string    `json:"source_doc"`
	Ordinal   int       `json:"ordinal"`
	Text      string    `json:"text"`
	Section   string    `json:"section,omitempty"`
	Topics    []string  `json:"topics,omitempty"`
	Embedding []float32 `json:"-"`
}

// BranchOutcome is the audit record for one branch in reply metadata.
type BranchOutcome struct {
	Subsystem     Subsystem    `json:"subsystem"`
	Operation     string       `json:"operation"`
	Status        BranchStatus `json:"status"`
	ResultSummary string       `json:"result_summary"`
}

// ReplyMetadata is the structured record returned alongside the reply text
// so the (excluded) UI layer can audit the routing decision.
type ReplyMetadata struct {
	RoutingDecision RoutingDecision `json:"routing_decision"`
	Branches        []BranchOutcome `json:"branches"`
	Confidence      float64         `json:"confidence"`
	RetrievalMiss   bool            `json:"retrieval_miss,omitempty"`
}

// Turn is one conversational exchange appended to a session's history.
type Turn struct {
	Utterance string        `json:"utterance"`
	Plan      DispatchPlan  `json:"plan"`
	Reply     string        `json:"reply"`
	Metadata  ReplyMetadata `json:"metadata"`
	At        time.Time     `json:"at"`
}

// Snapshot is the current-state view of a session the router consumes:
// profile context plus recent history distilled into priors.
type Snapshot struct {
	SessionID      string          `json:"session_id"`
	Customer       *Customer       `json:"customer,omitempty"`
	HomeStation    string          `json:"home_station,omitempty"` // resolved default departure
	RecentTurns    []Turn          `json:"recent_turns"`
	LastDecision   RoutingDecision `json:"last_decision,omitempty"`
	RecentBookings []string        `json:"recent_bookings,omitempty"` // references seen this session
	TurnCount      int             `json:"turn_count"`
}
