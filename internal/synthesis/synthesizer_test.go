package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ntg2208/production-ai-customer-support/internal/support"
)

var testNow = time.Date(2025, 7, 29, 14, 30, 0, 0, time.UTC)

func deterministic() *Synthesizer {
	return New(nil, zap.NewNop())
}

func cancelPlan() (support.DispatchPlan, support.Branch) {
	br := support.Branch{
		ID: "ledger-1", Subsystem: support.SubsystemLedger,
		Op: support.OpCancel, Params: support.LedgerParams{BookingRef: "UKC1001"},
	}
	return support.DispatchPlan{
		Decision: support.RouteLedger, Confidence: 1, Branches: []support.Branch{br},
	}, br
}

func TestComposeCancelReply(t *testing.T) {
	s := deterministic()
	plan, br := cancelPlan()

	booking := &support.Booking{Reference: "UKC1001", Status: support.StatusCancelled}
	reply, meta := s.Compose(context.Background(), "cancel UKC1001", plan, []support.BranchResult{
		{Branch: br, Status: support.BranchSuccess, Booking: booking, Refund: 50.00},
	})

	if !strings.Contains(reply, "UKC1001") || !strings.Contains(reply, "50.00") {
		t.Errorf("reply missing cancellation facts: %q", reply)
	}
	if len(meta.Branches) != 1 {
		t.Fatalf("branch outcomes = %d, want 1", len(meta.Branches))
	}
	if meta.Branches[0].Status != support.BranchSuccess {
		t.Errorf("status = %s, want success", meta.Branches[0].Status)
	}
	if meta.RoutingDecision != support.RouteLedger {
		t.Errorf("decision = %s, want ledger", meta.RoutingDecision)
	}
}

func TestComposeOrdersSegmentsByPlanNotCompletion(t *testing.T) {
	s := deterministic()

	ledger := support.Branch{ID: "ledger-1", Subsystem: support.SubsystemLedger,
		Op: support.OpCancel, Params: support.LedgerParams{BookingRef: "UKC1001"}}
	retrieval := support.Branch{ID: "retrieval-1", Subsystem: support.SubsystemRetrieval,
		Query: "refund policy", DependsOn: "ledger-1"}
	plan := support.DispatchPlan{
		Decision: support.RouteMixed, Confidence: 0.6,
		Branches: []support.Branch{ledger, retrieval},
	}

	// Results arrive in reverse completion order.
	results := []support.BranchResult{
		{Branch: retrieval, Status: support.BranchSuccess, Chunks: []support.ScoredChunk{
			{Chunk: support.Chunk{Text: "Refunds are paid within 5 working days."}, Score: 0.9},
		}},
		{Branch: ledger, Status: support.BranchSuccess,
			Booking: &support.Booking{Reference: "UKC1001"}, Refund: 50},
	}

	reply, meta := s.Compose(context.Background(), "cancel and policy", plan, results)

	cancelIdx := strings.Index(reply, "cancelled")
	policyIdx := strings.Index(reply, "policy says")
	if cancelIdx < 0 || policyIdx < 0 || cancelIdx > policyIdx {
		t.Errorf("segments out of plan order: %q", reply)
	}
	if meta.Branches[0].Subsystem != support.SubsystemLedger ||
		meta.Branches[1].Subsystem != support.SubsystemRetrieval {
		t.Errorf("outcome order = %+v, want plan order", meta.Branches)
	}
}

func TestComposeLabelsTimeout(t *testing.T) {
	s := deterministic()
	plan, br := cancelPlan()

	reply, meta := s.Compose(context.Background(), "cancel UKC1001", plan, []support.BranchResult{
		{Branch: br, Status: support.BranchTimeout, Err: support.ErrTimeout},
	})

	if meta.Branches[0].Status != support.BranchTimeout {
		t.Fatalf("status = %s, want timeout", meta.Branches[0].Status)
	}
	if !strings.Contains(reply, "too long") {
		t.Errorf("timeout not surfaced in reply: %q", reply)
	}
}

func TestComposeRetrievalMiss(t *testing.T) {
	s := deterministic()
	br := support.Branch{ID: "retrieval-1", Subsystem: support.SubsystemRetrieval, Query: "dragons"}
	plan := support.DispatchPlan{Decision: support.RoutePolicy, Confidence: 1, Branches: []support.Branch{br}}

	reply, meta := s.Compose(context.Background(), "dragons?", plan, []support.BranchResult{
		{Branch: br, Status: support.BranchFailure, Err: support.ErrRetrievalMiss},
	})

	if !meta.RetrievalMiss {
		t.Error("retrieval miss not flagged in metadata")
	}
	if !strings.Contains(reply, "couldn't find") {
		t.Errorf("miss not explained honestly: %q", reply)
	}
	if strings.Contains(strings.ToLower(reply), "dragon") && strings.Contains(reply, "policy says") {
		t.Errorf("fabricated answer on a miss: %q", reply)
	}
}

func TestComposePolicyViolationIsPolite(t *testing.T) {
	s := deterministic()
	plan, br := cancelPlan()

	reply, meta := s.Compose(context.Background(), "cancel again", plan, []support.BranchResult{
		{Branch: br, Status: support.BranchFailure,
			Err: support.PolicyViolationf("booking UKC1001 is already cancelled")},
	})

	if !strings.Contains(reply, "already cancelled") {
		t.Errorf("denial reason missing: %q", reply)
	}
	if meta.Branches[0].Status != support.BranchFailure {
		t.Errorf("status = %s, want failure", meta.Branches[0].Status)
	}
}

func TestComposeSystemErrorStaysVague(t *testing.T) {
	s := deterministic()
	plan, br := cancelPlan()

	reply, _ := s.Compose(context.Background(), "cancel", plan, []support.BranchResult{
		{Branch: br, Status: support.BranchFailure, Err: errors.New("disk I/O error on page 7")},
	})

	if strings.Contains(reply, "disk I/O") {
		t.Errorf("internal error leaked to customer: %q", reply)
	}
	if !strings.Contains(reply, "try again") {
		t.Errorf("no recovery guidance: %q", reply)
	}
}

func TestComposeEmptyPlanAsksForClarification(t *testing.T) {
	s := deterministic()
	reply, meta := s.Compose(context.Background(), "hello",
		support.DispatchPlan{Decision: support.RouteNone}, nil)

	if !strings.Contains(reply, "Could you tell me") {
		t.Errorf("no clarification prompt: %q", reply)
	}
	if len(meta.Branches) != 0 {
		t.Errorf("outcomes = %+v, want none", meta.Branches)
	}
}

func TestComposeTrips(t *testing.T) {
	s := deterministic()
	br := support.Branch{ID: "ledger-1", Subsystem: support.SubsystemLedger, Op: support.OpSearch}
	plan := support.DispatchPlan{Decision: support.RouteLedger, Confidence: 1, Branches: []support.Branch{br}}

	trips := []support.TripOption{
		{TrainNumber: "UK103", ServiceName: "Manchester Express",
			FromStation: "London Euston", ToStation: "Manchester Piccadilly",
			Departure: testNow.Add(90 * time.Minute), TicketType: support.TicketStandard, Price: 67.50},
	}
	reply, meta := s.Compose(context.Background(), "trains to manchester", plan, []support.BranchResult{
		{Branch: br, Status: support.BranchSuccess, Trips: trips},
	})

	if !strings.Contains(reply, "UK103") || !strings.Contains(reply, "67.50") {
		t.Errorf("trip facts missing: %q", reply)
	}
	if meta.Branches[0].ResultSummary != "1 departures found" {
		t.Errorf("summary = %q", meta.Branches[0].ResultSummary)
	}
}

type stubCompleter struct {
	reply string
	err   error
	seen  string
}

func (c *stubCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	c.seen = prompt
	return c.reply, c.err
}

func (c *stubCompleter) Name() string { return "stub" }

func TestComposeWithCompleterPolishes(t *testing.T) {
	stub := &stubCompleter{reply: "All done! Your refund of £50.00 is on its way."}
	s := New(stub, zap.NewNop())
	plan, br := cancelPlan()

	reply, _ := s.Compose(context.Background(), "cancel UKC1001", plan, []support.BranchResult{
		{Branch: br, Status: support.BranchSuccess,
			Booking: &support.Booking{Reference: "UKC1001"}, Refund: 50},
	})

	if reply != stub.reply {
		t.Errorf("reply = %q, want polished output", reply)
	}
	if !strings.Contains(stub.seen, "UKC1001") {
		t.Errorf("facts not passed to completer: %q", stub.seen)
	}
}

func TestComposeCompleterFailureFallsBack(t *testing.T) {
	stub := &stubCompleter{err: errors.New("rate limited")}
	s := New(stub, zap.NewNop())
	plan, br := cancelPlan()

	reply, _ := s.Compose(context.Background(), "cancel UKC1001", plan, []support.BranchResult{
		{Branch: br, Status: support.BranchSuccess,
			Booking: &support.Booking{Reference: "UKC1001"}, Refund: 50},
	})

	if !strings.Contains(reply, "UKC1001") {
		t.Errorf("fallback reply missing facts: %q", reply)
	}
}
