package orchestrator

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/ntg2208/production-ai-customer-support/internal/clock"
	"github.com/ntg2208/production-ai-customer-support/internal/config"
	"github.com/ntg2208/production-ai-customer-support/internal/ledger"
	"github.com/ntg2208/production-ai-customer-support/internal/router"
	"github.com/ntg2208/production-ai-customer-support/internal/session"
	"github.com/ntg2208/production-ai-customer-support/internal/support"
	"github.com/ntg2208/production-ai-customer-support/internal/synthesis"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// go.opencensus.io starts a permanent worker goroutine in init().
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

var testNow = time.Date(2025, 7, 29, 14, 30, 0, 0, time.UTC)

// mockLedger implements LedgerEngine with overridable funcs.
type mockLedger struct {
	SearchFunc           func(ctx context.Context, crit ledger.SearchCriteria) ([]support.TripOption, error)
	CreateFunc           func(ctx context.Context, p ledger.CreateParams) (*support.Booking, error)
	ModifyFunc           func(ctx context.Context, ref string, p ledger.ModifyParams) (*support.Booking, error)
	CancelFunc           func(ctx context.Context, ref string) (*support.Booking, float64, error)
	QuoteRefundFunc      func(ctx context.Context, ref string) (float64, error)
	CustomerBookingsFunc func(ctx context.Context, customerID string) ([]support.Booking, error)
}

func (m *mockLedger) Search(ctx context.Context, crit ledger.SearchCriteria) ([]support.TripOption, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, crit)
	}
	return nil, nil
}

func (m *mockLedger) Create(ctx context.Context, p ledger.CreateParams) (*support.Booking, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, p)
	}
	return nil, support.NotFoundf("no create stub")
}

func (m *mockLedger) Modify(ctx context.Context, ref string, p ledger.ModifyParams) (*support.Booking, error) {
	if m.ModifyFunc != nil {
		return m.ModifyFunc(ctx, ref, p)
	}
	return nil, support.NotFoundf("no modify stub")
}

func (m *mockLedger) Cancel(ctx context.Context, ref string) (*support.Booking, float64, error) {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, ref)
	}
	return nil, 0, support.NotFoundf("no cancel stub")
}

func (m *mockLedger) QuoteRefund(ctx context.Context, ref string) (float64, error) {
	if m.QuoteRefundFunc != nil {
		return m.QuoteRefundFunc(ctx, ref)
	}
	return 0, support.NotFoundf("no quote stub")
}

func (m *mockLedger) CustomerBookings(ctx context.Context, customerID string) ([]support.Booking, error) {
	if m.CustomerBookingsFunc != nil {
		return m.CustomerBookingsFunc(ctx, customerID)
	}
	return nil, nil
}

// mockRetriever records calls.
type mockRetriever struct {
	mu      sync.Mutex
	queries []string
	chunks  []support.ScoredChunk
	err     error
	delay   time.Duration
}

func (m *mockRetriever) Search(ctx context.Context, query string) ([]support.ScoredChunk, error) {
	m.mu.Lock()
	m.queries = append(m.queries, query)
	m.mu.Unlock()
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.chunks, nil
}

func (m *mockRetriever) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

func newOrchestrator(t *testing.T, led LedgerEngine, ret Retriever, timeout time.Duration) *Orchestrator {
	t.Helper()
	sessions := session.NewManager(nil, nil, 20, time.Hour, clock.At(testNow), zap.NewNop())
	rt := router.New(clock.At(testNow))
	synth := synthesis.New(nil, zap.NewNop())
	return New(sessions, rt, led, ret, synth, timeout, clock.At(testNow), zap.NewNop())
}

// realLedger builds a live engine with one seeded active booking.
func realLedger(t *testing.T) *ledger.Engine {
	t.Helper()
	store, err := ledger.OpenStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open ledger store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	if err := store.PutCustomer(ctx, support.Customer{ID: "CUS001", Name: "Amelia Hart", CreatedAt: testNow}); err != nil {
		t.Fatalf("failed to seed customer: %v", err)
	}
	if err := store.InsertBooking(ctx, support.Booking{
		Reference: "UKC1001", CustomerID: "CUS001", TrainNumber: "UK101",
		FromStation: "London Euston", ToStation: "Manchester Piccadilly",
		Departure: testNow.Add(20 * time.Hour), Arrival: testNow.Add(22 * time.Hour),
		TicketType: support.TicketStandard, Price: 100.00,
		Status: support.StatusActive, BookedAt: testNow,
	}); err != nil {
		t.Fatalf("failed to seed booking: %v", err)
	}

	return ledger.NewEngine(store, config.Default().Ledger, time.Second, clock.At(testNow), zap.NewNop())
}

func TestHandleCancelEndToEnd(t *testing.T) {
	led := realLedger(t)
	ret := &mockRetriever{}
	o := newOrchestrator(t, led, ret, time.Second)

	reply, meta, err := o.Handle(context.Background(), "s1", "CUS001",
		"Cancel UKC1001 and tell me the refund")
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	// Standard fare, 20h out: 75% of 100 minus the £25 fee.
	if !strings.Contains(reply, "50.00") {
		t.Errorf("reply missing refund amount: %q", reply)
	}
	if meta.RoutingDecision != support.RouteLedger {
		t.Errorf("decision = %s, want ledger", meta.RoutingDecision)
	}
	if len(ret.calls()) != 0 {
		t.Errorf("retrieval invoked %v, want none", ret.calls())
	}

	b, err := led.Booking(context.Background(), "UKC1001")
	if err != nil {
		t.Fatalf("booking lookup failed: %v", err)
	}
	if b.Status != support.StatusCancelled {
		t.Errorf("status = %s, want cancelled", b.Status)
	}
}

func TestHandleRefundQuoteLeavesBookingActive(t *testing.T) {
	led := realLedger(t)
	o := newOrchestrator(t, led, &mockRetriever{}, time.Second)
	ctx := context.Background()

	reply, meta, err := o.Handle(ctx, "s1", "CUS001",
		"What refund would I get for UKC1001?")
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	if len(meta.Branches) != 1 || meta.Branches[0].Operation != string(support.OpQuoteRefund) {
		t.Fatalf("branches = %+v, want one quote_refund", meta.Branches)
	}
	// Standard fare, 20h out: 75% of 100 minus the £25 fee.
	if !strings.Contains(reply, "50.00") {
		t.Errorf("reply missing quoted amount: %q", reply)
	}

	b, err := led.Booking(ctx, "UKC1001")
	if err != nil {
		t.Fatalf("booking lookup failed: %v", err)
	}
	if b.Status != support.StatusActive {
		t.Errorf("status = %s, want active after a quote", b.Status)
	}
	txns, err := led.History(ctx, "UKC1001")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(txns) != 0 {
		t.Errorf("txns = %+v, want none after a quote", txns)
	}
}

func TestHandleMixedSequencesLedgerBeforePolicy(t *testing.T) {
	led := realLedger(t)
	ret := &mockRetriever{chunks: []support.ScoredChunk{
		{Chunk: support.Chunk{Text: "Refunds reach your account within 5 working days."}, Score: 0.8},
	}}
	o := newOrchestrator(t, led, ret, time.Second)

	reply, meta, err := o.Handle(context.Background(), "s1", "CUS001",
		"Cancel UKC1001 and what is your refund policy?")
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	if meta.RoutingDecision != support.RouteMixed {
		t.Fatalf("decision = %s, want mixed", meta.RoutingDecision)
	}
	if len(meta.Branches) != 2 {
		t.Fatalf("branches = %d, want 2", len(meta.Branches))
	}
	if meta.Branches[0].Subsystem != support.SubsystemLedger ||
		meta.Branches[1].Subsystem != support.SubsystemRetrieval {
		t.Errorf("branch order = %+v, want ledger then retrieval", meta.Branches)
	}

	// The policy query ran after the cancel, with the booking's fare class
	// folded in.
	calls := ret.calls()
	if len(calls) != 1 {
		t.Fatalf("retrieval calls = %v, want 1", calls)
	}
	if !strings.Contains(calls[0], "standard") {
		t.Errorf("ledger outcome not folded into policy query: %q", calls[0])
	}

	if !strings.Contains(reply, "50.00") || !strings.Contains(reply, "5 working days") {
		t.Errorf("reply missing results from both branches: %q", reply)
	}
}

func TestHandleParallelBranchesBothComplete(t *testing.T) {
	led := &mockLedger{
		SearchFunc: func(ctx context.Context, crit ledger.SearchCriteria) ([]support.TripOption, error) {
			return []support.TripOption{{
				TrainNumber: "UK103", FromStation: "London Euston", ToStation: "Manchester Piccadilly",
				Departure: testNow.Add(90 * time.Minute), TicketType: support.TicketStandard, Price: 67.50,
			}}, nil
		},
	}
	ret := &mockRetriever{chunks: []support.ScoredChunk{
		{Chunk: support.Chunk{Text: "Two items of luggage travel free."}, Score: 0.7},
	}}
	o := newOrchestrator(t, led, ret, time.Second)

	reply, meta, err := o.Handle(context.Background(), "s1", "",
		"What trains go from London to Manchester, and what is the luggage allowance?")
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	if meta.RoutingDecision != support.RouteMixed {
		t.Fatalf("decision = %s, want mixed", meta.RoutingDecision)
	}
	for _, br := range meta.Branches {
		if br.Status != support.BranchSuccess {
			t.Errorf("branch %s/%s = %s, want success", br.Subsystem, br.Operation, br.Status)
		}
	}
	if !strings.Contains(reply, "UK103") || !strings.Contains(reply, "luggage") {
		t.Errorf("reply missing a branch result: %q", reply)
	}
}

func TestHandleBranchTimeout(t *testing.T) {
	ret := &mockRetriever{delay: 120 * time.Millisecond}
	o := newOrchestrator(t, &mockLedger{}, ret, 20*time.Millisecond)

	_, meta, err := o.Handle(context.Background(), "s1", "", "What is your refund policy?")
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(meta.Branches) != 1 {
		t.Fatalf("branches = %d, want 1", len(meta.Branches))
	}
	if meta.Branches[0].Status != support.BranchTimeout {
		t.Errorf("status = %s, want timeout", meta.Branches[0].Status)
	}

	// Let the stalled worker drain before goleak runs.
	time.Sleep(150 * time.Millisecond)
}

func TestHandleRetriesConcurrencyConflictOnce(t *testing.T) {
	var calls atomic.Int32
	led := &mockLedger{
		CancelFunc: func(ctx context.Context, ref string) (*support.Booking, float64, error) {
			if calls.Add(1) == 1 {
				return nil, 0, support.ErrConcurrencyConflict
			}
			return &support.Booking{Reference: ref, Status: support.StatusCancelled}, 50, nil
		},
	}
	o := newOrchestrator(t, led, &mockRetriever{}, time.Second)

	_, meta, err := o.Handle(context.Background(), "s1", "", "Cancel UKC1001")
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("cancel attempts = %d, want 2", got)
	}
	if meta.Branches[0].Status != support.BranchSuccess {
		t.Errorf("status = %s, want success after retry", meta.Branches[0].Status)
	}
}

func TestHandleConflictNotRetriedTwice(t *testing.T) {
	var calls atomic.Int32
	led := &mockLedger{
		CancelFunc: func(ctx context.Context, ref string) (*support.Booking, float64, error) {
			calls.Add(1)
			return nil, 0, support.ErrConcurrencyConflict
		},
	}
	o := newOrchestrator(t, led, &mockRetriever{}, time.Second)

	_, meta, err := o.Handle(context.Background(), "s1", "", "Cancel UKC1001")
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("cancel attempts = %d, want exactly 2", got)
	}
	if meta.Branches[0].Status != support.BranchFailure {
		t.Errorf("status = %s, want failure", meta.Branches[0].Status)
	}
}

func TestHandleAppendsTurnToSession(t *testing.T) {
	led := realLedger(t)
	o := newOrchestrator(t, led, &mockRetriever{}, time.Second)
	ctx := context.Background()

	if _, _, err := o.Handle(ctx, "s1", "CUS001", "Cancel UKC1001"); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	snap, err := o.sessions.Snapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if snap.TurnCount != 1 {
		t.Errorf("turn count = %d, want 1", snap.TurnCount)
	}
	if len(snap.RecentBookings) != 1 || snap.RecentBookings[0] != "UKC1001" {
		t.Errorf("recent bookings = %v, want [UKC1001]", snap.RecentBookings)
	}
	if len(snap.RecentTurns) != 1 || !snap.RecentTurns[0].At.Equal(testNow) {
		t.Errorf("turn timestamps = %+v, want one at %s", snap.RecentTurns, testNow)
	}
}

func TestHandleUnknownBookingIsUserFacing(t *testing.T) {
	led := realLedger(t)
	o := newOrchestrator(t, led, &mockRetriever{}, time.Second)

	reply, meta, err := o.Handle(context.Background(), "s1", "CUS001", "Cancel UKC9999")
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if meta.Branches[0].Status != support.BranchFailure {
		t.Errorf("status = %s, want failure", meta.Branches[0].Status)
	}
	if !strings.Contains(reply, "couldn't find") {
		t.Errorf("reply does not explain the miss: %q", reply)
	}
}
