// Package orchestrator drives one conversation turn end to end: snapshot,
// classification, plan execution against the retrieval and ledger engines,
// synthesis, and the history append. Turns within a session are strictly
// sequential; independent plan branches run in parallel.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ntg2208/production-ai-customer-support/internal/clock"
	"github.com/ntg2208/production-ai-customer-support/internal/ledger"
	"github.com/ntg2208/production-ai-customer-support/internal/locations"
	"github.com/ntg2208/production-ai-customer-support/internal/router"
	"github.com/ntg2208/production-ai-customer-support/internal/session"
	"github.com/ntg2208/production-ai-customer-support/internal/support"
	"github.com/ntg2208/production-ai-customer-support/internal/synthesis"
)

// LedgerEngine is the slice of the ledger the orchestrator dispatches to.
type LedgerEngine interface {
	Search(ctx context.Context, crit ledger.SearchCriteria) ([]support.TripOption, error)
	Create(ctx context.Context, p ledger.CreateParams) (*support.Booking, error)
	Modify(ctx context.Context, ref string, p ledger.ModifyParams) (*support.Booking, error)
	Cancel(ctx context.Context, ref string) (*support.Booking, float64, error)
	QuoteRefund(ctx context.Context, ref string) (float64, error)
	CustomerBookings(ctx context.Context, customerID string) ([]support.Booking, error)
}

// Retriever is the knowledge engine surface the orchestrator dispatches to.
type Retriever interface {
	Search(ctx context.Context, query string) ([]support.ScoredChunk, error)
}

// Orchestrator executes dispatch plans.
type Orchestrator struct {
	sessions      *session.Manager
	router        *router.Router
	ledger        LedgerEngine
	retriever     Retriever
	synth         *synthesis.Synthesizer
	branchTimeout time.Duration
	clk           clock.Clock
	logger        *zap.Logger
}

// New wires an orchestrator from its subsystems.
func New(sessions *session.Manager, rt *router.Router, led LedgerEngine, ret Retriever, synth *synthesis.Synthesizer, branchTimeout time.Duration, clk clock.Clock, logger *zap.Logger) *Orchestrator {
	if branchTimeout <= 0 {
		branchTimeout = 20 * time.Second
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		sessions:      sessions,
		router:        rt,
		ledger:        led,
		retriever:     ret,
		synth:         synth,
		branchTimeout: branchTimeout,
		clk:           clk,
		logger:        logger,
	}
}

// Handle processes one turn and returns the reply with its audit metadata.
// It blocks until any in-flight turn for the same session has fully
// resolved.
func (o *Orchestrator) Handle(ctx context.Context, sessionID, customerID, utterance string) (string, support.ReplyMetadata, error) {
	release := o.sessions.Begin(sessionID, customerID)
	defer release()

	snap, err := o.sessions.Snapshot(ctx, sessionID)
	if err != nil {
		return "", support.ReplyMetadata{}, err
	}

	plan := o.router.Classify(utterance, snap)
	o.logger.Info("turn classified",
		zap.String("session", sessionID),
		zap.String("decision", string(plan.Decision)),
		zap.Float64("confidence", plan.Confidence),
		zap.Int("branches", len(plan.Branches)))

	results := o.execute(ctx, plan)
	reply, meta := o.synth.Compose(ctx, utterance, plan, results)

	turn := support.Turn{
		Utterance: utterance,
		Plan:      plan,
		Reply:     reply,
		Metadata:  meta,
		At:        o.clk.Now(),
	}
	if err := o.sessions.Append(ctx, sessionID, turn); err != nil {
		o.logger.Error("failed to append turn", zap.String("session", sessionID), zap.Error(err))
	}
	return reply, meta, nil
}

// execute runs the plan: independent branches in parallel, dependent
// branches afterwards with their dependency's result in hand.
func (o *Orchestrator) execute(ctx context.Context, plan support.DispatchPlan) []support.BranchResult {
	if plan.Empty() {
		return nil
	}

	results := make(map[string]support.BranchResult, len(plan.Branches))

	g, gctx := errgroup.WithContext(ctx)
	resCh := make(chan support.BranchResult, len(plan.Branches))
	for _, br := range plan.Branches {
		if br.DependsOn != "" {
			continue
		}
		br := br
		g.Go(func() error {
			resCh <- o.runBranch(gctx, br, nil)
			return nil
		})
	}
	g.Wait()
	close(resCh)
	for res := range resCh {
		results[res.Branch.ID] = res
	}

	// Second wave: branches gated on a result from the first.
	for _, br := range plan.Branches {
		if br.DependsOn == "" {
			continue
		}
		dep, ok := results[br.DependsOn]
		if !ok {
			results[br.ID] = support.BranchResult{
				Branch: br, Status: support.BranchFailure,
				Err: errors.New("dependency " + br.DependsOn + " never ran"),
			}
			continue
		}
		results[br.ID] = o.runBranch(ctx, br, &dep)
	}

	ordered := make([]support.BranchResult, 0, len(plan.Branches))
	for _, br := range plan.Branches {
		ordered = append(ordered, results[br.ID])
	}
	return ordered
}

// runBranch executes one branch under its timeout budget.
func (o *Orchestrator) runBranch(ctx context.Context, br support.Branch, dep *support.BranchResult) support.BranchResult {
	bctx, cancel := context.WithTimeout(ctx, o.branchTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan support.BranchResult, 1)
	go func() {
		var res support.BranchResult
		if br.Subsystem == support.SubsystemRetrieval {
			res = o.runRetrieval(bctx, br, dep)
		} else {
			res = o.runLedger(bctx, br)
		}
		done <- res
	}()

	var res support.BranchResult
	select {
	case res = <-done:
		if errors.Is(res.Err, context.DeadlineExceeded) {
			res.Status = support.BranchTimeout
			res.Err = support.ErrTimeout
		}
	case <-bctx.Done():
		res = support.BranchResult{Branch: br, Status: support.BranchTimeout, Err: support.ErrTimeout}
	}
	res.Elapsed = time.Since(start)

	o.logger.Debug("branch resolved",
		zap.String("branch", br.ID),
		zap.String("status", string(res.Status)),
		zap.Duration("elapsed", res.Elapsed))
	return res
}

// runRetrieval executes a retrieval branch. When the branch depends on a
// ledger outcome, that outcome's facts are folded into the query so the
// policy lookup reflects what just happened.
func (o *Orchestrator) runRetrieval(ctx context.Context, br support.Branch, dep *support.BranchResult) support.BranchResult {
	query := br.Query
	if dep != nil && dep.Status == support.BranchSuccess && dep.Booking != nil {
		query += " " + string(dep.Booking.TicketType) + " ticket"
	}

	chunks, err := o.retriever.Search(ctx, query)
	if err != nil {
		return support.BranchResult{Branch: br, Status: support.BranchFailure, Err: err}
	}
	return support.BranchResult{Branch: br, Status: support.BranchSuccess, Chunks: chunks}
}

// runLedger executes a ledger branch. Mutations get exactly one internal
// retry on a concurrency conflict.
func (o *Orchestrator) runLedger(ctx context.Context, br support.Branch) support.BranchResult {
	res := o.ledgerOnce(ctx, br)
	if errors.Is(res.Err, support.ErrConcurrencyConflict) && mutates(br.Op) {
		o.logger.Warn("retrying after concurrency conflict",
			zap.String("branch", br.ID),
			zap.String("booking", br.Params.BookingRef))
		res = o.ledgerOnce(ctx, br)
	}
	return res
}

func mutates(op support.LedgerOp) bool {
	return op == support.OpCreate || op == support.OpModify || op == support.OpCancel
}

func (o *Orchestrator) ledgerOnce(ctx context.Context, br support.Branch) support.BranchResult {
	out := support.BranchResult{Branch: br}

	fail := func(err error) support.BranchResult {
		out.Status = support.BranchFailure
		out.Err = err
		return out
	}

	switch br.Op {
	case support.OpSearch:
		crit, err := o.searchCriteria(br.Params)
		if err != nil {
			return fail(err)
		}
		trips, err := o.ledger.Search(ctx, crit)
		if err != nil {
			return fail(err)
		}
		out.Trips = trips

	case support.OpCreate:
		p, err := o.createParams(ctx, br.Params)
		if err != nil {
			return fail(err)
		}
		b, err := o.ledger.Create(ctx, p)
		if err != nil {
			return fail(err)
		}
		out.Booking = b

	case support.OpModify:
		if br.Params.BookingRef == "" {
			return fail(support.Validationf("which booking would you like to change"))
		}
		b, err := o.ledger.Modify(ctx, br.Params.BookingRef, ledger.ModifyParams{
			Departure:  br.Params.DepartAfter,
			TicketType: br.Params.TicketType,
		})
		if err != nil {
			return fail(err)
		}
		out.Booking = b

	case support.OpCancel:
		if br.Params.BookingRef == "" {
			return fail(support.Validationf("which booking would you like to cancel"))
		}
		b, refund, err := o.ledger.Cancel(ctx, br.Params.BookingRef)
		if err != nil {
			return fail(err)
		}
		out.Booking = b
		out.Refund = refund

	case support.OpQuoteRefund:
		if br.Params.BookingRef == "" {
			return fail(support.Validationf("which booking would you like a refund quote for"))
		}
		refund, err := o.ledger.QuoteRefund(ctx, br.Params.BookingRef)
		if err != nil {
			return fail(err)
		}
		out.Refund = refund

	case support.OpQueryCustomer:
		if br.Params.CustomerID == "" {
			return fail(support.Validationf("I need your customer id to look up bookings"))
		}
		bookings, err := o.ledger.CustomerBookings(ctx, br.Params.CustomerID)
		if err != nil {
			return fail(err)
		}
		out.Bookings = bookings

	default:
		return fail(support.Validationf("unknown ledger operation %q", br.Op))
	}

	out.Status = support.BranchSuccess
	return out
}

// searchCriteria resolves free-text places into station lists.
func (o *Orchestrator) searchCriteria(p support.LedgerParams) (ledger.SearchCriteria, error) {
	crit := ledger.SearchCriteria{
		TicketType:  p.TicketType,
		MaxPrice:    p.MaxPrice,
		DepartAfter: p.DepartAfter,
	}
	if p.FromPlace != "" {
		place := locations.Normalize(p.FromPlace)
		if place.Kind == locations.KindUnknown {
			return crit, support.Validationf("I don't recognise %q as a city or station", p.FromPlace)
		}
		crit.FromStations = place.Stations
	}
	if p.ToPlace != "" {
		place := locations.Normalize(p.ToPlace)
		if place.Kind == locations.KindUnknown {
			return crit, support.Validationf("I don't recognise %q as a city or station", p.ToPlace)
		}
		crit.ToStations = place.Stations
	}
	return crit, nil
}

// createParams fills in the concrete departure for a named service by
// searching the timetable.
func (o *Orchestrator) createParams(ctx context.Context, p support.LedgerParams) (ledger.CreateParams, error) {
	if p.TrainNumber == "" {
		return ledger.CreateParams{}, support.Validationf("which service would you like to book")
	}
	tt := p.TicketType
	if tt == "" {
		tt = support.TicketStandard
	}

	crit, err := o.searchCriteria(p)
	if err != nil {
		return ledger.CreateParams{}, err
	}
	crit.TicketType = tt
	trips, err := o.ledger.Search(ctx, crit)
	if err != nil {
		return ledger.CreateParams{}, err
	}
	for _, tr := range trips {
		if tr.TrainNumber == p.TrainNumber {
			return ledger.CreateParams{
				CustomerID:  p.CustomerID,
				TrainNumber: tr.TrainNumber,
				FromStation: tr.FromStation,
				ToStation:   tr.ToStation,
				Departure:   tr.Departure,
				TicketType:  tt,
			}, nil
		}
	}
	return ledger.CreateParams{}, support.NotFoundf("service %s not found on that route", p.TrainNumber)
}
