package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ntg2208/production-ai-customer-support/internal/support"
)

const systemPrompt = "You are a customer support assistant for UKConnect, a UK rail operator. " +
	"Rephrase the provided facts as one warm, concise reply. Use only the facts given; " +
	"never invent prices, times, or policy terms. Keep every number exactly as stated."

// Synthesizer turns branch results into a reply plus audit metadata. With a
// nil completer the composed text is returned verbatim, which keeps replies
// fully deterministic.
type Synthesizer struct {
	completer Completer
	logger    *zap.Logger
}

// New builds a synthesizer. completer may be nil.
func New(completer Completer, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{completer: completer, logger: logger}
}

// Compose walks the plan in its declared order and renders one reply.
// Branches that failed or timed out get an explicit, separately labeled note
// in both the text and the metadata; they are never silently dropped.
func (s *Synthesizer) Compose(ctx context.Context, utterance string, plan support.DispatchPlan, results []support.BranchResult) (string, support.ReplyMetadata) {
	meta := support.ReplyMetadata{
		RoutingDecision: plan.Decision,
		Confidence:      plan.Confidence,
	}

	if plan.Empty() {
		return "I can help with bookings, cancellations, fares, and travel policy questions. " +
			"Could you tell me a bit more about what you need?", meta
	}

	byID := make(map[string]support.BranchResult, len(results))
	for _, res := range results {
		byID[res.Branch.ID] = res
	}

	var segments []string
	for _, br := range plan.Branches {
		res, ok := byID[br.ID]
		if !ok {
			res = support.BranchResult{Branch: br, Status: support.BranchFailure, Err: errors.New("branch never executed")}
		}

		segment, outcome := s.renderBranch(res)
		segments = append(segments, segment)
		meta.Branches = append(meta.Branches, outcome)
		if res.Status == support.BranchFailure && errors.Is(res.Err, support.ErrRetrievalMiss) {
			meta.RetrievalMiss = true
		}
	}

	composed := strings.Join(segments, "\n\n")

	if s.completer != nil {
		polished, err := s.polish(ctx, utterance, composed)
		if err != nil {
			s.logger.Warn("completion failed, using composed reply", zap.Error(err))
		} else {
			composed = polished
		}
	}
	return composed, meta
}

// renderBranch produces the text segment and audit outcome for one branch.
func (s *Synthesizer) renderBranch(res support.BranchResult) (string, support.BranchOutcome) {
	outcome := support.BranchOutcome{
		Subsystem: res.Branch.Subsystem,
		Operation: string(res.Branch.Op),
		Status:    res.Status,
	}
	if res.Branch.Subsystem == support.SubsystemRetrieval {
		outcome.Operation = "search"
	}

	switch res.Status {
	case support.BranchTimeout:
		outcome.ResultSummary = "timed out"
		return "Part of your request took too long to process, so I couldn't complete it. Please try again.", outcome

	case support.BranchFailure:
		outcome.ResultSummary = summarizeError(res.Err)
		return failureText(res), outcome
	}

	if res.Branch.Subsystem == support.SubsystemRetrieval {
		outcome.ResultSummary = fmt.Sprintf("%d relevant passages", len(res.Chunks))
		return renderChunks(res.Chunks), outcome
	}

	switch res.Branch.Op {
	case support.OpSearch:
		outcome.ResultSummary = fmt.Sprintf("%d departures found", len(res.Trips))
		return renderTrips(res.Trips), outcome
	case support.OpCreate:
		b := res.Booking
		outcome.ResultSummary = fmt.Sprintf("booked %s", b.Reference)
		return fmt.Sprintf("Your booking is confirmed. Reference %s: %s from %s to %s departing %s, %s class, £%.2f.",
			b.Reference, b.TrainNumber, b.FromStation, b.ToStation,
			b.Departure.Format("Mon 2 Jan 15:04"), ticketLabel(b.TicketType), b.Price), outcome
	case support.OpModify:
		b := res.Booking
		outcome.ResultSummary = fmt.Sprintf("modified %s", b.Reference)
		return fmt.Sprintf("Booking %s has been updated: %s from %s to %s departing %s, %s class, £%.2f.",
			b.Reference, b.TrainNumber, b.FromStation, b.ToStation,
			b.Departure.Format("Mon 2 Jan 15:04"), ticketLabel(b.TicketType), b.Price), outcome
	case support.OpCancel:
		b := res.Booking
		outcome.ResultSummary = fmt.Sprintf("cancelled %s, refund %.2f", b.Reference, res.Refund)
		return fmt.Sprintf("Booking %s has been cancelled. Your refund of £%.2f will be returned to your original payment method within 5 working days.",
			b.Reference, res.Refund), outcome
	case support.OpQuoteRefund:
		outcome.ResultSummary = fmt.Sprintf("quoted refund %.2f for %s", res.Refund, res.Branch.Params.BookingRef)
		return fmt.Sprintf("Cancelling booking %s right now would refund £%.2f. The booking stays active until you ask me to cancel it.",
			res.Branch.Params.BookingRef, res.Refund), outcome
	case support.OpQueryCustomer:
		outcome.ResultSummary = fmt.Sprintf("%d bookings", len(res.Bookings))
		return renderBookings(res.Bookings), outcome
	}

	outcome.ResultSummary = "done"
	return "Done.", outcome
}

// polish asks the completer to rephrase the composed facts.
func (s *Synthesizer) polish(ctx context.Context, utterance, composed string) (string, error) {
	prompt := fmt.Sprintf("Customer asked: %q\n\nFacts to relay:\n%s", utterance, composed)
	return s.completer.Complete(ctx, systemPrompt, prompt)
}

func failureText(res support.BranchResult) string {
	err := res.Err
	if support.UserFacing(err) {
		switch {
		case errors.Is(err, support.ErrRetrievalMiss):
			return "I couldn't find anything about that in our policy documents. " +
				"You may want to contact our support team directly for details."
		case errors.Is(err, support.ErrNotFound):
			return fmt.Sprintf("I couldn't find that record: %s.", trimSentinel(err))
		case errors.Is(err, support.ErrPolicyViolation):
			return fmt.Sprintf("I'm unable to do that: %s.", trimSentinel(err))
		default:
			return fmt.Sprintf("I need a little more information: %s.", trimSentinel(err))
		}
	}
	return "Something went wrong on our side while handling part of your request. Please try again shortly."
}

// trimSentinel strips the sentinel prefix so customers see only the detail.
func trimSentinel(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}

func summarizeError(err error) string {
	if err == nil {
		return "failed"
	}
	return err.Error()
}

func renderChunks(chunks []support.ScoredChunk) string {
	if len(chunks) == 0 {
		return "I couldn't find anything about that in our policy documents."
	}
	top := chunks
	if len(top) > 2 {
		top = top[:2]
	}
	var b strings.Builder
	b.WriteString("Here's what our policy says:\n")
	for _, ch := range top {
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(ch.Text))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderTrips(trips []support.TripOption) string {
	if len(trips) == 0 {
		return "I couldn't find any services matching your search. You could try a different date or route."
	}
	show := trips
	if len(show) > 5 {
		show = show[:5]
	}
	var b strings.Builder
	b.WriteString("Here are the available services:\n")
	for _, tr := range show {
		fmt.Fprintf(&b, "- %s %s: %s to %s, departs %s, %s £%.2f\n",
			tr.TrainNumber, tr.ServiceName, tr.FromStation, tr.ToStation,
			tr.Departure.Format("Mon 2 Jan 15:04"), ticketLabel(tr.TicketType), tr.Price)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderBookings(bookings []support.Booking) string {
	if len(bookings) == 0 {
		return "You don't have any bookings with us at the moment."
	}
	var b strings.Builder
	b.WriteString("Here are your bookings:\n")
	for _, bk := range bookings {
		fmt.Fprintf(&b, "- %s: %s to %s departing %s, %s class, £%.2f (%s)\n",
			bk.Reference, bk.FromStation, bk.ToStation,
			bk.Departure.Format("Mon 2 Jan 15:04"), ticketLabel(bk.TicketType), bk.Price, bk.Status)
	}
	return strings.TrimRight(b.String(), "\n")
}

func ticketLabel(tt support.TicketType) string {
	switch tt {
	case support.TicketFirstClass:
		return "first"
	case support.TicketFlexible:
		return "flexible"
	case support.TicketStandard:
		return "standard"
	}
	return string(tt)
}
