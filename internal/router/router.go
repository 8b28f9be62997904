// Package router classifies each inbound utterance and builds the dispatch
// plan executed against the retrieval and ledger engines. Classification is
// a pure function of the utterance and the session snapshot: lexical signal
// matching plus contextual priors, no side effects.
package router

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ntg2208/production-ai-customer-support/internal/clock"
	"github.com/ntg2208/production-ai-customer-support/internal/locations"
	"github.com/ntg2208/production-ai-customer-support/internal/support"
)

// policyPhrases score toward the retrieval branch. Multi-word phrases are
// matched before single words so "refund policy" counts as policy even
// though bare "refund" does not.
var policyPhrases = []string{
	"refund policy", "cancellation policy", "change fee", "modification fee",
	"what is the policy", "policy on", "terms and conditions",
}

var policyWords = []string{
	"policy", "policies", "terms", "conditions", "rules", "allowance",
	"allowed", "luggage", "baggage", "bicycle", "bike", "wheelchair",
	"assistance", "accessibility", "delay", "delays", "delayed",
	"compensation", "railcard", "payment", "fee", "fees", "charges",
	"discount", "wifi", "pets",
}

// ledgerWords score toward a ledger operation.
var ledgerWords = []string{
	"book", "booking", "bookings", "cancel", "cancellation", "modify",
	"change", "reschedule", "rebook", "reserve", "ticket", "tickets",
	"train", "trains", "travel", "trip", "journey", "seat", "fare",
	"fares", "options", "availability", "available", "schedule",
	"departures", "price", "prices", "cost", "find",
}

var (
	bookingRefRe = regexp.MustCompile(`(?i)\bUKC\d{3,6}\b`)
	customerRe   = regexp.MustCompile(`(?i)\bCUS\d{3,6}\b`)
	trainRe      = regexp.MustCompile(`(?i)\bUK\d{3}\b`)
	fromToRe     = regexp.MustCompile(`(?i)\bfrom\s+([a-z' ]+?)\s+to\s+([a-z' ]+?)(?:\s+(?:on|at|tomorrow|today|next|this|under|for|with|in)\b|[.,?!]|$)`)
	toOnlyRe     = regexp.MustCompile(`(?i)\bto\s+([a-z' ]+?)(?:\s+(?:on|at|tomorrow|today|next|this|under|for|with|in|from)\b|[.,?!]|$)`)
	maxPriceRe   = regexp.MustCompile(`(?i)(?:under|below|less than|max(?:imum)?(?: of)?)\s*£?\s*(\d+(?:\.\d+)?)`)
)

// Router builds dispatch plans. The injected clock anchors relative times
// ("tomorrow") so classification stays deterministic under test.
type Router struct {
	clk clock.Clock
}

// New returns a router using the given clock.
func New(clk clock.Clock) *Router {
	if clk == nil {
		clk = clock.System{}
	}
	return &Router{clk: clk}
}

// Classify maps an utterance and the session snapshot to a dispatch plan.
// Pure: identical inputs always produce the identical plan.
func (r *Router) Classify(utterance string, snap support.Snapshot) support.DispatchPlan {
	lower := strings.ToLower(utterance)

	// Words inside a matched policy phrase ("change fee") must not also
	// count as ledger signals, so ledger words score on the residue.
	phraseScore, residue := matchPhrases(lower, policyPhrases)
	policyScore := phraseScore*2 + scoreWords(residue, policyWords)
	ledgerScore := scoreWords(residue, ledgerWords)

	// Contextual priors: a booking reference in the utterance or the
	// session history biases toward the ledger.
	ref := extractBookingRef(lower, snap)
	if bookingRefRe.MatchString(utterance) {
		ledgerScore += 2
	} else if ref != "" && mentionsExistingBooking(lower) {
		ledgerScore++
	}

	// Bare "refund" next to a cancel action asks for a ledger outcome;
	// anywhere else it is a policy lookup.
	if containsWord(residue, "refund") {
		if strings.Contains(lower, "cancel") || ref != "" {
			ledgerScore++
		} else {
			policyScore++
		}
	}

	switch {
	case policyScore == 0 && ledgerScore == 0:
		return support.DispatchPlan{Decision: support.RouteNone}
	case policyScore > 0 && ledgerScore > 0:
		return r.mixedPlan(utterance, lower, snap, ref, policyScore, ledgerScore)
	case ledgerScore > 0:
		return support.DispatchPlan{
			Decision:   support.RouteLedger,
			Confidence: confidence(ledgerScore, policyScore),
			Branches:   []support.Branch{r.ledgerBranch("ledger-1", lower, snap, ref)},
		}
	default:
		return support.DispatchPlan{
			Decision:   support.RoutePolicy,
			Confidence: confidence(policyScore, ledgerScore),
			Branches:   []support.Branch{retrievalBranch("retrieval-1", utterance, "")},
		}
	}
}

// mixedPlan builds a two-branch plan. When the ledger branch mutates state
// that the policy answer depends on (cancel, modify), the retrieval branch
// is sequenced after it; otherwise the branches run in parallel.
func (r *Router) mixedPlan(utterance, lower string, snap support.Snapshot, ref string, policyScore, ledgerScore int) support.DispatchPlan {
	ledger := r.ledgerBranch("ledger-1", lower, snap, ref)

	dependsOn := ""
	if ledger.Op == support.OpCancel || ledger.Op == support.OpModify {
		dependsOn = ledger.ID
	}
	retrieval := retrievalBranch("retrieval-1", utterance, dependsOn)

	lo, hi := policyScore, ledgerScore
	if lo > hi {
		lo, hi = hi, lo
	}
	return support.DispatchPlan{
		Decision:   support.RouteMixed,
		Confidence: float64(lo) / float64(hi),
		Branches:   []support.Branch{ledger, retrieval},
	}
}

// ledgerBranch infers the operation and extracts its parameters.
func (r *Router) ledgerBranch(id, lower string, snap support.Snapshot, ref string) support.Branch {
	br := support.Branch{ID: id, Subsystem: support.SubsystemLedger}

	customerID := ""
	if snap.Customer != nil {
		customerID = snap.Customer.ID
	}
	if m := customerRe.FindString(lower); m != "" {
		customerID = strings.ToUpper(m)
	}

	switch {
	case ref != "" && asksForQuote(lower):
		// A refund question about a specific booking wants the amount a
		// cancellation would pay, not the cancellation itself.
		br.Op = support.OpQuoteRefund
		br.Params = support.LedgerParams{BookingRef: ref, CustomerID: customerID}
	case strings.Contains(lower, "cancel"):
		br.Op = support.OpCancel
		br.Params = support.LedgerParams{BookingRef: ref, CustomerID: customerID}
	case strings.Contains(lower, "modify") || strings.Contains(lower, "reschedule") ||
		strings.Contains(lower, "rebook") || strings.Contains(lower, "change my"):
		br.Op = support.OpModify
		br.Params = support.LedgerParams{
			BookingRef:  ref,
			CustomerID:  customerID,
			TicketType:  extractTicketType(lower),
			DepartAfter: r.departAfter(lower),
		}
	case strings.Contains(lower, "my booking") || strings.Contains(lower, "my bookings") ||
		strings.Contains(lower, "my trips") || strings.Contains(lower, "my tickets"):
		br.Op = support.OpQueryCustomer
		br.Params = support.LedgerParams{CustomerID: customerID}
	case (strings.Contains(lower, "book") || strings.Contains(lower, "reserve")) && trainRe.MatchString(lower):
		// Naming a specific service means the customer wants it booked,
		// not searched.
		br.Op = support.OpCreate
		br.Params = r.searchParams(lower, snap)
		br.Params.CustomerID = customerID
		br.Params.TrainNumber = strings.ToUpper(trainRe.FindString(lower))
	default:
		br.Op = support.OpSearch
		br.Params = r.searchParams(lower, snap)
		br.Params.CustomerID = customerID
	}
	return br
}

// searchParams extracts route, class, price cap, and departure window. A
// missing origin falls back to the customer's resolved home station.
func (r *Router) searchParams(lower string, snap support.Snapshot) support.LedgerParams {
	p := support.LedgerParams{TicketType: extractTicketType(lower)}

	if m := fromToRe.FindStringSubmatch(lower); m != nil {
		p.FromPlace = strings.TrimSpace(m[1])
		p.ToPlace = strings.TrimSpace(m[2])
	} else if m := toOnlyRe.FindStringSubmatch(lower); m != nil {
		if place := strings.TrimSpace(m[1]); locations.Normalize(place).Kind != locations.KindUnknown {
			p.ToPlace = place
		}
	}
	if p.FromPlace == "" && snap.HomeStation != "" {
		p.FromPlace = snap.HomeStation
	}

	if m := maxPriceRe.FindStringSubmatch(lower); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			p.MaxPrice = v
		}
	}

	p.DepartAfter = r.departAfter(lower)
	return p
}

// departAfter anchors a relative date mention to the injected clock. Zero
// when the utterance names no date.
func (r *Router) departAfter(lower string) time.Time {
	now := r.clk.Now()
	switch {
	case strings.Contains(lower, "tomorrow"):
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	case strings.Contains(lower, "today"):
		return now
	}
	return time.Time{}
}

// asksForQuote reports whether the utterance asks what a refund would be
// rather than requesting a cancellation.
func asksForQuote(lower string) bool {
	for _, phrase := range []string{
		"how much refund", "what refund", "refund would i get", "refund will i get",
		"refund amount", "what would my refund be", "how much would i get back",
		"how much will i get back",
	} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func retrievalBranch(id, utterance, dependsOn string) support.Branch {
	return support.Branch{
		ID:        id,
		Subsystem: support.SubsystemRetrieval,
		Query:     utterance,
		DependsOn: dependsOn,
	}
}

// extractBookingRef finds an explicit reference in the utterance, falling
// back to the most recent reference seen this session when the customer
// says "it" or "my booking".
func extractBookingRef(lower string, snap support.Snapshot) string {
	if m := bookingRefRe.FindString(lower); m != "" {
		return strings.ToUpper(m)
	}
	if len(snap.RecentBookings) > 0 && mentionsExistingBooking(lower) {
		return snap.RecentBookings[len(snap.RecentBookings)-1]
	}
	return ""
}

func mentionsExistingBooking(lower string) bool {
	for _, phrase := range []string{"my booking", "the booking", "that booking", "cancel it", "change it", "modify it"} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func extractTicketType(lower string) support.TicketType {
	switch {
	case strings.Contains(lower, "first class") || strings.Contains(lower, "first-class"):
		return support.TicketFirstClass
	case strings.Contains(lower, "flexible"):
		return support.TicketFlexible
	case strings.Contains(lower, "standard"):
		return support.TicketStandard
	}
	return ""
}

func scoreWords(lower string, words []string) int {
	score := 0
	for _, w := range words {
		if containsWord(lower, w) {
			score++
		}
	}
	return score
}

// matchPhrases counts phrase hits and returns the text with matched phrases
// blanked out.
func matchPhrases(lower string, phrases []string) (int, string) {
	score := 0
	residue := lower
	for _, p := range phrases {
		if strings.Contains(residue, p) {
			score++
			residue = strings.ReplaceAll(residue, p, " ")
		}
	}
	return score, residue
}

func containsWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isLetter(s[i-1])
		after := i+len(word) >= len(s) || !isLetter(s[i+len(word)])
		if before && after {
			return true
		}
		idx = i + 1
	}
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

// confidence maps a winning and losing signal count to a margin in (0.5, 1].
func confidence(win, lose int) float64 {
	if win+lose == 0 {
		return 0
	}
	return float64(win) / float64(win+lose)
}
