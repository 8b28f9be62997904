package ledger

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ntg2208/production-ai-customer-support/internal/clock"
	"github.com/ntg2208/production-ai-customer-support/internal/config"
	"github.com/ntg2208/production-ai-customer-support/internal/support"
)

// createLock serializes reference allocation across concurrent creates.
const createLock = "__create__"

// Engine implements the transactional ledger operations. Each operation is
// atomic with respect to a single booking: mutations hold that booking's
// exclusive lock for their duration.
type Engine struct {
	store     *Store
	locks     *lockRegistry
	bands     map[support.TicketType][]config.RefundBand
	modCutoff time.Duration
	clk       clock.Clock
	logger    *zap.Logger
}

// NewEngine builds a ledger engine over the given store and refund policy.
func NewEngine(store *Store, cfg config.LedgerConfig, lockWait time.Duration, clk clock.Clock, logger *zap.Logger) *Engine {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     store,
		locks:     newLockRegistry(lockWait),
		bands:     cfg.RefundBands,
		modCutoff: time.Duration(cfg.ModificationCutoffHours) * time.Hour,
		clk:       clk,
		logger:    logger,
	}
}

// SearchCriteria filters a fare search. Empty station slices match any
// station on that side; a zero DepartAfter defaults to the current time.
type SearchCriteria struct {
	FromStations []string
	ToStations   []string
	TicketType   support.TicketType
	MaxPrice     float64
	DepartAfter  time.Time
}

// Search returns bookable departures matching the criteria, sorted by
// departure time ascending. Pure read, no locking.
func (e *Engine) Search(ctx context.Context, crit SearchCriteria) ([]support.TripOption, error) {
	if crit.TicketType != "" && !support.ValidTicketType(crit.TicketType) {
		return nil, support.Validationf("unknown ticket type %q", crit.TicketType)
	}

	after := crit.DepartAfter
	if after.IsZero() {
		after = e.clk.Now()
	}

	schedules, err := e.store.Schedules(ctx, crit.FromStations, crit.ToStations)
	if err != nil {
		return nil, err
	}

	types := []support.TicketType{support.TicketStandard, support.TicketFlexible, support.TicketFirstClass}
	if crit.TicketType != "" {
		types = []support.TicketType{crit.TicketType}
	}

	var trips []support.TripOption
	for _, sc := range schedules {
		dep, err := nextDeparture(sc.Departure, after)
		if err != nil {
			e.logger.Warn("bad schedule time",
				zap.String("train", sc.TrainNumber),
				zap.String("departure", sc.Departure))
			continue
		}
		arr := dep.Add(time.Duration(sc.DurationMin) * time.Minute)

		for _, tt := range types {
			fare, err := e.store.Fare(ctx, sc.FromStation, sc.ToStation, tt)
			if err != nil {
				continue
			}
			if crit.MaxPrice > 0 && fare.BasePrice > crit.MaxPrice {
				continue
			}
			trips = append(trips, support.TripOption{
				TrainNumber: sc.TrainNumber,
				ServiceName: sc.ServiceName,
				Operator:    sc.Operator,
				FromStation: sc.FromStation,
				ToStation:   sc.ToStation,
				Departure:   dep,
				Arrival:     arr,
				TicketType:  tt,
				Price:       fare.BasePrice,
			})
		}
	}

	sort.SliceStable(trips, func(i, j int) bool {
		if !trips[i].Departure.Equal(trips[j].Departure) {
			return trips[i].Departure.Before(trips[j].Departure)
		}
		if trips[i].TrainNumber != trips[j].TrainNumber {
			return trips[i].TrainNumber < trips[j].TrainNumber
		}
		return trips[i].Price < trips[j].Price
	})
	return trips, nil
}

// nextDeparture projects a daily HH:MM timetable slot onto the first
// occurrence at or after the given instant.
func nextDeparture(hhmm string, after time.Time) (time.Time, error) {
	slot, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timetable slot %q: %w", hhmm, err)
	}
	dep := time.Date(after.Year(), after.Month(), after.Day(),
		slot.Hour(), slot.Minute(), 0, 0, after.Location())
	if dep.Before(after) {
		dep = dep.AddDate(0, 0, 1)
	}
	return dep, nil
}

// CreateParams are the required fields for a new booking.
type CreateParams struct {
	CustomerID  string
	TrainNumber string
	FromStation string
	ToStation   string
	Departure   time.Time
	TicketType  support.TicketType
}

// Create allocates a reference, writes an Active booking, and appends its
// Booking transaction.
func (e *Engine) Create(ctx context.Context, p CreateParams) (*support.Booking, error) {
	switch {
	case p.CustomerID == "":
		return nil, support.Validationf("customer id is required")
	case p.TrainNumber == "":
		return nil, support.Validationf("train number is required")
	case p.FromStation == "" || p.ToStation == "":
		return nil, support.Validationf("both stations are required")
	case !support.ValidTicketType(p.TicketType):
		return nil, support.Validationf("unknown ticket type %q", p.TicketType)
	}

	now := e.clk.Now()
	if p.Departure.IsZero() || !p.Departure.After(now) {
		return nil, support.Validationf("departure %s is not in the future", p.Departure.Format(time.RFC3339))
	}

	if _, err := e.store.Customer(ctx, p.CustomerID); err != nil {
		return nil, err
	}
	sc, err := e.store.Schedule(ctx, p.TrainNumber, p.FromStation, p.ToStation)
	if err != nil {
		return nil, support.Validationf("invalid route: no service %s from %s to %s",
			p.TrainNumber, p.FromStation, p.ToStation)
	}
	fare, err := e.store.Fare(ctx, p.FromStation, p.ToStation, p.TicketType)
	if err != nil {
		return nil, support.Validationf("no %s fare from %s to %s", p.TicketType, p.FromStation, p.ToStation)
	}

	release, err := e.locks.acquire(ctx, createLock)
	if err != nil {
		return nil, err
	}
	defer release()

	ref, err := e.store.NextReference(ctx)
	if err != nil {
		return nil, err
	}

	b := support.Booking{
		Reference:   ref,
		CustomerID:  p.CustomerID,
		TrainNumber: p.TrainNumber,
		FromStation: p.FromStation,
		ToStation:   p.ToStation,
		Departure:   p.Departure,
		Arrival:     p.Departure.Add(time.Duration(sc.DurationMin) * time.Minute),
		TicketType:  p.TicketType,
		Price:       fare.BasePrice,
		Status:      support.StatusActive,
		BookedAt:    now,
	}
	bookingTxn := e.newTxn(ref, support.TxnBooking, fare.BasePrice,
		fmt.Sprintf("%s %s to %s (%s)", p.TrainNumber, p.FromStation, p.ToStation, p.TicketType))
	if err := e.store.InsertBookingWithTrail(ctx, b, bookingTxn); err != nil {
		return nil, err
	}

	e.logger.Info("booking created",
		zap.String("reference", ref),
		zap.String("customer", p.CustomerID),
		zap.Float64("price", fare.BasePrice))
	return &b, nil
}

// ModifyParams carries the changes for a booking modification. Zero fields
// keep the current value.
type ModifyParams struct {
	Departure  time.Time
	TicketType support.TicketType
}

// Modify reschedules or re-classes an Active booking. Permitted only more
// than the configured cutoff before the current departure; on success the
// booking stays Active and a Modification transaction records the price
// delta.
func (e *Engine) Modify(ctx context.Context, ref string, p ModifyParams) (*support.Booking, error) {
	if p.Departure.IsZero() && p.TicketType == "" {
		return nil, support.Validationf("modification requires a new departure or ticket type")
	}
	if p.TicketType != "" && !support.ValidTicketType(p.TicketType) {
		return nil, support.Validationf("unknown ticket type %q", p.TicketType)
	}

	release, err := e.locks.acquire(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer release()

	b, err := e.store.Booking(ctx, ref)
	if err != nil {
		return nil, err
	}
	if b.Status != support.StatusActive {
		return nil, support.PolicyViolationf("booking %s is %s and cannot be modified", ref, b.Status)
	}

	now := e.clk.Now()
	if b.Departure.Sub(now) <= e.modCutoff {
		return nil, support.PolicyViolationf(
			"booking %s departs within %s and can no longer be modified", ref, e.modCutoff)
	}

	oldPrice := b.Price
	if p.TicketType != "" && p.TicketType != b.TicketType {
		fare, err := e.store.Fare(ctx, b.FromStation, b.ToStation, p.TicketType)
		if err != nil {
			return nil, support.Validationf("no %s fare from %s to %s", p.TicketType, b.FromStation, b.ToStation)
		}
		b.TicketType = p.TicketType
		b.Price = fare.BasePrice
	}
	if !p.Departure.IsZero() {
		if !p.Departure.After(now) {
			return nil, support.Validationf("new departure %s is not in the future", p.Departure.Format(time.RFC3339))
		}
		// "Tomorrow" arrives as a day boundary; snap it to the service's
		// next timetable slot at or after the requested instant.
		dep := p.Departure
		if sc, err := e.store.Schedule(ctx, b.TrainNumber, b.FromStation, b.ToStation); err == nil {
			if snapped, serr := nextDeparture(sc.Departure, dep); serr == nil {
				dep = snapped
			}
		}
		duration := b.Arrival.Sub(b.Departure)
		b.Departure = dep
		b.Arrival = dep.Add(duration)
	}

	modTxn := e.newTxn(ref, support.TxnModification, round2(b.Price-oldPrice),
		fmt.Sprintf("rebooked to %s (%s)", b.Departure.Format("2006-01-02 15:04"), b.TicketType))
	if err := e.store.UpdateBookingWithTrail(ctx, *b, modTxn); err != nil {
		return nil, err
	}

	e.logger.Info("booking modified",
		zap.String("reference", ref),
		zap.Float64("price_delta", round2(b.Price-oldPrice)))
	return b, nil
}

// Cancel cancels an Active booking and computes its refund. Exactly one
// Cancellation and one Refund transaction are appended. Cancelling an
// unknown booking fails with a not-found error; cancelling a booking that
// is already cancelled or completed fails with a policy violation, never
// silently succeeds.
func (e *Engine) Cancel(ctx context.Context, ref string) (*support.Booking, float64, error) {
	release, err := e.locks.acquire(ctx, ref)
	if err != nil {
		return nil, 0, err
	}
	defer release()

	b, err := e.store.Booking(ctx, ref)
	if err != nil {
		return nil, 0, err
	}
	if b.Status != support.StatusActive {
		return nil, 0, support.PolicyViolationf("booking %s is already %s", ref, b.Status)
	}

	refund, err := e.refundFor(b)
	if err != nil {
		return nil, 0, err
	}

	b.Status = support.StatusCancelled
	cancelTxn := e.newTxn(ref, support.TxnCancellation, 0,
		fmt.Sprintf("cancelled %.1fh before departure", b.Departure.Sub(e.clk.Now()).Hours()))
	refundTxn := e.newTxn(ref, support.TxnRefund, refund,
		fmt.Sprintf("refund for %s fare priced %.2f", b.TicketType, b.Price))
	if err := e.store.UpdateBookingWithTrail(ctx, *b, cancelTxn, refundTxn); err != nil {
		return nil, 0, err
	}

	e.logger.Info("booking cancelled",
		zap.String("reference", ref),
		zap.Float64("refund", refund))
	return b, refund, nil
}

// QuoteRefund computes the refund a cancellation would pay right now,
// without mutating anything.
func (e *Engine) QuoteRefund(ctx context.Context, ref string) (float64, error) {
	b, err := e.store.Booking(ctx, ref)
	if err != nil {
		return 0, err
	}
	if b.Status != support.StatusActive {
		return 0, support.PolicyViolationf("booking %s is already %s", ref, b.Status)
	}
	return e.refundFor(b)
}

// refundFor applies the refund band table: price * rate - fee, clamped at
// zero. Bands are matched by the largest threshold not exceeding the hours
// remaining before departure.
func (e *Engine) refundFor(b *support.Booking) (float64, error) {
	hours := b.Departure.Sub(e.clk.Now()).Hours()
	if hours < 0 {
		return 0, support.PolicyViolationf("booking %s has already departed", b.Reference)
	}

	bands, ok := e.bands[b.TicketType]
	if !ok || len(bands) == 0 {
		return 0, support.Validationf("no refund policy for ticket type %q", b.TicketType)
	}

	best := -1
	for i, band := range bands {
		if hours >= float64(band.MinHoursBefore) {
			if best < 0 || band.MinHoursBefore > bands[best].MinHoursBefore {
				best = i
			}
		}
	}
	if best < 0 {
		return 0, nil
	}

	band := bands[best]
	refund := b.Price*float64(band.RefundPercent)/100 - band.CancellationFee
	if refund < 0 {
		refund = 0
	}
	return round2(refund), nil
}

// CustomerBookings returns a customer's bookings, newest departure first.
func (e *Engine) CustomerBookings(ctx context.Context, customerID string) ([]support.Booking, error) {
	if customerID == "" {
		return nil, support.Validationf("customer id is required")
	}
	if _, err := e.store.Customer(ctx, customerID); err != nil {
		return nil, err
	}
	return e.store.CustomerBookings(ctx, customerID)
}

// Customer returns one customer profile.
func (e *Engine) Customer(ctx context.Context, customerID string) (*support.Customer, error) {
	return e.store.Customer(ctx, customerID)
}

// Booking returns one booking by reference.
func (e *Engine) Booking(ctx context.Context, ref string) (*support.Booking, error) {
	return e.store.Booking(ctx, ref)
}

// History returns a booking's transaction trail in append order.
func (e *Engine) History(ctx context.Context, ref string) ([]support.Transaction, error) {
	if _, err := e.store.Booking(ctx, ref); err != nil {
		return nil, err
	}
	return e.store.Transactions(ctx, ref)
}

// MarkDeparted transitions active bookings whose departure has passed to
// Completed. Run periodically by the janitor.
func (e *Engine) MarkDeparted(ctx context.Context) (int, error) {
	refs, err := e.store.ActiveDeparted(ctx, e.clk.Now())
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, ref := range refs {
		release, err := e.locks.acquire(ctx, ref)
		if err != nil {
			continue
		}
		b, err := e.store.Booking(ctx, ref)
		if err == nil && b.Status == support.StatusActive {
			b.Status = support.StatusCompleted
			if err := e.store.UpdateBooking(ctx, *b); err == nil {
				marked++
			}
		}
		release()
	}

	if marked > 0 {
		e.logger.Info("departed bookings completed", zap.Int("count", marked))
	}
	return marked, nil
}

func (e *Engine) newTxn(ref string, kind support.TransactionKind, amount float64, note string) support.Transaction {
	return support.Transaction{
		ID:         uuid.New().String(),
		BookingRef: ref,
		Kind:       kind,
		Amount:     amount,
		Timestamp:  e.clk.Now(),
		Note:       note,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
