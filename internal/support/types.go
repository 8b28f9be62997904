// Package support holds the shared domain types for the UKConnect customer
// support core: customers, bookings, ledger transactions, conversation turns,
// and the dispatch plan exchanged between the router, the subsystem engines,
// and the response synthesizer.
package support

import "time"

// TicketType is the fare class of a booking.
type TicketType string

const (
	TicketStandard   TicketType = "standard"
	TicketFlexible   TicketType = "flexible"
	TicketFirstClass TicketType = "first_class"
)

// ValidTicketType reports whether t is one of the known fare classes.
func ValidTicketType(t TicketType) bool {
	switch t {
	case TicketStandard, TicketFlexible, TicketFirstClass:
		return true
	}
	return false
}

// BookingStatus is the lifecycle state of a booking.
//
// Transitions: Active -> Modified -> Active, Active -> Cancelled,
// Active -> Completed. Cancelled and Completed are terminal.
type BookingStatus string

const (
	StatusActive    BookingStatus = "active"
	StatusCancelled BookingStatus = "cancelled"
	StatusCompleted BookingStatus = "completed"
)

// Terminal reports whether no further transition is permitted out of s.
func (s BookingStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Customer mirrors the ledger's customer table. Contact fields are the only
// mutable part of the record.
type Customer struct {
	ID        string    `json:"id"` // CUS001 style reference
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// Booking is a single ticket booking owned by the ledger engine.
type Booking struct {
	Reference   string        `json:"reference"` // UKC#### booking reference
	CustomerID  string        `json:"customer_id"`
	TrainNumber string        `json:"train_number"`
	FromStation string        `json:"from_station"`
	ToStation   string        `json:"to_station"`
	Departure   time.Time     `json:"departure"`
	Arrival     time.Time     `json:"arrival"`
	TicketType  TicketType    `json:"ticket_type"`
	Price       float64       `json:"price"`
	Status      BookingStatus `json:"status"`
	BookedAt    time.Time     `json:"booked_at"`
}

// TransactionKind classifies a ledger entry.
type TransactionKind string

const (
	TxnBooking      TransactionKind = "booking"
	TxnModification TransactionKind = "modification"
	TxnCancellation TransactionKind = "cancellation"
	TxnRefund       TransactionKind = "refund"
)

// Transaction is an immutable, append-only ledger entry. The full history of
// a booking is reconstructable by replaying its transactions in order.
type Transaction struct {
	ID         string          `json:"id"`
	BookingRef string          `json:"booking_ref"`
	Kind       TransactionKind `json:"kind"`
	Amount     float64         `json:"amount"`
	Timestamp  time.Time       `json:"timestamp"`
	Note       string          `json:"note,omitempty"`
}

// Fare is a static route price reference: station pair and fare class to
// base price. Read-only at runtime.
type Fare struct {
	FromStation string     `json:"from_station"`
	ToStation   string     `json:"to_station"`
	TicketType  TicketType `json:"ticket_type"`
	BasePrice   float64    `json:"base_price"`
	DistanceKM  int        `json:"distance_km"`
}

// TripOption is one bookable departure produced by a fare search: a
// timetabled service projected onto a concrete date with its price for the
// requested fare class.
type TripOption struct {
	TrainNumber string     `json:"train_number"`
	ServiceName string     `json:"service_name"`
	Operator    string     `json:"operator"`
	FromStation string     `json:"from_station"`
	ToStation   string     `json:"to_station"`
	Departure   time.Time  `json:"departure"`
	Arrival     time.Time  `json:"arrival"`
	TicketType  TicketType `json:"ticket_type"`
	Price       float64    `json:"price"`
}

// Schedule is one timetabled service between two stations.
type Schedule struct {
	TrainNumber string `json:"train_number"`
	ServiceName string `json:"service_name"`
	Operator    string `json:"operator"`
	FromStation string `json:"from_station"`
	ToStation   string `json:"to_station"`
	Departure   string `json:"departure"` // HH:MM local
	Arrival     string `json:"arrival"`
	DurationMin int    `json:"duration_min"`
	DistanceKM  int    `json:"distance_km"`
}
