// Package ledger owns all booking and transaction state. Every mutation to a
// booking goes through this package, scoped by a per-booking lock, and leaves
// an append-only transaction trail behind it.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ntg2208/production-ai-customer-support/internal/support"
)

// Store is the SQLite persistence layer beneath the ledger engine.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the ledger database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger store: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent sessions; the
	// per-booking locks serialize logical conflicts above this layer.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		phone TEXT,
		address TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS fares (
		from_station TEXT NOT NULL,
		to_station TEXT NOT NULL,
		ticket_type TEXT NOT NULL,
		base_price REAL NOT NULL,
		distance_km INTEGER,
		PRIMARY KEY (from_station, to_station, ticket_type)
	);
	CREATE TABLE IF NOT EXISTS schedules (
		train_number TEXT NOT NULL,
		service_name TEXT,
		operator TEXT,
		from_station TEXT NOT NULL,
		to_station TEXT NOT NULL,
		departure TEXT NOT NULL,
		arrival TEXT NOT NULL,
		duration_min INTEGER,
		distance_km INTEGER,
		PRIMARY KEY (train_number, from_station, to_station)
	);
	CREATE TABLE IF NOT EXISTS bookings (
		reference TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		train_number TEXT NOT NULL,
		from_station TEXT NOT NULL,
		to_station TEXT NOT NULL,
		departure DATETIME NOT NULL,
		arrival DATETIME NOT NULL,
		ticket_type TEXT NOT NULL,
		price REAL NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		booked_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bookings_customer ON bookings(customer_id);
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		booking_ref TEXT NOT NULL REFERENCES bookings(reference),
		kind TEXT NOT NULL,
		amount REAL NOT NULL,
		timestamp DATETIME NOT NULL,
		note TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_booking ON transactions(booking_ref);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return nil
}

// PutCustomer inserts or replaces a customer record.
func (s *Store) PutCustomer(ctx context.Context, c support.Customer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO customers (id, name, email, phone, address, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Email, c.Phone, c.Address, c.CreatedAt)
	return err
}

// Customer fetches one customer by id.
func (s *Store) Customer(ctx context.Context, id string) (*support.Customer, error) {
	var c support.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, address, created_at
		FROM customers WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, support.NotFoundf("customer %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// PutFare inserts or replaces one fare row.
func (s *Store) PutFare(ctx context.Context, f support.Fare) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO fares (from_station, to_station, ticket_type, base_price, distance_km)
		VALUES (?, ?, ?, ?, ?)`,
		f.FromStation, f.ToStation, f.TicketType, f.BasePrice, f.DistanceKM)
	return err
}

// Fare returns the base price for a route and fare class.
func (s *Store) Fare(ctx context.Context, from, to string, tt support.TicketType) (*support.Fare, error) {
	var f support.Fare
	err := s.db.QueryRowContext(ctx, `
		SELECT from_station, to_station, ticket_type, base_price, distance_km
		FROM fares WHERE from_station = ? AND to_station = ? AND ticket_type = ?`,
		from, to, tt).
		Scan(&f.FromStation, &f.ToStation, &f.TicketType, &f.BasePrice, &f.DistanceKM)
	if err == sql.ErrNoRows {
		return nil, support.NotFoundf("no fare for %s to %s (%s)", from, to, tt)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// PutSchedule inserts or replaces one timetabled service.
func (s *Store) PutSchedule(ctx context.Context, sc support.Schedule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO schedules
		(train_number, service_name, operator, from_station, to_station, departure, arrival, duration_min, distance_km)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.TrainNumber, sc.ServiceName, sc.Operator, sc.FromStation, sc.ToStation,
		sc.Departure, sc.Arrival, sc.DurationMin, sc.DistanceKM)
	return err
}

// Schedules returns the timetabled services between any of the given station
// sets. Empty slices match everything on that side.
func (s *Store) Schedules(ctx context.Context, fromStations, toStations []string) ([]support.Schedule, error) {
	query := `
		SELECT train_number, service_name, operator, from_station, to_station,
		       departure, arrival, duration_min, distance_km
		FROM schedules WHERE 1=1`
	var args []any
	if len(fromStations) > 0 {
		query += " AND from_station IN (" + placeholders(len(fromStations)) + ")"
		for _, st := range fromStations {
			args = append(args, st)
		}
	}
	if len(toStations) > 0 {
		query += " AND to_station IN (" + placeholders(len(toStations)) + ")"
		for _, st := range toStations {
			args = append(args, st)
		}
	}
	query += " ORDER BY departure, train_number"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []support.Schedule
	for rows.Next() {
		var sc support.Schedule
		if err := rows.Scan(&sc.TrainNumber, &sc.ServiceName, &sc.Operator, &sc.FromStation,
			&sc.ToStation, &sc.Departure, &sc.Arrival, &sc.DurationMin, &sc.DistanceKM); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Schedule fetches one service by train number and route.
func (s *Store) Schedule(ctx context.Context, trainNumber, from, to string) (*support.Schedule, error) {
	var sc support.Schedule
	err := s.db.QueryRowContext(ctx, `
		SELECT train_number, service_name, operator, from_station, to_station,
		       departure, arrival, duration_min, distance_km
		FROM schedules WHERE train_number = ? AND from_station = ? AND to_station = ?`,
		trainNumber, from, to).
		Scan(&sc.TrainNumber, &sc.ServiceName, &sc.Operator, &sc.FromStation,
			&sc.ToStation, &sc.Departure, &sc.Arrival, &sc.DurationMin, &sc.DistanceKM)
	if err == sql.ErrNoRows {
		return nil, support.NotFoundf("no service %s from %s to %s", trainNumber, from, to)
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx so the booking write
// statements can run standalone or inside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertBooking(ctx context.Context, ex execer, b support.Booking) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO bookings
		(reference, customer_id, train_number, from_station, to_station,
		 departure, arrival, ticket_type, price, status, booked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Reference, b.CustomerID, b.TrainNumber, b.FromStation, b.ToStation,
		b.Departure, b.Arrival, b.TicketType, b.Price, b.Status, b.BookedAt)
	return err
}

func updateBooking(ctx context.Context, ex execer, b support.Booking) error {
	res, err := ex.ExecContext(ctx, `
		UPDATE bookings SET train_number = ?, from_station = ?, to_station = ?,
			departure = ?, arrival = ?, ticket_type = ?, price = ?, status = ?
		WHERE reference = ?`,
		b.TrainNumber, b.FromStation, b.ToStation, b.Departure, b.Arrival,
		b.TicketType, b.Price, b.Status, b.Reference)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return support.NotFoundf("booking %s not found", b.Reference)
	}
	return nil
}

func appendTransaction(ctx context.Context, ex execer, t support.Transaction) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO transactions (id, booking_ref, kind, amount, timestamp, note)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.BookingRef, t.Kind, t.Amount, t.Timestamp, t.Note)
	return err
}

// withTx runs fn inside one database transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// InsertBooking writes a new booking row.
func (s *Store) InsertBooking(ctx context.Context, b support.Booking) error {
	return insertBooking(ctx, s.db, b)
}

// UpdateBooking rewrites the mutable columns of an existing booking.
func (s *Store) UpdateBooking(ctx context.Context, b support.Booking) error {
	return updateBooking(ctx, s.db, b)
}

// InsertBookingWithTrail writes a new booking and its ledger entries in one
// database transaction: either the booking exists with its full trail or
// nothing is written.
func (s *Store) InsertBookingWithTrail(ctx context.Context, b support.Booking, txns ...support.Transaction) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertBooking(ctx, tx, b); err != nil {
			return err
		}
		for _, t := range txns {
			if err := appendTransaction(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateBookingWithTrail rewrites a booking and appends its ledger entries
// in one database transaction, so a booking can never change state without
// the trail that explains it.
func (s *Store) UpdateBookingWithTrail(ctx context.Context, b support.Booking, txns ...support.Transaction) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateBooking(ctx, tx, b); err != nil {
			return err
		}
		for _, t := range txns {
			if err := appendTransaction(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

// Booking fetches one booking by reference.
func (s *Store) Booking(ctx context.Context, ref string) (*support.Booking, error) {
	var b support.Booking
	err := s.db.QueryRowContext(ctx, `
		SELECT reference, customer_id, train_number, from_station, to_station,
		       departure, arrival, ticket_type, price, status, booked_at
		FROM bookings WHERE reference = ?`, ref).
		Scan(&b.Reference, &b.CustomerID, &b.TrainNumber, &b.FromStation, &b.ToStation,
			&b.Departure, &b.Arrival, &b.TicketType, &b.Price, &b.Status, &b.BookedAt)
	if err == sql.ErrNoRows {
		return nil, support.NotFoundf("booking %s not found", ref)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CustomerBookings returns every booking for a customer, newest departure
// first.
func (s *Store) CustomerBookings(ctx context.Context, customerID string) ([]support.Booking, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reference, customer_id, train_number, from_station, to_station,
		       departure, arrival, ticket_type, price, status, booked_at
		FROM bookings WHERE customer_id = ? ORDER BY departure DESC`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []support.Booking
	for rows.Next() {
		var b support.Booking
		if err := rows.Scan(&b.Reference, &b.CustomerID, &b.TrainNumber, &b.FromStation, &b.ToStation,
			&b.Departure, &b.Arrival, &b.TicketType, &b.Price, &b.Status, &b.BookedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// NextReference allocates the next UKC booking reference. Safe under the
// single-connection store; callers hold the booking lock during create.
func (s *Store) NextReference(ctx context.Context) (string, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(CAST(SUBSTR(reference, 4) AS INTEGER)) FROM bookings WHERE reference LIKE 'UKC%'`).
		Scan(&max)
	if err != nil {
		return "", err
	}
	next := int64(1001)
	if max.Valid && max.Int64 >= next {
		next = max.Int64 + 1
	}
	return fmt.Sprintf("UKC%d", next), nil
}

// AppendTransaction appends one immutable ledger entry.
func (s *Store) AppendTransaction(ctx context.Context, t support.Transaction) error {
	return appendTransaction(ctx, s.db, t)
}

// Transactions returns a booking's ledger entries in append order.
func (s *Store) Transactions(ctx context.Context, bookingRef string) ([]support.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, booking_ref, kind, amount, timestamp, note
		FROM transactions WHERE booking_ref = ? ORDER BY timestamp, rowid`, bookingRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []support.Transaction
	for rows.Next() {
		var t support.Transaction
		var note sql.NullString
		if err := rows.Scan(&t.ID, &t.BookingRef, &t.Kind, &t.Amount, &t.Timestamp, &note); err != nil {
			return nil, err
		}
		t.Note = note.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// ActiveDeparted returns references of active bookings whose departure is
// before cutoff. The janitor marks these completed.
func (s *Store) ActiveDeparted(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reference FROM bookings WHERE status = ? AND departure < ?`,
		support.StatusActive, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	out := make([]byte, 0, 2*n)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
