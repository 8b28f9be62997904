// Package session is the context manager: it owns conversation state per
// session, serializes turns within a session, and produces the snapshot the
// router classifies against. Session lifecycle (creation, history trimming,
// idle eviction) lives here and nowhere else.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ntg2208/production-ai-customer-support/internal/clock"
	"github.com/ntg2208/production-ai-customer-support/internal/locations"
	"github.com/ntg2208/production-ai-customer-support/internal/support"
)

// CustomerDirectory is the slice of the ledger the context manager needs to
// attach a profile to a snapshot.
type CustomerDirectory interface {
	Customer(ctx context.Context, customerID string) (*support.Customer, error)
}

// state is the in-memory record for one live session.
type state struct {
	mu         sync.Mutex // held for the whole of a turn
	customerID string
	turns      []support.Turn
	bookings   []string // references surfaced this session, oldest first
	lastSeen   time.Time
	turnCount  int
}

// Manager tracks live sessions. Turns within one session are strictly
// sequential; distinct sessions never contend.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*state

	directory CustomerDirectory
	log       *TurnLog
	window    int
	idleTTL   time.Duration
	clk       clock.Clock
	logger    *zap.Logger
}

// NewManager builds a context manager. log may be nil to skip persistence.
func NewManager(directory CustomerDirectory, log *TurnLog, window int, idleTTL time.Duration, clk clock.Clock, logger *zap.Logger) *Manager {
	if window <= 0 {
		window = 20
	}
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions:  make(map[string]*state),
		directory: directory,
		log:       log,
		window:    window,
		idleTTL:   idleTTL,
		clk:       clk,
		logger:    logger,
	}
}

func (m *Manager) get(sessionID, customerID string) *state {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		s = &state{customerID: customerID, lastSeen: m.clk.Now()}
		m.sessions[sessionID] = s
		m.logger.Debug("session created", zap.String("session", sessionID))
	}
	if customerID != "" {
		s.customerID = customerID
	}
	return s
}

// Begin takes the session's turn lock. The returned release must be called
// when the turn's dispatch plan has fully resolved; no second turn for the
// session starts before then.
func (m *Manager) Begin(sessionID, customerID string) (release func()) {
	s := m.get(sessionID, customerID)
	s.mu.Lock()
	return s.mu.Unlock
}

// Snapshot builds the router's view of a session: profile, resolved home
// station, recent history, and the booking references seen so far.
func (m *Manager) Snapshot(ctx context.Context, sessionID string) (support.Snapshot, error) {
	s := m.get(sessionID, "")

	snap := support.Snapshot{SessionID: sessionID}

	if s.customerID != "" && m.directory != nil {
		customer, err := m.directory.Customer(ctx, s.customerID)
		if err == nil {
			snap.Customer = customer
			if station, ok := locations.Resolve(customer.Address); ok {
				snap.HomeStation = station
			}
		} else if !support.UserFacing(err) {
			return snap, err
		}
	}

	snap.RecentTurns = append(snap.RecentTurns, s.turns...)
	snap.RecentBookings = append(snap.RecentBookings, s.bookings...)
	snap.TurnCount = s.turnCount
	if n := len(s.turns); n > 0 {
		snap.LastDecision = s.turns[n-1].Metadata.RoutingDecision
	}
	return snap, nil
}

// Append records a completed turn: bumps the history ring, harvests booking
// references for future priors, and writes the persistent log entry.
func (m *Manager) Append(ctx context.Context, sessionID string, turn support.Turn) error {
	s := m.get(sessionID, "")

	s.turnCount++
	s.lastSeen = m.clk.Now()
	s.turns = append(s.turns, turn)
	if len(s.turns) > m.window {
		s.turns = s.turns[len(s.turns)-m.window:]
	}

	for _, br := range turn.Plan.Branches {
		if ref := br.Params.BookingRef; ref != "" && !contains(s.bookings, ref) {
			s.bookings = append(s.bookings, ref)
		}
	}

	if m.log != nil {
		if err := m.log.Append(ctx, sessionID, s.turnCount, turn); err != nil {
			return err
		}
	}
	return nil
}

// EvictIdle drops sessions idle longer than the TTL and returns how many
// were removed. Run periodically by the janitor.
func (m *Manager) EvictIdle() int {
	cutoff := m.clk.Now().Add(-m.idleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, s := range m.sessions {
		// Skip sessions mid-turn.
		if !s.mu.TryLock() {
			continue
		}
		idle := s.lastSeen.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(m.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		m.logger.Info("idle sessions evicted", zap.Int("count", evicted))
	}
	return evicted
}

// Live returns the number of sessions currently held in memory.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
