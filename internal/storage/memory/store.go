// Package memory is an in-process implementation of every store interface.
// It backs the "memory" storage driver for local runs and serves as the fake
// backend in tests. A single mutex plays the role of the database's atomic
// unit: every write path builds its changes first and applies them only when
// all steps succeeded.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gold-bot/internal/models"
	"gold-bot/internal/session"
	"gold-bot/internal/xerrors"
)

// Fault stages accepted by FailOn.
const (
	StageCreateSession     = "create_session"
	StageLookupSession     = "lookup_session"
	StageInsertUser        = "insert_user"
	StageInsertTransaction = "insert_transaction"
	StageInsertEvent       = "insert_event"
	StageLatestPrice       = "latest_price"
)

type Store struct {
	mu  sync.Mutex
	now func() time.Time

	nextUserID  int64
	nextTxID    int64
	nextEventID int64

	users        map[int64]*models.User
	emails       map[string]int64
	sessions     map[string]*models.Session
	transactions map[string]*models.Transaction
	txBySession  map[string]string
	events       []*models.AnalyticsEvent
	prices       []models.PriceSnapshot

	faults map[string]error
}

func New() *Store {
	return &Store{
		now:          time.Now,
		users:        make(map[int64]*models.User),
		emails:       make(map[string]int64),
		sessions:     make(map[string]*models.Session),
		transactions: make(map[string]*models.Transaction),
		txBySession:  make(map[string]string),
		faults:       make(map[string]error),
	}
}

// SetClock replaces the store clock, the equivalent of the database's NOW().
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailOn makes the next operation reaching stage fail with err.
func (s *Store) FailOn(stage string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[stage] = err
}

// ClearFaults disarms every pending FailOn.
func (s *Store) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[string]error)
}

// Ping and Close satisfy the backend contract; there is nothing to reach or release.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

func (s *Store) fault(stage string) error {
	err, ok := s.faults[stage]
	if !ok {
		return nil
	}
	delete(s.faults, stage)
	return err
}

// Sessions

func (s *Store) CreateSession(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault(StageCreateSession); err != nil {
		return err
	}
	if _, exists := s.sessions[sess.Token]; exists {
		return xerrors.ErrDuplicateKey
	}
	s.sessions[sess.Token] = cloneSession(sess)
	return nil
}

func (s *Store) SessionByToken(_ context.Context, token string) (*session.Lookup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault(StageLookupSession); err != nil {
		return nil, err
	}
	sess, ok := s.sessions[token]
	if !ok {
		return nil, xerrors.ErrSessionNotFound
	}
	lookup := &session.Lookup{Session: cloneSession(sess), Now: s.now()}
	if sess.UserID != nil {
		if u, ok := s.users[*sess.UserID]; ok {
			cp := *u
			lookup.User = &cp
		}
	}
	return lookup, nil
}

func (s *Store) BindSessionUser(_ context.Context, token string, userID int64) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	switch {
	case !ok:
		return nil, xerrors.ErrSessionNotFound
	case sess.ConsumedAt != nil:
		return nil, xerrors.ErrSessionAlreadyConsumed
	case !sess.UsableAt(s.now()):
		return nil, xerrors.ErrSessionExpired
	}
	if sess.UserID != nil && *sess.UserID != userID {
		return nil, xerrors.ErrSessionBoundToOther
	}
	if _, ok := s.users[userID]; !ok {
		return nil, xerrors.ErrUserNotFound
	}
	id := userID
	sess.UserID = &id
	sess.IntentConfirmed = true
	return cloneSession(sess), nil
}

func (s *Store) ExpireStaleSessions(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for _, sess := range s.sessions {
		if sess.IsActive && !now.Before(sess.ExpiresAt) {
			sess.IsActive = false
			n++
		}
	}
	return n, nil
}

// Users

func (s *Store) UserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, xerrors.ErrUserNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *Store) UserByID(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, xerrors.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) InsertUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault(StageInsertUser); err != nil {
		return err
	}
	key := strings.ToLower(u.Email)
	if _, exists := s.emails[key]; exists {
		return xerrors.ErrDuplicateKey
	}

	s.nextUserID++
	now := s.now()
	u.ID = s.nextUserID
	u.CreatedAt = now
	u.UpdatedAt = now

	cp := *u
	s.users[u.ID] = &cp
	s.emails[key] = u.ID
	return nil
}

func (s *Store) MergeUserContact(_ context.Context, id int64, name, phone string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, xerrors.ErrUserNotFound
	}
	if name != "" {
		u.Name = name
	}
	if phone != "" {
		u.Phone = phone
	}
	u.UpdatedAt = s.now()
	cp := *u
	return &cp, nil
}

// Purchases

func (s *Store) CommitPurchase(_ context.Context, token string, tx *models.Transaction, ev *models.AnalyticsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.sessions[token]
	if !ok || !sess.UsableAt(now) {
		return xerrors.ErrSessionAlreadyConsumed
	}
	if _, dup := s.txBySession[sess.ID]; dup {
		return xerrors.ErrSessionAlreadyConsumed
	}
	if _, ok := s.users[tx.UserID]; !ok {
		return xerrors.ErrUserNotFound
	}
	if err := s.fault(StageInsertTransaction); err != nil {
		return err
	}
	if err := s.fault(StageInsertEvent); err != nil {
		return err
	}

	// All steps passed: apply.
	sess.IsActive = false
	consumedAt := now
	sess.ConsumedAt = &consumedAt
	if sess.UserID == nil {
		buyer := tx.UserID
		sess.UserID = &buyer
	}

	s.nextTxID++
	tx.ID = s.nextTxID
	tx.SessionID = sess.ID
	tx.CreatedAt = now
	tx.UpdatedAt = now
	txCopy := *tx
	s.transactions[tx.Reference] = &txCopy
	s.txBySession[sess.ID] = tx.Reference

	s.nextEventID++
	ev.ID = s.nextEventID
	ev.CreatedAt = now
	evCopy := *ev
	s.events = append(s.events, &evCopy)
	return nil
}

func (s *Store) TransactionByReference(_ context.Context, reference string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[reference]
	if !ok {
		return nil, xerrors.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

// Prices

func (s *Store) LatestPrice(_ context.Context, currency string) (*models.PriceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault(StageLatestPrice); err != nil {
		return nil, err
	}
	for i := len(s.prices) - 1; i >= 0; i-- {
		if s.prices[i].Currency == currency {
			p := s.prices[i]
			return &p, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (s *Store) RecordPrice(_ context.Context, p *models.PriceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.RecordedAt.IsZero() {
		p.RecordedAt = s.now()
	}
	s.prices = append(s.prices, *p)
	sort.SliceStable(s.prices, func(i, j int) bool {
		return s.prices[i].RecordedAt.Before(s.prices[j].RecordedAt)
	})
	return nil
}

// Inspection helpers used by tests.

func (s *Store) Transactions() []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		out = append(out, *tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Events() []models.AnalyticsEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.AnalyticsEvent, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, *ev)
	}
	return out
}

func (s *Store) Users() []models.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneSession(sess *models.Session) *models.Session {
	cp := *sess
	if sess.UserID != nil {
		id := *sess.UserID
		cp.UserID = &id
	}
	if sess.ConsumedAt != nil {
		at := *sess.ConsumedAt
		cp.ConsumedAt = &at
	}
	return &cp
}
