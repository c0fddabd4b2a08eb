package monthrange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type State string

const (
	StateUninitialized       State = "uninitialized"
	StateActive              State = "active"
	StatePendingConfirmation State = "pending_confirmation"
)

type Direction string

const (
	DirectionPast   Direction = "past"
	DirectionFuture Direction = "future"
)

var (
	ErrNoBranch           = errors.New("branch id is required")
	ErrNoClient           = errors.New("client id is required")
	ErrAlreadyInitialized = errors.New("month range already initialized")
	ErrNoRange            = errors.New("month range not initialized")
	ErrPendingDeletion    = errors.New("a deletion is awaiting confirmation")
	ErrNoPendingDeletion  = errors.New("no deletion awaiting confirmation")
	ErrInvalidDirection   = errors.New("direction must be past or future")
	ErrInvalidMonthCount  = errors.New("month count must be positive")
)

type TableCount struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

// DeletionPreview is the data impact of purging a set of months.
type DeletionPreview struct {
	Months    []Month      `json:"months"`
	Tables    []TableCount `json:"tables"`
	TotalRows int64        `json:"total_rows"`
}

// PendingDeletion stages an extension whose trim would destroy data.
type PendingDeletion struct {
	Direction      Direction       `json:"direction"`
	MonthCount     int             `json:"month_count"`
	NewRange       Range           `json:"new_range"`
	MonthsToDelete []Month         `json:"months_to_delete"`
	Preview        DeletionPreview `json:"preview"`
}

type Store interface {
	GetRange(ctx context.Context, branchID string) (Range, bool, error)
	SaveRange(ctx context.Context, r Range, now time.Time) error
	PreviewDeletion(ctx context.Context, branchID string, months []Month) (DeletionPreview, error)
	DeleteMonths(ctx context.Context, branchID string, months []Month) (int64, error)
}

type Options struct {
	DefaultMonths int
	MaxMonths     int
}

func (o Options) withDefaults() Options {
	if o.DefaultMonths <= 0 {
		o.DefaultMonths = 12
	}
	if o.MaxMonths <= 0 {
		o.MaxMonths = 14
	}
	if o.DefaultMonths > o.MaxMonths {
		o.DefaultMonths = o.MaxMonths
	}
	return o
}

// Manager owns the month range of one branch at a time.
type Manager struct {
	store Store
	opts  Options
	now   func() time.Time

	mu       sync.Mutex
	branchID string
	current  *Range
	pending  *PendingDeletion
	lastErr  error
}

func NewManager(store Store, opts Options) *Manager {
	return &Manager{store: store, opts: opts.withDefaults(), now: time.Now}
}

// View is a point-in-time copy of the manager state.
type View struct {
	BranchID string           `json:"branch_id"`
	State    State            `json:"state"`
	Range    *Range           `json:"range,omitempty"`
	Months   []Month          `json:"months,omitempty"`
	Pending  *PendingDeletion `json:"pending_deletion,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// ExtendResult reports whether an extension was committed or staged.
type ExtendResult struct {
	Committed bool             `json:"committed"`
	Range     Range            `json:"range"`
	Pending   *PendingDeletion `json:"pending_deletion,omitempty"`
}

func (m *Manager) stateLocked() State {
	switch {
	case m.pending != nil:
		return StatePendingConfirmation
	case m.current != nil:
		return StateActive
	default:
		return StateUninitialized
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := View{BranchID: m.branchID, State: m.stateLocked()}
	if m.current != nil {
		r := *m.current
		v.Range = &r
		v.Months = r.Months()
	}
	if m.pending != nil {
		p := *m.pending
		v.Pending = &p
	}
	if m.lastErr != nil {
		v.Error = m.lastErr.Error()
	}
	return v
}

// SetBranch switches the active branch, discarding any staged deletion, and loads the
// branch's stored range.
func (m *Manager) SetBranch(ctx context.Context, branchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.branchID = branchID
	m.current = nil
	m.pending = nil
	m.lastErr = nil
	if branchID == "" {
		return nil
	}

	r, found, err := m.store.GetRange(ctx, branchID)
	if err != nil {
		m.lastErr = err
		return fmt.Errorf("load month range: %w", err)
	}
	if found {
		m.current = &r
	}
	return nil
}

// InitializeRange creates the default-width window starting at the month of start.
func (m *Manager) InitializeRange(ctx context.Context, clientID string, start time.Time) (Range, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.branchID == "" {
		return Range{}, ErrNoBranch
	}
	if clientID == "" {
		return Range{}, ErrNoClient
	}
	if m.current != nil {
		return Range{}, ErrAlreadyInitialized
	}

	first := MonthOf(start)
	r := Range{
		BranchID: m.branchID,
		ClientID: clientID,
		Start:    first,
		End:      first.Add(m.opts.DefaultMonths - 1),
	}
	if err := m.store.SaveRange(ctx, r, m.now()); err != nil {
		m.lastErr = err
		return Range{}, fmt.Errorf("save month range: %w", err)
	}
	m.current = &r
	m.lastErr = nil
	return r, nil
}

// ExtendRange widens the window by n months toward dir. When the result exceeds the maximum
// width, the excess is trimmed from the opposite edge: extending into the future drops the
// oldest months, extending into the past drops the newest. If the trimmed months hold data
// the extension is staged for confirmation instead of committed.
func (m *Manager) ExtendRange(ctx context.Context, dir Direction, n int) (ExtendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dir != DirectionPast && dir != DirectionFuture {
		return ExtendResult{}, ErrInvalidDirection
	}
	if n <= 0 {
		return ExtendResult{}, ErrInvalidMonthCount
	}
	if m.pending != nil {
		return ExtendResult{}, ErrPendingDeletion
	}
	if m.current == nil {
		return ExtendResult{}, ErrNoRange
	}

	old := *m.current
	next, trimmed := plan(old, dir, n, m.opts.MaxMonths)

	if len(trimmed) == 0 {
		return m.commitLocked(ctx, next)
	}

	preview, err := m.store.PreviewDeletion(ctx, m.branchID, trimmed)
	if err != nil {
		m.lastErr = err
		return ExtendResult{}, fmt.Errorf("preview deletion: %w", err)
	}
	if preview.TotalRows == 0 {
		return m.commitLocked(ctx, next)
	}

	m.pending = &PendingDeletion{
		Direction:      dir,
		MonthCount:     n,
		NewRange:       next,
		MonthsToDelete: trimmed,
		Preview:        preview,
	}
	m.lastErr = nil
	return ExtendResult{Committed: false, Range: old, Pending: m.pending}, nil
}

// ConfirmDeletion purges the staged months and commits the staged range. On failure the
// deletion stays pending so the caller can retry or cancel.
func (m *Manager) ConfirmDeletion(ctx context.Context) (Range, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil {
		return Range{}, ErrNoPendingDeletion
	}
	p := m.pending

	if _, err := m.store.DeleteMonths(ctx, m.branchID, p.MonthsToDelete); err != nil {
		m.lastErr = fmt.Errorf("delete monthly data: %w", err)
		return Range{}, m.lastErr
	}
	if err := m.store.SaveRange(ctx, p.NewRange, m.now()); err != nil {
		m.lastErr = fmt.Errorf("save month range: %w", err)
		return Range{}, m.lastErr
	}

	r := p.NewRange
	m.current = &r
	m.pending = nil
	m.lastErr = nil
	return r, nil
}

// CancelDeletion drops the staged extension; the committed range is untouched.
func (m *Manager) CancelDeletion() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil {
		return ErrNoPendingDeletion
	}
	m.pending = nil
	m.lastErr = nil
	return nil
}

func (m *Manager) commitLocked(ctx context.Context, next Range) (ExtendResult, error) {
	if err := m.store.SaveRange(ctx, next, m.now()); err != nil {
		m.lastErr = err
		return ExtendResult{}, fmt.Errorf("save month range: %w", err)
	}
	m.current = &next
	m.lastErr = nil
	return ExtendResult{Committed: true, Range: next}, nil
}

// plan computes the extended range and the previously retained months it would drop.
func plan(old Range, dir Direction, n, maxMonths int) (Range, []Month) {
	next := old
	if dir == DirectionFuture {
		next.End = old.End.Add(n)
	} else {
		next.Start = old.Start.Add(-n)
	}

	excess := next.Width() - maxMonths
	if excess <= 0 {
		return next, nil
	}

	var dropped []Month
	if dir == DirectionFuture {
		dropped = Span(next.Start, next.Start.Add(excess-1))
		next.Start = next.Start.Add(excess)
	} else {
		dropped = Span(next.End.Add(-(excess - 1)), next.End)
		next.End = next.End.Add(-excess)
	}

	// Only months that were retained before can hold data.
	trimmed := dropped[:0]
	for _, mo := range dropped {
		if old.Contains(mo) {
			trimmed = append(trimmed, mo)
		}
	}
	return next, trimmed
}
