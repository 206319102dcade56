package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Domenick1991/bookingcore/internal/domain"
)

// MemoryRepository keeps everything in process. Transactions stage their
// writes and apply them under one lock at commit, re-checking every guard.
type MemoryRepository struct {
	mu               sync.RWMutex
	trips            map[string]domain.TripRequest
	requests         map[string]domain.BookingRequest
	bookings         map[string]domain.Booking
	bookingByRequest map[string]string
	notifications    []domain.Notification
	now              func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		trips:            make(map[string]domain.TripRequest),
		requests:         make(map[string]domain.BookingRequest),
		bookings:         make(map[string]domain.Booking),
		bookingByRequest: make(map[string]string),
		now:              time.Now,
	}
}

func (r *MemoryRepository) AddTripRequest(t domain.TripRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.now()
	}
	r.trips[t.ID] = t
}

func (r *MemoryRepository) AddBookingRequest(br domain.BookingRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if br.Version == 0 {
		br.Version = 1
	}
	if br.CreatedAt.IsZero() {
		br.CreatedAt = r.now()
	}
	if br.UpdatedAt.IsZero() {
		br.UpdatedAt = br.CreatedAt
	}
	r.requests[br.ID] = br
}

// Bookings returns every stored booking ordered by creation time.
func (r *MemoryRepository) Bookings() []domain.Booking {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Booking, 0, len(r.bookings))
	for _, b := range r.bookings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *MemoryRepository) GetBookingRequest(ctx context.Context, id string) (*domain.BookingRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	br, ok := r.requests[id]
	if !ok {
		return nil, fmt.Errorf("booking request %s: %w", id, ErrNotFound)
	}
	return &br, nil
}

func (r *MemoryRepository) GetTripRequest(ctx context.Context, id string) (*domain.TripRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.trips[id]
	if !ok {
		return nil, fmt.Errorf("trip request %s: %w", id, ErrNotFound)
	}
	return &t, nil
}

func (r *MemoryRepository) MarkFailed(ctx context.Context, id string, expectedVersion int64, message string) (*domain.BookingRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	br, ok := r.requests[id]
	if !ok || br.Version != expectedVersion || br.Status != domain.BookingRequestProcessing {
		return nil, fmt.Errorf("mark booking request %s failed: %w", id, ErrStaleVersion)
	}
	msg := message
	br.Status = domain.BookingRequestFailed
	br.ErrorMessage = &msg
	br.Version++
	br.UpdatedAt = r.now()
	r.requests[id] = br
	return &br, nil
}

func (r *MemoryRepository) ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]domain.BookingRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.BookingRequest
	for _, br := range r.requests {
		if br.Status == domain.BookingRequestProcessing && br.UpdatedAt.Before(before) {
			out = append(out, br)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) GetBookingByRequest(ctx context.Context, bookingRequestID string) (*domain.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bookingByRequest[bookingRequestID]
	if !ok {
		return nil, fmt.Errorf("booking for request %s: %w", bookingRequestID, ErrNotFound)
	}
	b := r.bookings[id]
	return &b, nil
}

func (r *MemoryRepository) ListNotifications(ctx context.Context, userID string) ([]domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Notification
	for _, n := range r.notifications {
		if userID == "" || n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(tx FulfillmentTx) error) error {
	tx := &memoryTx{repo: r}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.commit(tx)
}

func (r *MemoryRepository) commit(tx *memoryTx) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range tx.completions {
		if err := r.checkCompletable(c.id, c.expectedVersion); err != nil {
			return err
		}
	}
	seen := make(map[string]bool, len(tx.bookings))
	for _, b := range tx.bookings {
		if _, exists := r.bookingByRequest[b.BookingRequestID]; exists || seen[b.BookingRequestID] {
			return fmt.Errorf("insert booking for request %s: %w", b.BookingRequestID, ErrDuplicateBooking)
		}
		seen[b.BookingRequestID] = true
	}

	now := r.now()
	for _, c := range tx.completions {
		br := r.requests[c.id]
		br.Status = domain.BookingRequestDone
		br.ErrorMessage = nil
		br.Version++
		br.UpdatedAt = now
		r.requests[c.id] = br
	}
	for _, b := range tx.bookings {
		r.bookings[b.ID] = b
		r.bookingByRequest[b.BookingRequestID] = b.ID
	}
	r.notifications = append(r.notifications, tx.notifications...)
	return nil
}

func (r *MemoryRepository) checkCompletable(id string, expectedVersion int64) error {
	br, ok := r.requests[id]
	if !ok || br.Version != expectedVersion || br.Status != domain.BookingRequestProcessing {
		return fmt.Errorf("complete booking request %s: %w", id, ErrStaleVersion)
	}
	return nil
}

type completion struct {
	id              string
	expectedVersion int64
}

type memoryTx struct {
	repo          *MemoryRepository
	completions   []completion
	bookings      []domain.Booking
	notifications []domain.Notification
}

func (t *memoryTx) CompleteRequest(ctx context.Context, id string, expectedVersion int64) (*domain.BookingRequest, error) {
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	if err := t.repo.checkCompletable(id, expectedVersion); err != nil {
		return nil, err
	}
	t.completions = append(t.completions, completion{id: id, expectedVersion: expectedVersion})

	br := t.repo.requests[id]
	br.Status = domain.BookingRequestDone
	br.ErrorMessage = nil
	br.Version++
	br.UpdatedAt = t.repo.now()
	return &br, nil
}

func (t *memoryTx) InsertBooking(ctx context.Context, b *domain.Booking) error {
	t.repo.mu.RLock()
	_, exists := t.repo.bookingByRequest[b.BookingRequestID]
	t.repo.mu.RUnlock()
	if exists {
		return fmt.Errorf("insert booking for request %s: %w", b.BookingRequestID, ErrDuplicateBooking)
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = t.repo.now()
	}
	t.bookings = append(t.bookings, *b)
	return nil
}

func (t *memoryTx) InsertNotification(ctx context.Context, n *domain.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = t.repo.now()
	}
	t.notifications = append(t.notifications, *n)
	return nil
}

var (
	_ BookingRequestRepository = (*MemoryRepository)(nil)
	_ FulfillmentTx            = (*memoryTx)(nil)
)
