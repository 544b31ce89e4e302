package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/noah-isme/class-seat-booking/internal/models"
)

type memKey struct {
	tenantID string
	id       string
}

// MemorySeatStore keeps classes and bookings in process. Each live class has its own one-slot
// semaphore, so waiting honours both a timeout and context cancellation. Writes staged by a
// ClassTx are applied under the store mutex on success, so readers never see half an operation.
type MemorySeatStore struct {
	mu        sync.RWMutex
	classes   map[memKey]*models.ClassSession
	deleted   map[memKey]bool
	bookings  map[memKey]*models.Booking
	byClass   map[memKey][]string
	sequences map[string]int

	locksMu  sync.Mutex
	locks    map[memKey]*semaphore.Weighted
	lockWait time.Duration
}

// NewMemorySeatStore constructs an empty store. lockWait bounds the wait for a class lock.
func NewMemorySeatStore(lockWait time.Duration) *MemorySeatStore {
	if lockWait <= 0 {
		lockWait = 2 * time.Second
	}
	return &MemorySeatStore{
		classes:   make(map[memKey]*models.ClassSession),
		deleted:   make(map[memKey]bool),
		bookings:  make(map[memKey]*models.Booking),
		byClass:   make(map[memKey][]string),
		sequences: make(map[string]int),
		locks:     make(map[memKey]*semaphore.Weighted),
		lockWait:  lockWait,
	}
}

// classLock returns the lock of a live class, or nil when the class is unknown or deleted.
func (s *MemorySeatStore) classLock(key memKey) *semaphore.Weighted {
	s.mu.RLock()
	_, ok := s.classes[key]
	live := ok && !s.deleted[key]
	s.mu.RUnlock()
	if !live {
		return nil
	}

	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = semaphore.NewWeighted(1)
		s.locks[key] = lock
	}
	return lock
}

func (s *MemorySeatStore) dropLock(key memKey) {
	s.locksMu.Lock()
	delete(s.locks, key)
	s.locksMu.Unlock()
}

// WithClassLock runs fn while holding the class's lock.
func (s *MemorySeatStore) WithClassLock(ctx context.Context, tenantID, classID string, fn ClassTxFunc) error {
	key := memKey{tenantID, classID}
	lock := s.classLock(key)
	if lock == nil {
		return ErrClassNotFound
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	err := lock.Acquire(waitCtx, 1)
	cancel()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return ErrLockTimeout
	}
	defer lock.Release(1)

	s.mu.RLock()
	class, ok := s.classes[key]
	if ok && s.deleted[key] {
		ok = false
	}
	var snapshot models.ClassSession
	if ok {
		snapshot = *class
	}
	s.mu.RUnlock()
	if !ok {
		s.dropLock(key)
		return ErrClassNotFound
	}

	tx := &memClassTx{store: s, key: key, class: snapshot, staged: make(map[string]*models.Booking)}
	if err := fn(tx); err != nil {
		return err
	}
	s.commit(tx)
	if tx.deleteClass {
		s.dropLock(key)
	}
	return nil
}

func (s *MemorySeatStore) commit(tx *memClassTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range tx.order {
		booking := tx.staged[id]
		bookingKey := memKey{tx.key.tenantID, id}
		if _, exists := s.bookings[bookingKey]; !exists {
			s.byClass[tx.key] = append(s.byClass[tx.key], id)
		}
		s.bookings[bookingKey] = booking
	}
	if tx.countersDirty {
		class := *s.classes[tx.key]
		class.ConfirmedCount = tx.class.ConfirmedCount
		class.WaitingTail = tx.class.WaitingTail
		s.classes[tx.key] = &class
	}
	if tx.deleteClass {
		s.deleted[tx.key] = true
	}
}

// CreateClass assigns the next class code and inserts the class unless its slot overlaps.
func (s *MemorySeatStore) CreateClass(ctx context.Context, class *models.ClassSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var conflict *models.ClassSession
	for key, existing := range s.classes {
		if key.tenantID != class.TenantID || s.deleted[key] {
			continue
		}
		if existing.Department != class.Department || existing.Semester != class.Semester || existing.ProgramName != class.ProgramName {
			continue
		}
		if existing.Overlaps(class.StartTime, class.EndTime) && (conflict == nil || existing.StartTime.Before(conflict.StartTime)) {
			conflict = existing
		}
	}
	if conflict != nil {
		return &SlotConflictError{ClassID: conflict.ID, ClassCode: conflict.ClassCode}
	}

	s.sequences[class.TenantID]++
	class.ClassCode = FormatClassCode(s.sequences[class.TenantID])
	stored := *class
	s.classes[memKey{class.TenantID, class.ID}] = &stored
	return nil
}

// FindClass returns a class with its seat summary.
func (s *MemorySeatStore) FindClass(ctx context.Context, tenantID, classID string) (*models.ClassWithSeats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := memKey{tenantID, classID}
	class, ok := s.classes[key]
	if !ok || s.deleted[key] {
		return nil, ErrClassNotFound
	}
	result := s.withSeatsLocked(key, class)
	return &result, nil
}

// ListClasses returns the tenant's classes matching filter ordered by start time.
func (s *MemorySeatStore) ListClasses(ctx context.Context, filter models.ClassFilter) ([]models.ClassWithSeats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]models.ClassWithSeats, 0)
	for key, class := range s.classes {
		if key.tenantID != filter.TenantID || s.deleted[key] {
			continue
		}
		if filter.Semester > 0 && class.Semester != filter.Semester {
			continue
		}
		if filter.Department != "" && class.Department != filter.Department {
			continue
		}
		if filter.Section != "" && class.Section != filter.Section {
			continue
		}
		if filter.Program != "" && class.ProgramName != filter.Program {
			continue
		}
		result = append(result, s.withSeatsLocked(key, class))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartTime.Equal(result[j].StartTime) {
			return result[i].StartTime.Before(result[j].StartTime)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// FindBooking returns a booking by id regardless of status.
func (s *MemorySeatStore) FindBooking(ctx context.Context, tenantID, bookingID string) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	booking, ok := s.bookings[memKey{tenantID, bookingID}]
	if !ok {
		return nil, ErrBookingNotFound
	}
	copied := *booking
	return &copied, nil
}

// ListStudentBookings returns the student's active bookings with their classes from one snapshot.
func (s *MemorySeatStore) ListStudentBookings(ctx context.Context, tenantID, studentID string) ([]models.BookingWithClass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]models.BookingWithClass, 0)
	for key, booking := range s.bookings {
		if key.tenantID != tenantID || booking.StudentID != studentID || !booking.Status.Active() {
			continue
		}
		classKey := memKey{tenantID, booking.ClassID}
		class, ok := s.classes[classKey]
		if !ok || s.deleted[classKey] {
			continue
		}
		result = append(result, models.BookingWithClass{Booking: *booking, Class: s.withSeatsLocked(classKey, class)})
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Class.StartTime.Equal(result[j].Class.StartTime) {
			return result[i].Class.StartTime.Before(result[j].Class.StartTime)
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ClassRoster returns a class and its active bookings, confirmed first then waiting by rank.
func (s *MemorySeatStore) ClassRoster(ctx context.Context, tenantID, classID string) (*models.ClassWithSeats, []models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := memKey{tenantID, classID}
	class, ok := s.classes[key]
	if !ok || s.deleted[key] {
		return nil, nil, ErrClassNotFound
	}
	summary := s.withSeatsLocked(key, class)
	bookings := make([]models.Booking, 0)
	for _, id := range s.byClass[key] {
		booking := s.bookings[memKey{tenantID, id}]
		if booking.Status.Active() {
			bookings = append(bookings, *booking)
		}
	}
	SortRoster(bookings)
	return &summary, bookings, nil
}

// Ping always succeeds.
func (s *MemorySeatStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemorySeatStore) withSeatsLocked(key memKey, class *models.ClassSession) models.ClassWithSeats {
	waiting := 0
	for _, id := range s.byClass[key] {
		if s.bookings[memKey{key.tenantID, id}].Status == models.BookingStatusWaiting {
			waiting++
		}
	}
	return models.ClassWithSeats{
		ClassSession: *class,
		Seats:        models.NewSeatSummary(class.TotalSeats, class.ConfirmedCount, waiting),
	}
}

// SortRoster orders confirmed bookings by creation, then waiting bookings by rank.
func SortRoster(bookings []models.Booking) {
	sort.SliceStable(bookings, func(i, j int) bool {
		a, b := bookings[i], bookings[j]
		if a.Status != b.Status {
			return a.Status == models.BookingStatusConfirmed
		}
		if a.WaitingRank != nil && b.WaitingRank != nil && *a.WaitingRank != *b.WaitingRank {
			return *a.WaitingRank < *b.WaitingRank
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

type memClassTx struct {
	store         *MemorySeatStore
	key           memKey
	class         models.ClassSession
	staged        map[string]*models.Booking
	order         []string
	countersDirty bool
	deleteClass   bool
}

func (t *memClassTx) Class() models.ClassSession {
	return t.class
}

// bookings merges committed bookings of the class with the staged ones.
func (t *memClassTx) bookings() []models.Booking {
	t.store.mu.RLock()
	ids := t.store.byClass[t.key]
	result := make([]models.Booking, 0, len(ids)+len(t.order))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
		if staged, ok := t.staged[id]; ok {
			result = append(result, *staged)
			continue
		}
		result = append(result, *t.store.bookings[memKey{t.key.tenantID, id}])
	}
	t.store.mu.RUnlock()
	for _, id := range t.order {
		if _, ok := seen[id]; !ok {
			result = append(result, *t.staged[id])
		}
	}
	return result
}

func (t *memClassTx) ActiveBookingFor(ctx context.Context, studentID string) (*models.Booking, error) {
	for _, booking := range t.bookings() {
		if booking.StudentID == studentID && booking.Status.Active() {
			b := booking
			return &b, nil
		}
	}
	return nil, nil
}

func (t *memClassTx) Booking(ctx context.Context, bookingID string) (*models.Booking, error) {
	for _, booking := range t.bookings() {
		if booking.ID == bookingID {
			b := booking
			return &b, nil
		}
	}
	return nil, ErrBookingNotFound
}

func (t *memClassTx) NextWaiting(ctx context.Context) (*models.Booking, error) {
	var next *models.Booking
	for _, booking := range t.bookings() {
		if booking.Status != models.BookingStatusWaiting || booking.WaitingRank == nil {
			continue
		}
		if next == nil || *booking.WaitingRank < *next.WaitingRank {
			b := booking
			next = &b
		}
	}
	return next, nil
}

func (t *memClassTx) CountConfirmed(ctx context.Context) (int, error) {
	n := 0
	for _, booking := range t.bookings() {
		if booking.Status == models.BookingStatusConfirmed {
			n++
		}
	}
	return n, nil
}

func (t *memClassTx) CountActive(ctx context.Context) (int, error) {
	n := 0
	for _, booking := range t.bookings() {
		if booking.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (t *memClassTx) InsertBooking(ctx context.Context, booking *models.Booking) error {
	if existing, _ := t.ActiveBookingFor(ctx, booking.StudentID); existing != nil && booking.Status.Active() {
		return ErrDuplicateActiveBooking
	}
	t.stage(booking)
	return nil
}

func (t *memClassTx) UpdateBooking(ctx context.Context, booking *models.Booking) error {
	if _, err := t.Booking(ctx, booking.ID); err != nil {
		return err
	}
	t.stage(booking)
	return nil
}

func (t *memClassTx) stage(booking *models.Booking) {
	copied := *booking
	if _, ok := t.staged[booking.ID]; !ok {
		t.order = append(t.order, booking.ID)
	}
	t.staged[booking.ID] = &copied
}

func (t *memClassTx) UpdateCounters(ctx context.Context, confirmedCount, waitingTail int) error {
	t.class.ConfirmedCount = confirmedCount
	t.class.WaitingTail = waitingTail
	t.countersDirty = true
	return nil
}

func (t *memClassTx) DeleteClass(ctx context.Context) error {
	t.deleteClass = true
	return nil
}
