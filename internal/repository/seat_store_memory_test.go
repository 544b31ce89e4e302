package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/class-seat-booking/internal/models"
)

func seedMemoryClass(t *testing.T, store *MemorySeatStore, id string, seats int, start time.Time) {
	t.Helper()
	require.NoError(t, store.CreateClass(context.Background(), &models.ClassSession{
		ID: id, TenantID: "colid-1", SubjectName: "Compilers", ProgramName: "btech", Department: "cse", Section: "a",
		Semester: 5, StartTime: start, EndTime: start.Add(time.Hour), DurationHours: 1, TotalSeats: seats,
	}))
}

func TestMemorySeatStoreCreateClassSequenceAndConflict(t *testing.T) {
	store := NewMemorySeatStore(time.Second)
	seedMemoryClass(t, store, "class-1", 2, testStart)
	seedMemoryClass(t, store, "class-2", 2, testStart.Add(time.Hour))

	first, err := store.FindClass(context.Background(), "colid-1", "class-1")
	require.NoError(t, err)
	second, err := store.FindClass(context.Background(), "colid-1", "class-2")
	require.NoError(t, err)
	assert.Equal(t, "CLS0001", first.ClassCode)
	assert.Equal(t, "CLS0002", second.ClassCode)

	err = store.CreateClass(context.Background(), &models.ClassSession{
		ID: "class-3", TenantID: "colid-1", ProgramName: "btech", Department: "cse", Semester: 5,
		StartTime: testStart.Add(30 * time.Minute), EndTime: testStart.Add(90 * time.Minute),
	})
	var conflict *SlotConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "class-1", conflict.ClassID)

	// Another tenant is never in conflict.
	require.NoError(t, store.CreateClass(context.Background(), &models.ClassSession{
		ID: "class-3", TenantID: "colid-2", ProgramName: "btech", Department: "cse", Semester: 5,
		StartTime: testStart, EndTime: testStart.Add(time.Hour),
	}))
	_, err = store.FindClass(context.Background(), "colid-1", "class-3")
	assert.ErrorIs(t, err, ErrClassNotFound)
}

func TestMemorySeatStoreDiscardsStagedWritesOnError(t *testing.T) {
	store := NewMemorySeatStore(time.Second)
	seedMemoryClass(t, store, "class-1", 1, testStart)

	boom := errors.New("boom")
	err := store.WithClassLock(context.Background(), "colid-1", "class-1", func(tx ClassTx) error {
		require.NoError(t, tx.InsertBooking(context.Background(), &models.Booking{ID: "b-1", TenantID: "colid-1", ClassID: "class-1", StudentID: "s-1", Status: models.BookingStatusConfirmed}))
		require.NoError(t, tx.UpdateCounters(context.Background(), 1, 0))

		staged, err := tx.ActiveBookingFor(context.Background(), "s-1")
		require.NoError(t, err)
		require.NotNil(t, staged)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	class, err := store.FindClass(context.Background(), "colid-1", "class-1")
	require.NoError(t, err)
	assert.Equal(t, 0, class.ConfirmedCount)
	_, err = store.FindBooking(context.Background(), "colid-1", "b-1")
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestMemorySeatStoreRejectsDuplicateActiveBooking(t *testing.T) {
	store := NewMemorySeatStore(time.Second)
	seedMemoryClass(t, store, "class-1", 1, testStart)

	err := store.WithClassLock(context.Background(), "colid-1", "class-1", func(tx ClassTx) error {
		if err := tx.InsertBooking(context.Background(), &models.Booking{ID: "b-1", StudentID: "s-1", ClassID: "class-1", TenantID: "colid-1", Status: models.BookingStatusConfirmed}); err != nil {
			return err
		}
		return tx.InsertBooking(context.Background(), &models.Booking{ID: "b-2", StudentID: "s-1", ClassID: "class-1", TenantID: "colid-1", Status: models.BookingStatusWaiting})
	})
	assert.ErrorIs(t, err, ErrDuplicateActiveBooking)
}

func TestMemorySeatStoreLockTimeout(t *testing.T) {
	store := NewMemorySeatStore(20 * time.Millisecond)
	seedMemoryClass(t, store, "class-1", 1, testStart)
	seedMemoryClass(t, store, "class-2", 1, testStart.Add(5*time.Hour))

	held := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = store.WithClassLock(context.Background(), "colid-1", "class-1", func(tx ClassTx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := store.WithClassLock(context.Background(), "colid-1", "class-1", func(tx ClassTx) error { return nil })
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.True(t, IsTransient(err))

	// A different class does not contend.
	err = store.WithClassLock(context.Background(), "colid-1", "class-2", func(tx ClassTx) error { return nil })
	assert.NoError(t, err)

	close(release)
	wg.Wait()
}

func TestMemorySeatStoreLockHonoursContext(t *testing.T) {
	store := NewMemorySeatStore(time.Minute)
	seedMemoryClass(t, store, "class-1", 1, testStart)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = store.WithClassLock(context.Background(), "colid-1", "class-1", func(tx ClassTx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := store.WithClassLock(ctx, "colid-1", "class-1", func(tx ClassTx) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemorySeatStoreRosterAndStudentViews(t *testing.T) {
	store := NewMemorySeatStore(time.Second)
	seedMemoryClass(t, store, "class-1", 1, testStart)

	rank := 1
	err := store.WithClassLock(context.Background(), "colid-1", "class-1", func(tx ClassTx) error {
		require.NoError(t, tx.InsertBooking(context.Background(), &models.Booking{ID: "b-w", TenantID: "colid-1", ClassID: "class-1", StudentID: "s-2", Status: models.BookingStatusWaiting, WaitingRank: &rank, CreatedAt: testStart.Add(-time.Minute)}))
		require.NoError(t, tx.InsertBooking(context.Background(), &models.Booking{ID: "b-c", TenantID: "colid-1", ClassID: "class-1", StudentID: "s-1", Status: models.BookingStatusConfirmed, CreatedAt: testStart.Add(-2 * time.Minute)}))
		return tx.UpdateCounters(context.Background(), 1, 1)
	})
	require.NoError(t, err)

	class, bookings, err := store.ClassRoster(context.Background(), "colid-1", "class-1")
	require.NoError(t, err)
	assert.Equal(t, models.SeatSummary{TotalSeats: 1, Confirmed: 1, Available: 0, WaitingCount: 1}, class.Seats)
	require.Len(t, bookings, 2)
	assert.Equal(t, "b-c", bookings[0].ID)
	assert.Equal(t, "b-w", bookings[1].ID)

	mine, err := store.ListStudentBookings(context.Background(), "colid-1", "s-2")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "class-1", mine[0].Class.ID)

	other, err := store.ListStudentBookings(context.Background(), "colid-2", "s-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMemorySeatStoreDeleteClassHidesIt(t *testing.T) {
	store := NewMemorySeatStore(time.Second)
	seedMemoryClass(t, store, "class-1", 1, testStart)

	require.NoError(t, store.WithClassLock(context.Background(), "colid-1", "class-1", func(tx ClassTx) error {
		return tx.DeleteClass(context.Background())
	}))

	_, err := store.FindClass(context.Background(), "colid-1", "class-1")
	assert.ErrorIs(t, err, ErrClassNotFound)
	err = store.WithClassLock(context.Background(), "colid-1", "class-1", func(tx ClassTx) error { return nil })
	assert.ErrorIs(t, err, ErrClassNotFound)
	classes, err := store.ListClasses(context.Background(), models.ClassFilter{TenantID: "colid-1"})
	require.NoError(t, err)
	assert.Empty(t, classes)
}

func TestMemorySeatStoreKeepsNoLocksForUnknownClasses(t *testing.T) {
	store := NewMemorySeatStore(time.Second)
	seedMemoryClass(t, store, "class-1", 1, testStart)

	for i := 0; i < 50; i++ {
		err := store.WithClassLock(context.Background(), "colid-1", fmt.Sprintf("missing-%d", i), func(tx ClassTx) error { return nil })
		assert.ErrorIs(t, err, ErrClassNotFound)
	}
	err := store.WithClassLock(context.Background(), "colid-2", "class-1", func(tx ClassTx) error { return nil })
	assert.ErrorIs(t, err, ErrClassNotFound)
	assert.Empty(t, store.locks)

	require.NoError(t, store.WithClassLock(context.Background(), "colid-1", "class-1", func(tx ClassTx) error { return nil }))
	assert.Len(t, store.locks, 1)

	require.NoError(t, store.WithClassLock(context.Background(), "colid-1", "class-1", func(tx ClassTx) error {
		return tx.DeleteClass(context.Background())
	}))
	assert.Empty(t, store.locks)
}
