package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/class-seat-booking/internal/dto"
	"github.com/noah-isme/class-seat-booking/internal/models"
	appErrors "github.com/noah-isme/class-seat-booking/pkg/errors"
)

func TestCancelBookingPromotesInRankOrder(t *testing.T) {
	e := newSeatEngine(t)
	classID := e.createClass(t, 2, 0)
	a := e.book(t, "A", classID)
	b := e.book(t, "B", classID)
	c := e.book(t, "C", classID)
	d := e.book(t, "D", classID)

	first := e.cancel(t, "A", a.ID)
	assert.True(t, first.Cancelled)
	assert.True(t, first.Promoted)
	require.NotNil(t, first.PromotedBooking)
	assert.Equal(t, c.ID, first.PromotedBooking.ID)
	assert.Equal(t, models.BookingStatusConfirmed, first.PromotedBooking.Status)
	assert.Nil(t, first.PromotedBooking.WaitingRank)
	assert.NotNil(t, first.PromotedBooking.PromotedAt)
	assert.Equal(t, models.SeatSummary{TotalSeats: 2, Confirmed: 2, Available: 0, WaitingCount: 1}, first.Seats)
	confirmed, ranks := e.requireSeatInvariant(t, classID)
	assert.Equal(t, 2, confirmed)
	assert.Equal(t, []int{2}, ranks)

	second := e.cancel(t, "B", b.ID)
	assert.True(t, second.Promoted)
	require.NotNil(t, second.PromotedBooking)
	assert.Equal(t, d.ID, second.PromotedBooking.ID)
	confirmed, ranks = e.requireSeatInvariant(t, classID)
	assert.Equal(t, 2, confirmed)
	assert.Empty(t, ranks)

	third := e.cancel(t, "D", d.ID)
	assert.True(t, third.Cancelled)
	assert.False(t, third.Promoted)
	assert.Nil(t, third.PromotedBooking)
	assert.Equal(t, models.SeatSummary{TotalSeats: 2, Confirmed: 1, Available: 1, WaitingCount: 0}, third.Seats)
	confirmed, _ = e.requireSeatInvariant(t, classID)
	assert.Equal(t, 1, confirmed)

	stored, err := e.store.FindBooking(context.Background(), testTenant, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, stored.Status)
	assert.NotNil(t, stored.CancelledAt)

	types := e.publisher.types()
	assert.Equal(t, []models.BookingEventType{
		models.EventBookingCancelled, models.EventBookingPromoted,
		models.EventBookingCancelled, models.EventBookingPromoted,
		models.EventBookingCancelled,
	}, types[4:])
}

func TestCancelWaitingBookingKeepsOtherRanks(t *testing.T) {
	e := newSeatEngine(t)
	classID := e.createClass(t, 1, 0)
	a := e.book(t, "A", classID)
	b := e.book(t, "B", classID)
	c := e.book(t, "C", classID)
	e.book(t, "D", classID)

	result := e.cancel(t, "C", c.ID)
	assert.True(t, result.Cancelled)
	assert.False(t, result.Promoted)
	assert.Equal(t, 1, result.Seats.Confirmed)
	assert.Equal(t, 2, result.Seats.WaitingCount)

	confirmed, ranks := e.requireSeatInvariant(t, classID)
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, []int{1, 3}, ranks)

	// Ranks are never handed out twice.
	next := e.book(t, "E", classID)
	require.NotNil(t, next.WaitingRank)
	assert.Equal(t, 4, *next.WaitingRank)

	// The head of the queue is still B even though ranks are no longer contiguous.
	promoted := e.cancel(t, "A", a.ID)
	require.NotNil(t, promoted.PromotedBooking)
	assert.Equal(t, b.ID, promoted.PromotedBooking.ID)
}

func TestCancelBookingNotFound(t *testing.T) {
	e := newSeatEngine(t)
	classID := e.createClass(t, 1, 0)
	a := e.book(t, "A", classID)
	e.cancel(t, "A", a.ID)
	b := e.book(t, "B", classID)

	tests := []struct {
		name      string
		actor     models.Actor
		bookingID string
		want      *appErrors.Error
	}{
		{name: "unknown booking", actor: student("A"), bookingID: "nope", want: appErrors.ErrBookingNotFound},
		{name: "already cancelled", actor: student("A"), bookingID: a.ID, want: appErrors.ErrBookingNotFound},
		{name: "someone else's booking", actor: student("A"), bookingID: b.ID, want: appErrors.ErrBookingNotFound},
		{name: "other tenant", actor: models.Actor{TenantID: "colid-2", UserID: "B"}, bookingID: b.ID, want: appErrors.ErrBookingNotFound},
		{name: "blank id", actor: student("B"), bookingID: " ", want: appErrors.ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.canceller.CancelBooking(context.Background(), tc.actor, tc.bookingID)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	confirmed, _ := e.requireSeatInvariant(t, classID)
	assert.Equal(t, 1, confirmed)
}

func TestConcurrentCancellationsPromoteDistinctBookings(t *testing.T) {
	e := newSeatEngine(t)
	const seats, waiting = 6, 4
	classID := e.createClass(t, seats, 0)

	confirmed := make([]*dto.BookingResult, seats)
	for i := range confirmed {
		confirmed[i] = e.book(t, fmt.Sprintf("c-%d", i), classID)
	}
	for i := 0; i < waiting; i++ {
		e.book(t, fmt.Sprintf("w-%d", i), classID)
	}

	results := make([]*dto.CancelResult, seats)
	errs := make([]error, seats)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range confirmed {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = e.canceller.CancelBooking(context.Background(), student(fmt.Sprintf("c-%d", i)), confirmed[i].ID)
		}(i)
	}
	close(start)
	wg.Wait()

	promotedIDs := make(map[string]struct{})
	promotions := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Promoted {
			promotions++
			promotedIDs[results[i].PromotedBooking.ID] = struct{}{}
		}
	}
	assert.Equal(t, waiting, promotions)
	assert.Len(t, promotedIDs, waiting)

	count, ranks := e.requireSeatInvariant(t, classID)
	assert.Equal(t, waiting, count)
	assert.Empty(t, ranks)
}

func TestCancellationRacingNewBookingsKeepsCountsConsistent(t *testing.T) {
	e := newSeatEngine(t)
	classID := e.createClass(t, 3, 0)
	holders := []*dto.BookingResult{e.book(t, "h-0", classID), e.book(t, "h-1", classID), e.book(t, "h-2", classID)}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, holder := range holders {
		wg.Add(2)
		go func(i int, id string) {
			defer wg.Done()
			<-start
			_, err := e.canceller.CancelBooking(context.Background(), student(fmt.Sprintf("h-%d", i)), id)
			assert.NoError(t, err)
		}(i, holder.ID)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := e.allocator.RequestBooking(context.Background(), student(fmt.Sprintf("n-%d", i)), dto.CreateBookingRequest{ClassID: classID})
			assert.NoError(t, err)
		}(i)
	}
	close(start)
	wg.Wait()

	count, ranks := e.requireSeatInvariant(t, classID)
	assert.Equal(t, 3, count)
	assert.Empty(t, ranks)
}
