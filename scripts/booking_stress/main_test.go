package main

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/class-seat-booking/internal/repository"
	"github.com/noah-isme/class-seat-booking/internal/router"
	"github.com/noah-isme/class-seat-booking/internal/service"
	"github.com/noah-isme/class-seat-booking/pkg/config"
	"github.com/noah-isme/class-seat-booking/pkg/retry"
)

func TestRunAgainstMemoryStore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := repository.NewMemorySeatStore(5 * time.Second)
	opts := service.EngineOptions{Retry: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}}
	tokens := service.NewTokenService(service.TokenConfig{Secret: "stress-secret", Expiry: time.Hour})
	engine := router.New(router.Dependencies{
		Config:    &config.Config{Env: "test", APIPrefix: "/api/v1"},
		Tokens:    tokens,
		Store:     store,
		Registry:  service.NewClassRegistry(store, nil, opts),
		Allocator: service.NewSeatAllocator(store, nil, opts),
		Canceller: service.NewCancellationCoordinator(store, opts),
		Queries:   service.NewQueryService(store, opts),
	})
	srv := httptest.NewServer(engine)
	defer srv.Close()

	checks, err := run(context.Background(), srv.Client(), tokens, options{
		Base:     srv.URL + "/api/v1",
		Tenant:   "colid-stress",
		Seats:    4,
		Students: 12,
		Cancels:  3,
	})
	require.NoError(t, err)
	require.NotEmpty(t, checks)
	for _, c := range checks {
		assert.True(t, c.OK, "%s: %s", c.Name, c.Detail)
	}
}

func TestRunRejectsEmptyLoad(t *testing.T) {
	_, err := run(context.Background(), nil, nil, options{Seats: 0, Students: 3})
	require.Error(t, err)
}

func TestContiguous(t *testing.T) {
	assert.True(t, contiguous(nil))
	assert.True(t, contiguous([]int{3, 1, 2}))
	assert.False(t, contiguous([]int{1, 3}))
	assert.False(t, contiguous([]int{2}))
}
