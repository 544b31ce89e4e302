package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/class-seat-booking/internal/dto"
	"github.com/noah-isme/class-seat-booking/internal/models"
	"github.com/noah-isme/class-seat-booking/internal/service"
	"github.com/noah-isme/class-seat-booking/pkg/config"
	appErrors "github.com/noah-isme/class-seat-booking/pkg/errors"
)

type options struct {
	Base     string
	Tenant   string
	Seats    int
	Students int
	Cancels  int
}

type check struct {
	Name   string
	OK     bool
	Detail string
}

type envelope struct {
	Data  json.RawMessage  `json:"data"`
	Error *appErrors.Error `json:"error"`
}

type apiClient struct {
	http *http.Client
	base string
}

func main() {
	var (
		opts    options
		timeout time.Duration
	)
	flag.StringVar(&opts.Base, "base", "http://localhost:8080/api/v1", "API base URL including the prefix")
	flag.StringVar(&opts.Tenant, "tenant", "stress", "tenant id placed in the issued tokens")
	flag.IntVar(&opts.Seats, "seats", 10, "seats in the generated class")
	flag.IntVar(&opts.Students, "students", 50, "concurrent booking requests")
	flag.IntVar(&opts.Cancels, "cancels", 5, "confirmed bookings cancelled concurrently afterwards")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "HTTP client timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	tokens := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer, Expiry: time.Hour})

	checks, err := run(context.Background(), &http.Client{Timeout: timeout}, tokens, opts)
	if err != nil {
		log.Fatalf("stress run aborted: %v", err)
	}
	failed := printReport(checks)
	fmt.Printf("Failed checks: %d of %d\n", failed, len(checks))
	if failed > 0 {
		os.Exit(1)
	}
}

// run books one class from many students at once, cancels part of the confirmed set and
// verifies the seat counts, waiting ranks and promotions reported by the API.
func run(ctx context.Context, httpClient *http.Client, tokens *service.TokenService, opts options) ([]check, error) {
	if opts.Seats <= 0 || opts.Students <= 0 {
		return nil, fmt.Errorf("seats and students must be positive")
	}
	client := &apiClient{http: httpClient, base: strings.TrimRight(opts.Base, "/")}

	facultyToken, _, err := tokens.Issue(models.Actor{TenantID: opts.Tenant, UserID: "stress-faculty", Name: "Stress Faculty", Role: models.RoleFaculty})
	if err != nil {
		return nil, fmt.Errorf("issue faculty token: %w", err)
	}
	var class dto.CreateClassResponse
	status, apiErr, err := client.do(ctx, http.MethodPost, "/classes", facultyToken, dto.CreateClassRequest{
		SubjectName:   "Stress Run",
		ProgramName:   "stress",
		Department:    fmt.Sprintf("stress-%d", time.Now().UnixNano()),
		Section:       "a",
		Semester:      1,
		StartTime:     time.Now().UTC().Add(72 * time.Hour).Truncate(time.Minute),
		DurationHours: 1,
		TotalSeats:    opts.Seats,
	}, &class)
	if err != nil {
		return nil, fmt.Errorf("create class: %w", err)
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("create class: status %d: %v", status, apiErr)
	}

	studentTokens := make([]string, opts.Students)
	for i := range studentTokens {
		id := fmt.Sprintf("stress-student-%04d", i+1)
		studentTokens[i], _, err = tokens.Issue(models.Actor{TenantID: opts.Tenant, UserID: id, Name: id, Role: models.RoleStudent})
		if err != nil {
			return nil, fmt.Errorf("issue student token: %w", err)
		}
	}

	results := make([]dto.BookingResult, opts.Students)
	failures := make([]error, opts.Students)
	var wg sync.WaitGroup
	for i := range studentTokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status, apiErr, err := client.do(ctx, http.MethodPost, "/bookings", studentTokens[i], dto.CreateBookingRequest{ClassID: class.ID}, &results[i])
			switch {
			case err != nil:
				failures[i] = err
			case status != http.StatusCreated:
				failures[i] = fmt.Errorf("status %d: %v", status, apiErr)
			}
		}(i)
	}
	wg.Wait()

	var (
		checks    []check
		confirmed []int
		ranks     []int
		errCount  int
	)
	for i, res := range results {
		if failures[i] != nil {
			errCount++
			continue
		}
		switch res.Status {
		case models.BookingStatusConfirmed:
			confirmed = append(confirmed, i)
		case models.BookingStatusWaiting:
			if res.WaitingRank != nil {
				ranks = append(ranks, *res.WaitingRank)
			}
		}
	}
	checks = append(checks,
		check{Name: "every booking request answered", OK: errCount == 0, Detail: fmt.Sprintf("%d failed", errCount)},
		check{Name: "confirmed bookings fill the class exactly", OK: len(confirmed) == minInt(opts.Seats, opts.Students),
			Detail: fmt.Sprintf("confirmed=%d seats=%d", len(confirmed), opts.Seats)},
		check{Name: "waiting ranks are 1..n without gaps", OK: contiguous(ranks),
			Detail: fmt.Sprintf("waiting=%d", len(ranks))},
	)

	cancels := minInt(opts.Cancels, len(confirmed))
	promotions := make([]bool, cancels)
	cancelFailures := make([]error, cancels)
	for n := 0; n < cancels; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			idx := confirmed[n]
			var out dto.CancelResult
			status, apiErr, err := client.do(ctx, http.MethodDelete, "/bookings/"+results[idx].ID, studentTokens[idx], nil, &out)
			switch {
			case err != nil:
				cancelFailures[n] = err
			case status != http.StatusOK:
				cancelFailures[n] = fmt.Errorf("status %d: %v", status, apiErr)
			default:
				promotions[n] = out.Promoted
			}
		}(n)
	}
	wg.Wait()

	promoted, cancelErrs := 0, 0
	for n := range promotions {
		if cancelFailures[n] != nil {
			cancelErrs++
		} else if promotions[n] {
			promoted++
		}
	}
	checks = append(checks,
		check{Name: "every cancellation answered", OK: cancelErrs == 0, Detail: fmt.Sprintf("%d failed", cancelErrs)},
		check{Name: "each cancellation promotes while someone waits", OK: promoted == minInt(cancels, len(ranks)),
			Detail: fmt.Sprintf("promoted=%d waiting=%d", promoted, len(ranks))},
	)

	var roster dto.ClassRoster
	status, apiErr, err = client.do(ctx, http.MethodGet, "/classes/"+class.ID+"/bookings", facultyToken, nil, &roster)
	if err != nil {
		return nil, fmt.Errorf("fetch roster: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetch roster: status %d: %v", status, apiErr)
	}

	active := opts.Students - errCount - (cancels - cancelErrs)
	expectConfirmed := minInt(opts.Seats, active)
	rosterConfirmed, rosterWaiting := 0, 0
	lastRank, ordered := 0, true
	for _, entry := range roster.Entries {
		switch entry.Status {
		case models.BookingStatusConfirmed:
			rosterConfirmed++
		case models.BookingStatusWaiting:
			rosterWaiting++
			var rank int
			if _, err := fmt.Sscanf(entry.Label, "WL-%d", &rank); err != nil || rank <= lastRank {
				ordered = false
			}
			lastRank = rank
		}
	}
	seats := roster.Class.Seats
	checks = append(checks,
		check{Name: "roster confirmed count matches capacity", OK: rosterConfirmed == expectConfirmed && seats.Confirmed == expectConfirmed,
			Detail: fmt.Sprintf("roster=%d summary=%d expected=%d", rosterConfirmed, seats.Confirmed, expectConfirmed)},
		check{Name: "roster waiting count matches remaining requests", OK: rosterWaiting == active-expectConfirmed && seats.WaitingCount == rosterWaiting,
			Detail: fmt.Sprintf("roster=%d summary=%d expected=%d", rosterWaiting, seats.WaitingCount, active-expectConfirmed)},
		check{Name: "waiting entries ordered by rank", OK: ordered},
		check{Name: "available seats derived from confirmed", OK: seats.Available == seats.TotalSeats-seats.Confirmed,
			Detail: fmt.Sprintf("available=%d", seats.Available)},
	)
	return checks, nil
}

func (c *apiClient) do(ctx context.Context, method, path, token string, body, out interface{}) (int, *appErrors.Error, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	if env.Error != nil {
		return resp.StatusCode, env.Error, nil
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.StatusCode, nil, fmt.Errorf("decode data: %w", err)
		}
	}
	return resp.StatusCode, nil, nil
}

func contiguous(ranks []int) bool {
	sorted := append([]int(nil), ranks...)
	sort.Ints(sorted)
	for i, rank := range sorted {
		if rank != i+1 {
			return false
		}
	}
	return true
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func printReport(checks []check) int {
	fmt.Println("Booking Stress Report")
	fmt.Println("=====================")
	failed := 0
	for _, c := range checks {
		status := "OK"
		if !c.OK {
			status = "FAIL"
			failed++
		}
		fmt.Printf("[%s] %s\n", status, c.Name)
		if c.Detail != "" {
			fmt.Printf("  %s\n", c.Detail)
		}
	}
	return failed
}
