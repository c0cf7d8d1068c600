package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
	"github.com/SmitUplenchwar2687/spotwalk/internal/clock"
)

const testToken = "test-token"

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, testToken, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com", "http://", "://bad"} {
		if _, err := New(raw, ""); err == nil {
			t.Errorf("New(%q) error = nil, want error", raw)
		}
	}
}

func TestAttempt_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/logs/" {
			t.Errorf("request = %s %s, want POST /api/logs/", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("is_auto"); got != "true" {
			t.Errorf("is_auto = %q, want true", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer "+testToken {
			t.Errorf("Authorization = %q", got)
		}

		var body logRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		if body.SpotID != 42 || body.Latitude != 48.1 || body.Longitude != 11.5 {
			t.Errorf("body = %+v", body)
		}

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": 7, "user_id": 1, "spot_id": 42, "distance": 12.5, "is_auto": true,
			"xp_gained": 10, "claim_points": 5, "timestamp": "2024-01-01T12:00:00.123456"}`))
	})

	res := c.Attempt(context.Background(), "42", 48.1, 11.5)
	if res.Outcome != autolog.OutcomeSuccess {
		t.Fatalf("Outcome = %v, want success (err %v)", res.Outcome, res.Err)
	}
	r := res.Reward
	if r == nil || r.LogID != 7 || r.XPGained != 10 || r.ClaimPoints != 5 || r.Distance != 12.5 {
		t.Fatalf("Reward = %+v", r)
	}
	want := time.Date(2024, 1, 1, 12, 0, 0, 123456000, time.UTC)
	if !r.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", r.Timestamp, want)
	}
}

func TestAttempt_RateLimitedWithDetail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"detail": "Cooldown active: 4m 30s remaining"}`))
	})

	res := c.Attempt(context.Background(), "1", 0, 0)
	if res.Outcome != autolog.OutcomeRateLimited {
		t.Fatalf("Outcome = %v, want rate_limited", res.Outcome)
	}
	if res.RetryAfter != 4*time.Minute+30*time.Second {
		t.Errorf("RetryAfter = %v, want 4m30s", res.RetryAfter)
	}
}

func TestAttempt_RateLimitedRetryAfterHeader(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	res := c.Attempt(context.Background(), "1", 0, 0)
	if res.Outcome != autolog.OutcomeRateLimited || res.RetryAfter != 2*time.Minute {
		t.Errorf("result = %+v, want rate_limited with 2m hint", res)
	}
}

func TestAttempt_RateLimitedRetryAfterDate(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", now.Add(90*time.Second).Format(http.TimeFormat))
		w.WriteHeader(http.StatusTooManyRequests)
	}, WithClock(clock.NewVirtualClock(now)))

	res := c.Attempt(context.Background(), "1", 0, 0)
	if res.RetryAfter != 90*time.Second {
		t.Errorf("RetryAfter = %v, want 90s", res.RetryAfter)
	}
}

func TestAttempt_Failures(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		target   string
		wantCode int
		wantText string
	}{
		{"too far", http.StatusBadRequest, `{"detail": "Cannot log: spot not found or too far away"}`, "1", 400, "too far away"},
		{"server error", http.StatusInternalServerError, `oops`, "1", 500, "oops"},
		{"unauthorized", http.StatusUnauthorized, `{"detail": "Could not validate credentials"}`, "1", 401, "credentials"},
		{"validation", http.StatusUnprocessableEntity, `{"detail": [{"loc": ["body", "spot_id"]}]}`, "1", 422, "spot_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})
			res := c.Attempt(context.Background(), tc.target, 0, 0)
			if res.Outcome != autolog.OutcomeFailure {
				t.Fatalf("Outcome = %v, want failure", res.Outcome)
			}
			var se *StatusError
			if !errors.As(res.Err, &se) || se.Code != tc.wantCode {
				t.Errorf("Err = %v, want status %d", res.Err, tc.wantCode)
			}
			if !strings.Contains(res.Err.Error(), tc.wantText) {
				t.Errorf("Err = %q, want it to mention %q", res.Err, tc.wantText)
			}
		})
	}
}

func TestAttempt_UnauthorizedSentinel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	res := c.Attempt(context.Background(), "1", 0, 0)
	if !errors.Is(res.Err, ErrUnauthorized) {
		t.Errorf("Err = %v, want ErrUnauthorized", res.Err)
	}
}

func TestAttempt_NonNumericTarget(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })
	res := c.Attempt(context.Background(), "abc", 0, 0)
	if res.Outcome != autolog.OutcomeFailure {
		t.Errorf("Outcome = %v, want failure", res.Outcome)
	}
	if called {
		t.Error("backend should not be called for a non-numeric id")
	}
}

func TestAttempt_Timeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, WithTimeout(50*time.Millisecond))
	defer close(release)

	res := c.Attempt(context.Background(), "1", 0, 0)
	if res.Outcome != autolog.OutcomeFailure {
		t.Errorf("Outcome = %v, want failure", res.Outcome)
	}
}

func TestNearbySpots(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/spots/nearby" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("latitude") != "48.1" || q.Get("longitude") != "11.5" || q.Get("radius") != "10000" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte(`[
			{"id": 1, "name": "Fountain", "latitude": 48.1, "longitude": 11.5, "is_permanent": true, "is_loot": false,
			 "created_at": "2024-01-01T00:00:00"},
			{"id": 2, "name": "Loot", "latitude": 48.2, "longitude": 11.6, "is_permanent": false, "is_loot": true,
			 "created_at": "2024-01-01T00:00:00Z", "loot_expires_at": "2024-01-01T00:30:00", "loot_xp": 50}
		]`))
	})

	spots, err := c.NearbySpots(context.Background(), 48.1, 11.5, 50000)
	if err != nil {
		t.Fatalf("NearbySpots() error = %v", err)
	}
	if len(spots) != 2 {
		t.Fatalf("len = %d, want 2", len(spots))
	}
	if got := spots[0].Target(); got.ID != "1" || got.Latitude != 48.1 {
		t.Errorf("Target() = %+v", got)
	}
	loot := spots[1]
	if !loot.IsLoot || loot.LootExpiresAt == nil || loot.LootXP == nil || *loot.LootXP != 50 {
		t.Fatalf("loot spot = %+v", loot)
	}
	if want := time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC); !loot.LootExpiresAt.Equal(want) {
		t.Errorf("LootExpiresAt = %v, want %v", loot.LootExpiresAt.Time, want)
	}
}

func TestNearbySpots_Error(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	if _, err := c.NearbySpots(context.Background(), 0, 0, 0); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("NearbySpots() error = %v, want ErrUnauthorized", err)
	}
}

func TestMyLogs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/logs/me" || r.URL.Query().Get("limit") != "5" {
			t.Errorf("request = %s", r.URL)
		}
		w.Write([]byte(`[{"id": 3, "user_id": 1, "spot_id": 9, "distance": 3.2, "is_auto": true,
			"xp_gained": 10, "claim_points": 5, "timestamp": "2024-01-01T00:00:00"}]`))
	})
	logs, err := c.MyLogs(context.Background(), 5)
	if err != nil {
		t.Fatalf("MyLogs() error = %v", err)
	}
	if len(logs) != 1 || logs[0].SpotID != 9 || !logs[0].IsAuto {
		t.Errorf("logs = %+v", logs)
	}
}

func TestTimestamp_Formats(t *testing.T) {
	cases := map[string]time.Time{
		`"2024-01-01T12:00:00Z"`:      time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		`"2024-01-01T14:00:00+02:00"`: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		`"2024-01-01T12:00:00"`:       time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		`"2024-01-01 12:00:00.5"`:     time.Date(2024, 1, 1, 12, 0, 0, 500000000, time.UTC),
		`null`:                        {},
	}
	for in, want := range cases {
		var ts Timestamp
		if err := json.Unmarshal([]byte(in), &ts); err != nil {
			t.Errorf("Unmarshal(%s) error = %v", in, err)
			continue
		}
		if !ts.Equal(want) {
			t.Errorf("Unmarshal(%s) = %v, want %v", in, ts.Time, want)
		}
	}

	var ts Timestamp
	if err := json.Unmarshal([]byte(`"yesterday"`), &ts); err == nil {
		t.Error("Unmarshal(yesterday) error = nil, want error")
	}
}

func TestInspectToken(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "walker",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("secret-the-client-never-sees"))
	if err != nil {
		t.Fatal(err)
	}

	info, err := InspectToken(tok)
	if err != nil {
		t.Fatalf("InspectToken() error = %v", err)
	}
	if info.Subject != "walker" || !info.ExpiresAt.Equal(exp) {
		t.Errorf("info = %+v", info)
	}
	if info.Expired(exp.Add(-time.Second)) {
		t.Error("token should not be expired before exp")
	}
	if !info.Expired(exp) {
		t.Error("token should be expired at exp")
	}

	if _, err := InspectToken("not-a-jwt"); err == nil {
		t.Error("InspectToken(garbage) error = nil, want error")
	}
	if _, err := InspectToken(""); err == nil {
		t.Error("InspectToken(empty) error = nil, want error")
	}
}

func TestTokenInfo_NoExpiry(t *testing.T) {
	if (TokenInfo{}).Expired(time.Now()) {
		t.Error("token without exp should never be expired")
	}
}
