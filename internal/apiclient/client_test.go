package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// staticTokens is a TokenSource with a fixed token and a refresh counter.
type staticTokens struct {
	token      string
	refreshed  atomic.Int32
	refreshErr error
}

func (s *staticTokens) GetValidToken(ctx context.Context) (string, error) {
	return s.token, nil
}

func (s *staticTokens) ForceRefresh(ctx context.Context) (string, error) {
	s.refreshed.Add(1)
	if s.refreshErr != nil {
		return "", s.refreshErr
	}
	s.token = "refreshed-token"
	return s.token, nil
}

func newTestClient(url string, ts TokenSource) *Client {
	return New(Config{
		BaseURL:           url,
		Tokens:            ts,
		RetryBase:         time.Millisecond,
		RequestsPerSecond: 10000, // keep tests fast
	})
}

func TestListMachines(t *testing.T) {
	t.Parallel()

	machines := `[{"serialNumber":"MR033274","modelName":"LINEA MICRA","name":"Kitchen","connected":true}]`

	t.Run("bare array", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/things", r.URL.Path)
			require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			w.Write([]byte(machines))
		}))
		defer srv.Close()

		got, err := newTestClient(srv.URL, &staticTokens{token: "tok"}).ListMachines(context.Background())
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "MR033274", got[0].SerialNumber)
		require.Equal(t, "LINEA MICRA", got[0].Model)
		require.True(t, got[0].Connected)
	})

	t.Run("things wrapper", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"things":` + machines + `}`))
		}))
		defer srv.Close()

		got, err := newTestClient(srv.URL, &staticTokens{token: "tok"}).ListMachines(context.Background())
		require.NoError(t, err)
		require.Len(t, got, 1)
	})

	t.Run("unknown fields ignored", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"serialNumber":"X","firmware":{"version":"1.2"},"extras":[1,2]}]`))
		}))
		defer srv.Close()

		got, err := newTestClient(srv.URL, &staticTokens{token: "tok"}).ListMachines(context.Background())
		require.NoError(t, err)
		require.Equal(t, "X", got[0].SerialNumber)
	})
}

func TestMachineStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/things/MR033274/dashboard", r.URL.Path)
		w.Write([]byte(`{
			"serialNumber": "MR033274",
			"widgets": [
				{"code": "CMMachineStatus", "output": {"status": "PoweredOn"}},
				{"code": "CMCoffeeBoiler", "output": {"status": "Ready"}}
			]
		}`))
	}))
	defer srv.Close()

	st, err := newTestClient(srv.URL, &staticTokens{token: "tok"}).MachineStatus(context.Background(), "MR033274")
	require.NoError(t, err)
	require.Equal(t, "MR033274", st.SerialNumber)
	require.NotNil(t, st.BoilerReady)
	require.True(t, *st.BoilerReady)
}

func TestSetPower(t *testing.T) {
	t.Parallel()

	var gotMode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/things/MR033274/command/CoffeeMachineChangeMode", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var cmd map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&cmd))
		gotMode = cmd["mode"]
		w.Write([]byte(`{"id":"cmd-1","status":"PENDING"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, &staticTokens{token: "tok"})

	require.NoError(t, c.SetPower(context.Background(), "MR033274", true))
	require.Equal(t, "BrewingMode", gotMode)

	require.NoError(t, c.SetPower(context.Background(), "MR033274", false))
	require.Equal(t, "StandBy", gotMode)
}

func TestUnauthorizedRefreshOnce(t *testing.T) {
	t.Parallel()

	t.Run("refresh recovers the call", func(t *testing.T) {
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			if r.Header.Get("Authorization") != "Bearer refreshed-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`[]`))
		}))
		defer srv.Close()

		ts := &staticTokens{token: "stale"}
		_, err := newTestClient(srv.URL, ts).ListMachines(context.Background())
		require.NoError(t, err)
		require.EqualValues(t, 1, ts.refreshed.Load())
		require.EqualValues(t, 2, requests.Load())
	})

	t.Run("second 401 surfaces without a third attempt", func(t *testing.T) {
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		ts := &staticTokens{token: "stale"}
		_, err := newTestClient(srv.URL, ts).ListMachines(context.Background())
		require.True(t, IsKind(err, KindUnauthorized))
		require.EqualValues(t, 1, ts.refreshed.Load())
		require.EqualValues(t, 2, requests.Load())
	})
}

func TestTransientRetry(t *testing.T) {
	t.Parallel()

	t.Run("recovers after repeated 503s", func(t *testing.T) {
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requests.Add(1) <= 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`[]`))
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL, &staticTokens{token: "tok"}).ListMachines(context.Background())
		require.NoError(t, err)
		require.EqualValues(t, 4, requests.Load())
	})

	t.Run("exhausted retries surface transient", func(t *testing.T) {
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL, &staticTokens{token: "tok"}).ListMachines(context.Background())
		require.True(t, IsKind(err, KindTransient))
		require.EqualValues(t, 4, requests.Load()) // initial + 3 retries
	})

	t.Run("429 honours retry-after", func(t *testing.T) {
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requests.Add(1) == 1 {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(`[]`))
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL, &staticTokens{token: "tok"}).ListMachines(context.Background())
		require.NoError(t, err)
		require.EqualValues(t, 2, requests.Load())
	})

	t.Run("connection failure retried as unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		_, err := newTestClient(srv.URL, &staticTokens{token: "tok"}).ListMachines(context.Background())
		require.True(t, IsKind(err, KindUnreachable))
	})
}

func TestRejectedNotRetried(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not_found","message":"unknown serial"}`))
	}))
	defer srv.Close()

	err := newTestClient(srv.URL, &staticTokens{token: "tok"}).SetPower(context.Background(), "NOPE", true)
	require.True(t, IsKind(err, KindRejected))
	require.Contains(t, err.Error(), "unknown serial")
	require.EqualValues(t, 1, requests.Load())
}

func TestMalformedResponseNotRetried(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(`<html>definitely not json</html>`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, &staticTokens{token: "tok"}).MachineStatus(context.Background(), "X")
	require.True(t, IsKind(err, KindMalformedResponse))
	require.EqualValues(t, 1, requests.Load())
}

func TestRetryAfterParsing(t *testing.T) {
	t.Parallel()

	now := time.Now()

	t.Run("delta seconds", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", "7")
		require.Equal(t, 7*time.Second, retryAfter(h, now))
	})

	t.Run("http date", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", now.Add(10*time.Second).UTC().Format(http.TimeFormat))
		d := retryAfter(h, now)
		require.Greater(t, d, 8*time.Second)
		require.LessOrEqual(t, d, 10*time.Second)
	})

	t.Run("absent or garbage", func(t *testing.T) {
		require.Zero(t, retryAfter(http.Header{}, now))

		h := http.Header{}
		h.Set("Retry-After", "soonish")
		require.Zero(t, retryAfter(h, now))
	})

	t.Run("huge delta is capped", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", "86400")
		require.Equal(t, retryAfterMax, retryAfter(h, now))
	})

	t.Run("far future date is capped", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", now.Add(24*time.Hour).UTC().Format(http.TimeFormat))
		require.Equal(t, retryAfterMax, retryAfter(h, now))
	})
}
