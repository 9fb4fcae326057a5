// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthority(t *testing.T, handler http.HandlerFunc) (*Authority, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	a := New("client-id", "client-secret", "reddit-collector/test", Options{
		TokenURL:    ts.URL + "/api/v1/access_token",
		IdentityURL: ts.URL + "/api/v1/me",
		HTTPClient:  ts.Client(),
	})
	return a, ts
}

func tokenHandler(calls *int32, expiresIn int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/access_token" {
			w.WriteHeader(http.StatusOK)
			return
		}
		n := atomic.AddInt32(calls, 1)
		fmt.Fprintf(w, `{"access_token":"tok-%d","token_type":"bearer","expires_in":%d,"scope":"*"}`, n, expiresIn)
	}
}

func TestToken_ExchangeAndCache(t *testing.T) {
	var calls int32
	a, _ := newTestAuthority(t, tokenHandler(&calls, 3600))

	tok, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	// Second call must hit the cache, not the server.
	tok, err = a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestToken_SendsClientCredentials(t *testing.T) {
	var gotUser, gotPass, gotGrant string
	a, _ := newTestAuthority(t, func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		require.NoError(t, r.ParseForm())
		gotGrant = r.PostForm.Get("grant_type")
		fmt.Fprint(w, `{"access_token":"tok","token_type":"bearer","expires_in":3600}`)
	})

	_, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "client-id", gotUser)
	assert.Equal(t, "client-secret", gotPass)
	assert.Equal(t, "client_credentials", gotGrant)
}

func TestToken_RefreshesInsideExpiryBuffer(t *testing.T) {
	var calls int32
	// expires_in below the 5 minute buffer: the token is never considered valid.
	a, _ := newTestAuthority(t, tokenHandler(&calls, 60))

	_, err := a.Token(context.Background())
	require.NoError(t, err)
	tok, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestToken_ExchangeFailure(t *testing.T) {
	a, _ := newTestAuthority(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})

	_, err := a.Token(context.Background())
	require.Error(t, err)
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
}

func TestToken_SingleFlightRefresh(t *testing.T) {
	var calls int32
	a, _ := newTestAuthority(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond) // hold the exchange open
		fmt.Fprint(w, `{"access_token":"tok","token_type":"bearer","expires_in":3600}`)
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := a.Token(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "tok", tok)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "concurrent callers must share one exchange")
}

func TestRefresh_WaitsForInFlightExchange(t *testing.T) {
	var calls int32
	a, _ := newTestAuthority(t, tokenHandler(&calls, 3600))

	// Simulate an exchange already in flight when refresh is entered.
	pending := make(chan struct{})
	a.mu.Lock()
	a.pending = pending
	a.mu.Unlock()

	got := make(chan string, 1)
	go func() {
		tok, err := a.refresh(context.Background())
		assert.NoError(t, err)
		got <- tok
	}()

	// Complete the simulated exchange: cache a token, release the slot.
	a.mu.Lock()
	a.token = "tok-cached"
	a.expiry = time.Now().Add(time.Hour)
	a.pending = nil
	a.mu.Unlock()
	close(pending)

	select {
	case tok := <-got:
		assert.Equal(t, "tok-cached", tok)
	case <-time.After(time.Second):
		t.Fatal("refresh did not return")
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls),
		"waiter must reuse the in-flight exchange's token, not start its own")
}

func TestInvalidate(t *testing.T) {
	var calls int32
	a, _ := newTestAuthority(t, tokenHandler(&calls, 3600))

	_, err := a.Token(context.Background())
	require.NoError(t, err)
	a.Invalidate()

	st := a.Status()
	assert.False(t, st.HasToken)
	assert.False(t, st.IsValid)

	tok, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
}

func TestStatus(t *testing.T) {
	var calls int32
	a, _ := newTestAuthority(t, tokenHandler(&calls, 3600))

	st := a.Status()
	assert.False(t, st.HasToken)

	_, err := a.Token(context.Background())
	require.NoError(t, err)

	st = a.Status()
	assert.True(t, st.HasToken)
	assert.True(t, st.IsValid)
	assert.Greater(t, st.TimeToExpiry, 50*time.Minute)
}

func TestValidate(t *testing.T) {
	var identityCalls int32
	a, _ := newTestAuthority(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/access_token":
			fmt.Fprint(w, `{"access_token":"tok","token_type":"bearer","expires_in":3600}`)
		case "/api/v1/me":
			atomic.AddInt32(&identityCalls, 1)
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			fmt.Fprint(w, `{"name":"collector"}`)
		}
	})

	require.NoError(t, a.Validate(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&identityCalls))
}

func TestValidate_Rejected(t *testing.T) {
	a, _ := newTestAuthority(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/access_token":
			fmt.Fprint(w, `{"access_token":"tok","token_type":"bearer","expires_in":3600}`)
		default:
			http.Error(w, "forbidden", http.StatusForbidden)
		}
	})

	err := a.Validate(context.Background())
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusForbidden, authErr.Status)
}
