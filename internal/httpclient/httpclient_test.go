package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mandari/ingestor/internal/metrics"
)

func TestFetch_Returns404WithoutRetry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{MaxRetries: 3, RequestTimeout: time.Second}, nil, metrics.New(false))
	result := c.Fetch(context.Background(), srv.URL, false, true)

	assert.Equal(t, http.StatusNotFound, result.StatusCode)
	assert.NoError(t, result.Error)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFetch_RetriesOn500(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(Config{MaxRetries: 5, RetryBackoff: 1.0, RequestTimeout: time.Second}, nil, metrics.New(false))
	result := c.Fetch(context.Background(), srv.URL, false, true)

	require.NoError(t, result.Error)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestFetch_304IsCacheHit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	c := New(Config{RequestTimeout: time.Second}, nil, metrics.New(false))
	result := c.Fetch(context.Background(), srv.URL, true, true)

	assert.True(t, result.FromCache)
	assert.Equal(t, http.StatusNotModified, result.StatusCode)
}

func TestFetch_4xxIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(Config{MaxRetries: 5, RequestTimeout: time.Second}, nil, metrics.New(false))
	result := c.Fetch(context.Background(), srv.URL, false, true)

	assert.Error(t, result.Error)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFetchList_StopsAtMaxPages(t *testing.T) {
	var page int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&page, 1)
		w.Header().Set("Content-Type", "application/json")
		next := fmt.Sprintf(`%s/page?n=%d`, srv.URL, n+1)
		_, _ = fmt.Fprintf(w, `{"data":[{"id":"x"}],"links":{"next":%q}}`, next)
	})

	c := New(Config{RequestTimeout: time.Second}, nil, metrics.New(false))
	ch := c.FetchList(context.Background(), srv.URL+"/page?n=1", 3)

	var pages int
	for p := range ch {
		require.NoError(t, p.Err)
		pages++
	}
	assert.Equal(t, 3, pages)
}

func TestFetchList_StopsWhenNoNextLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"x"}],"links":{}}`))
	}))
	defer srv.Close()

	c := New(Config{RequestTimeout: time.Second}, nil, metrics.New(false))
	ch := c.FetchList(context.Background(), srv.URL, 0)

	var pages int
	for p := range ch {
		require.NoError(t, p.Err)
		pages++
	}
	assert.Equal(t, 1, pages)
}

func TestURLHash_Deterministic(t *testing.T) {
	h1 := URLHash("https://ris.muenster.de/oparl/body/1")
	h2 := URLHash("https://ris.muenster.de/oparl/body/1")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 8)
}
