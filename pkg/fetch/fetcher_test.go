package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"site-mapper/pkg/config"
	"site-mapper/pkg/utils"
)

// testLogger returns a logger that discards output
func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testFetcher(maxBody int64) *Fetcher {
	cfg := config.AppConfig{}
	_, _ = cfg.Validate()
	return NewFetcher(NewClient(cfg.HTTPClientSettings, testLogger()), "test-agent", maxBody, testLogger())
}

// mockServer serves a fixed status, content type and body, counting requests.
func mockServer(t *testing.T, status int, contentType, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	attempts := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)
	return server, attempts
}

func TestFetcher_Get_Success(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, "<html><body>ok</body></html>")
	}))
	defer server.Close()

	resp, err := testFetcher(0).Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.ContentType)
	assert.Equal(t, "<html><body>ok</body></html>", string(resp.Body))
	assert.Equal(t, "test-agent", gotUA)
}

func TestFetcher_Get_NoRetry(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantErr    error
		isNotFound bool
	}{
		{"404", http.StatusNotFound, utils.ErrClientHTTPError, true},
		{"403", http.StatusForbidden, utils.ErrClientHTTPError, false},
		{"500", http.StatusInternalServerError, utils.ErrServerHTTPError, false},
		{"503", http.StatusServiceUnavailable, utils.ErrServerHTTPError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, attempts := mockServer(t, tt.status, "text/html", "error page")

			resp, err := testFetcher(0).Get(context.Background(), server.URL)
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.isNotFound, errors.Is(err, utils.ErrNotFound))
			assert.Equal(t, tt.status, utils.StatusCodeOf(err))
			assert.Equal(t, int32(1), attempts.Load(), "exactly one request")
		})
	}
}

func TestFetcher_Get_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close() // Nothing listens any more

	_, err := testFetcher(0).Get(context.Background(), url)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrTransport)
	assert.False(t, errors.Is(err, utils.ErrNotFound))
	assert.Equal(t, 0, utils.StatusCodeOf(err))
}

func TestFetcher_Get_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := testFetcher(0).Get(ctx, server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetcher_Get_BodyCapped(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"below cap", 9, false},
		{"at cap", 10, false},
		{"over cap", 11, true},
		{"far over cap", 100, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := mockServer(t, http.StatusOK, "text/html", strings.Repeat("a", tt.size))

			resp, err := testFetcher(10).Get(context.Background(), server.URL)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, utils.ErrResponseBodyRead)
				assert.Nil(t, resp)
				return
			}
			require.NoError(t, err)
			assert.Len(t, resp.Body, tt.size)
		})
	}
}

func TestFetcher_Get_InvalidURL(t *testing.T) {
	_, err := testFetcher(0).Get(context.Background(), "http://[::1")
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrRequestCreation)
}

func TestFetcher_Get_FollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "moved")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := testFetcher(0).Get(context.Background(), server.URL+"/old")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/new", resp.URL)
	assert.Equal(t, "moved", string(resp.Body))
}
