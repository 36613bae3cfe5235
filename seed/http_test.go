package seed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSource_URLValidation(t *testing.T) {
	t.Parallel()
	r := NewDefaultRegistry()

	tests := []struct {
		url     string
		wantErr bool
		desc    string
	}{
		// Valid cases
		{"http://test.com", false, "basic HTTP URL"},
		{"https://test.com", false, "basic HTTPS URL"},
		{"  http://test.com   ", false, "URL with whitespace"},
		{"http://test.com/path?arg=1&arg2=2", false, "URL with path and query"},
		{"http://localhost:8080/test", false, "localhost with port"},

		// Invalid cases
		{"", true, "empty string"},
		{"ftp://test.com", true, "different scheme rejected"},
		{"test.com", true, "missing scheme"},
		{"http://user@test.com/path", true, "URL with user info"},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			src, err := r.NewSource([]byte(`{"type":"http","url":"` + tt.url + `"}`))
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, src)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, &HTTPSource{}, src)
		})
	}
}

func TestHTTPSource_Fetch(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("hello " + r.Method + " " + r.Header.Get("X-Token")))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := NewRegistry()
	r.RegisterHTTP(srv.Client())

	t.Run("successful request with headers", func(t *testing.T) {
		src, err := r.NewSource([]byte(`{"type":"http","url":"` + srv.URL + `/ok","headers":{"X-Token":"abc"}}`))
		require.NoError(t, err)
		data, err := src.Fetch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "hello GET abc", string(data))
	})

	t.Run("custom method", func(t *testing.T) {
		src, err := r.NewSource([]byte(`{"type":"http","url":"` + srv.URL + `/ok","method":"POST"}`))
		require.NoError(t, err)
		data, err := src.Fetch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "hello POST ", string(data))
	})

	t.Run("HTTP error status", func(t *testing.T) {
		src, err := r.NewSource([]byte(`{"type":"http","url":"` + srv.URL + `/missing"}`))
		require.NoError(t, err)
		_, err = src.Fetch(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})

	t.Run("cancelled context", func(t *testing.T) {
		src, err := r.NewSource([]byte(`{"type":"http","url":"` + srv.URL + `/ok"}`))
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = src.Fetch(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
