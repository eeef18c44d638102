package originclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDoReturnsHeadAndStreamsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	c := NewClient()
	defer c.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, "yes", resp.Header.Get("X-Test"))

	var body []byte
	for {
		chunk, err := resp.Body.Next()
		body = append(body, chunk...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	require.Equal(t, "hello world", string(body))
	require.NoError(t, resp.Body.Close())
}

func TestConnectionPoolReusesClientPerHost(t *testing.T) {
	p := NewConnectionPool(DefaultPoolConfig())
	c1 := p.GetClient("example.com")
	c2 := p.GetClient("example.com")
	c3 := p.GetClient("other.com")

	require.Same(t, c1, c2)
	require.NotSame(t, c1, c3)
}
