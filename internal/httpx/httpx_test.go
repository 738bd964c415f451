package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClient_SetsDefaultHeaders(t *testing.T) {
	t.Parallel()

	var gotUA, gotExtra, gotOverride string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotExtra = r.Header.Get("X-Extra")
		gotOverride = r.Header.Get("X-Override")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(5 * time.Second)
	c.Headers = map[string]string{"X-Extra": "1", "X-Override": "default"}

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL, http.NoBody)
	require.NoError(t, err)
	req.Header.Set("X-Override", "caller")

	res, err := c.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusNoContent, res.StatusCode)
	require.Equal(t, "quotegateway/1.0", gotUA)
	require.Equal(t, "1", gotExtra)
	require.Equal(t, "caller", gotOverride)
}
