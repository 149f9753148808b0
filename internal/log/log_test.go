package log

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaskAPIKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  string
		want string
	}{
		{"empty", "", "***EMPTY***"},
		{"tiny", "abcd", "****"},
		{"short", "abcdefgh", "ab****gh"},
		{"long with prefix", "sk-abcdefghijklmnop", "abcde******lmnop"},
		{"bearer", "Bearer abcdefghijklmnop", "abcde******lmnop"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, MaskAPIKey(tt.key))
		})
	}
}

func TestRecoverPanicRunsCleanup(t *testing.T) {
	t.Chdir(t.TempDir())

	called := false
	func() {
		defer RecoverPanic("test", func() { called = true })
		panic("boom")
	}()
	require.True(t, called)
}

func TestNewHTTPClientPassesThrough(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	t.Cleanup(srv.Close)

	resp, err := NewHTTPClient().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusTeapot, resp.StatusCode)
}
