package update

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChecker(t *testing.T, tag string) (*Checker, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			fmt.Fprintf(w, `{"tag_name":%q}`, tag)
		}))
	t.Cleanup(srv.Close)

	c := NewChecker(t.TempDir())
	c.APIURL = srv.URL
	return c, &hits
}

func TestCheckReportsNewer(t *testing.T) {
	c, _ := newTestChecker(t, "v1.5.0")

	res, err := c.Check("v1.4.2", false)
	require.NoError(t, err)
	assert.True(t, res.UpdateAvailable)
	assert.Equal(t, "v1.5.0", res.LatestVersion)
	assert.False(t, res.FromCache)
}

func TestCheckUpToDate(t *testing.T) {
	c, _ := newTestChecker(t, "v1.4.2")

	res, err := c.Check("v1.4.2", false)
	require.NoError(t, err)
	assert.False(t, res.UpdateAvailable)
}

func TestCheckUsesCache(t *testing.T) {
	c, hits := newTestChecker(t, "v2.0.0")

	_, err := c.Check("v1.0.0", false)
	require.NoError(t, err)
	require.Equal(t, int64(1), hits.Load())

	res, err := c.Check("v1.0.0", false)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.True(t, res.UpdateAvailable)
	assert.Equal(t, int64(1), hits.Load())

	// Force bypasses the cache.
	_, err = c.Check("v1.0.0", true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestCheckFeedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
	defer srv.Close()

	c := NewChecker(t.TempDir())
	c.APIURL = srv.URL
	_, err := c.Check("v1.0.0", false)
	assert.Error(t, err)
}

func TestIsNewer(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"v1.2.3", "v1.2.2", true},
		{"v1.2.3", "1.2.3", false},
		{"v1.2.3", "v1.3.0", false},
		{"v2.0.0", "v2.0.0-rc.1", true},
		{"v1.2.3", "v1.2.2-5-gabcdef0", true},
		{"v1.2.3", "dev", false},
		{"", "v1.0.0", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isNewer(tt.latest, tt.current),
			"isNewer(%q, %q)", tt.latest, tt.current)
	}
}
