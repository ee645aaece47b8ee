package malclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchByTitle(t *testing.T) {
	srv := newTestServer(t, `{"data":[{"mal_id":1,"title":"One Piece","episodes":0,"year":1999}]}`)
	client := New(srv.URL, time.Millisecond, time.Second, nil)

	results, err := client.SearchByTitle(context.Background(), "one piece")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].MALID)
	assert.Equal(t, "One Piece", results[0].Title)
}

func TestGetByID(t *testing.T) {
	srv := newTestServer(t, `{"data":{"mal_id":42,"title":"Jujutsu Kaisen","episodes":24,"year":2020}}`)
	client := New(srv.URL, time.Millisecond, time.Second, nil)

	anime, err := client.GetByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 42, anime.MALID)
	assert.Equal(t, 24, anime.Episodes)
}

func TestThrottle_EnforcesMinimumGap(t *testing.T) {
	srv := newTestServer(t, `{"data":[]}`)
	throttle := 30 * time.Millisecond
	client := New(srv.URL, throttle, time.Second, nil)

	start := time.Now()
	_, err := client.SearchByTitle(context.Background(), "a")
	require.NoError(t, err)
	_, err = client.SearchByTitle(context.Background(), "b")
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, throttle)
}

func TestValidateMetadata(t *testing.T) {
	assert.True(t, ValidateMetadata(Anime{Episodes: 12}, 12, 2))
	assert.True(t, ValidateMetadata(Anime{Episodes: 13}, 12, 2))
	assert.False(t, ValidateMetadata(Anime{Episodes: 24}, 12, 2))
	assert.True(t, ValidateMetadata(Anime{Episodes: 0}, 12, 2), "unknown episode count should not block a match")
}

func TestMultiQuerySearch_EarlyExitOnStrongMatch(t *testing.T) {
	srv := newTestServer(t, `{"data":[{"mal_id":5,"title":"Demon Slayer","episodes":26,"year":2019}]}`)
	client := New(srv.URL, time.Millisecond, time.Second, nil)

	anime, score, found := client.MultiQuerySearch(context.Background(), []string{"demon slayer", "kimetsu no yaiba"}, 2019, func(a Anime) float64 {
		if a.Title == "Demon Slayer" {
			return 0.95
		}
		return 0
	})

	require.True(t, found)
	assert.Equal(t, 5, anime.MALID)
	assert.InDelta(t, 0.95, score, 0.001)
}
