package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mededge/pulse/catalog"
)

var errSourceDown = errors.New("article source down")

func TestArticleListServesRepeatsFromCache(t *testing.T) {
	var ts = newTestServer(t)
	ts.articles.articles = []catalog.Article{
		{ID: 1, Title: "ECG basics", Type: "guide", CommentCount: 4,
			InputTime: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)},
		{ID: 2, Title: "Sepsis bundles", Type: "news",
			InputTime: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)},
	}

	var fetch = func(articleID int64) []articleView {
		var status, raw = ts.postJSON(t, "/api/v1/home/article-list", ts.bearer(t, 1),
			map[string]int64{"article_id": articleID})
		require.Equal(t, http.StatusOK, status)
		var env struct {
			Code int           `json:"code"`
			Data []articleView `json:"data"`
		}
		require.NoError(t, json.Unmarshal(raw, &env))
		require.Equal(t, 200, env.Code)
		return env.Data
	}

	var first = fetch(0)
	require.Len(t, first, 2)
	require.Equal(t, "ECG basics", first[0].Title)
	require.Equal(t, "2026-03-01 09:30:00", first[0].InputTime)
	require.Equal(t, 1, ts.articles.loadCount())
	require.True(t, ts.mr.Exists("article_list_0"))

	// A repeat is served from cache without touching the source.
	require.Equal(t, first, fetch(0))
	require.Equal(t, 1, ts.articles.loadCount())

	// A different page is a different key.
	fetch(2)
	require.Equal(t, 2, ts.articles.loadCount())
}

func TestArticleListRejectsOversizedLimit(t *testing.T) {
	var ts = newTestServer(t)

	var status, _ = ts.postJSON(t, "/api/v1/home/article-list", ts.bearer(t, 1),
		map[string]int{"limit": 51})
	require.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestArticleListSourceFailureIsNotCached(t *testing.T) {
	var ts = newTestServer(t)
	ts.articles.err = errSourceDown

	var status, raw = ts.postJSON(t, "/api/v1/home/article-list", ts.bearer(t, 1),
		map[string]int64{"article_id": 9})
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "internal error", envelope(t, raw).Message)
	require.False(t, ts.mr.Exists("article_list_9"), "a failed load must leave no entry")

	// Recovery: the next fetch reloads.
	ts.articles.err = nil
	ts.articles.articles = []catalog.Article{{ID: 10, Title: "CT protocols", InputTime: time.Now()}}
	status, _ = ts.postJSON(t, "/api/v1/home/article-list", ts.bearer(t, 1),
		map[string]int64{"article_id": 9})
	require.Equal(t, http.StatusOK, status)
	require.True(t, ts.mr.Exists("article_list_9"))
}
