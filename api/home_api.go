package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type articleListRequest struct {
	// ArticleID pages the feed: only articles after it are returned.
	ArticleID int64 `json:"article_id"`
	Limit     int   `json:"limit" validate:"omitempty,min=1,max=50"`
}

// articleView is the cached wire shape of one article. Each element of
// the cached list is one serialized view, so a cache hit needs no
// re-marshalling.
type articleView struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Content      string `json:"content"`
	Description  string `json:"description"`
	CommentCount int    `json:"comment_count"`
	Type         string `json:"type"`
	URL          string `json:"url"`
	Thumb        string `json:"thumb"`
	InputTime    string `json:"input_time"`
}

const articleTimeLayout = "2006-01-02 15:04:05"

func (s *Server) serveArticleList(w http.ResponseWriter, r *http.Request) {
	var req articleListRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Limit == 0 {
		req.Limit = 10
	}

	var key = fmt.Sprintf("article_list_%d", req.ArticleID)
	var vals, err = s.cache.Fetch(r.Context(), key, func(ctx context.Context) ([]string, error) {
		var articles, err = s.articles.ArticlesAfter(ctx, req.ArticleID, req.Limit)
		if err != nil {
			return nil, err
		}

		var out = make([]string, 0, len(articles))
		for _, a := range articles {
			var view, err = json.Marshal(articleView{
				ID:           a.ID,
				Title:        a.Title,
				Content:      a.Content,
				Description:  a.Description,
				CommentCount: a.CommentCount,
				Type:         a.Type,
				URL:          a.URL,
				Thumb:        a.Thumb,
				InputTime:    a.InputTime.Format(articleTimeLayout),
			})
			if err != nil {
				return nil, err
			}
			out = append(out, string(view))
		}
		return out, nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	var items = make([]json.RawMessage, len(vals))
	for i, v := range vals {
		items[i] = json.RawMessage(v)
	}
	writeData(w, items)
}
