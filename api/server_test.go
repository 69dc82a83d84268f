package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/mededge/pulse/auth"
	"github.com/mededge/pulse/behavior"
	"github.com/mededge/pulse/catalog"
	"github.com/mededge/pulse/fault"
	"github.com/mededge/pulse/idempotency"
	"github.com/mededge/pulse/kv"
	"github.com/mededge/pulse/listcache"
	"github.com/mededge/pulse/llm"
	"github.com/mededge/pulse/payment"
	"github.com/mededge/pulse/push"
	"github.com/mededge/pulse/rag"
	"github.com/mededge/pulse/recommend"
)

type fakeLogin struct {
	gotReq     auth.LoginRequest
	resp       *auth.LoginResponse
	err        error
	refreshed  *auth.TokenData
	refreshErr error
}

func (f *fakeLogin) Login(_ context.Context, req auth.LoginRequest) (*auth.LoginResponse, error) {
	f.gotReq = req
	return f.resp, f.err
}

func (f *fakeLogin) Refresh(context.Context, string) (*auth.TokenData, error) {
	return f.refreshed, f.refreshErr
}

type fakeArticles struct {
	mu       sync.Mutex
	loads    int
	articles []catalog.Article
	err      error
}

func (f *fakeArticles) ArticlesAfter(context.Context, int64, int) ([]catalog.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.articles, f.err
}

func (f *fakeArticles) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

// fakeCatalog is an in-memory course and order store. insertDelay
// widens the in-flight window for duplicate-submission tests.
type fakeCatalog struct {
	mu          sync.Mutex
	courses     map[int64]catalog.Course
	orders      map[string]catalog.Order
	inserts     int
	insertDelay time.Duration
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		courses: make(map[int64]catalog.Course),
		orders:  make(map[string]catalog.Order),
	}
}

func (f *fakeCatalog) CourseByID(_ context.Context, id int64) (*catalog.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var c, ok = f.courses[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &c, nil
}

func (f *fakeCatalog) InsertOrder(_ context.Context, o *catalog.Order) error {
	f.mu.Lock()
	f.inserts++
	f.orders[o.OrderNo] = *o
	var delay = f.insertDelay
	f.mu.Unlock()

	time.Sleep(delay)
	return nil
}

func (f *fakeCatalog) OrderByNo(_ context.Context, orderNo string) (*catalog.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var o, ok = f.orders[orderNo]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &o, nil
}

func (f *fakeCatalog) MarkOrderPaid(_ context.Context, orderNo, transactionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var o, ok = f.orders[orderNo]
	if !ok {
		return catalog.ErrNotFound
	}
	if o.Status != catalog.OrderCompleted {
		o.Status = catalog.OrderCompleted
		o.TransactionID = transactionID
		f.orders[orderNo] = o
	}
	return nil
}

func (f *fakeCatalog) insertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserts
}

func (f *fakeCatalog) order(t *testing.T, orderNo string) catalog.Order {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var o, ok = f.orders[orderNo]
	require.True(t, ok, "order %s not stored", orderNo)
	return o
}

type fakeRecommender struct {
	gotTopN    int
	gotExclude bool
	recs       []recommend.Recommendation
	err        error
}

func (f *fakeRecommender) Recommend(_ context.Context, _ int64, topN int, exclude bool) ([]recommend.Recommendation, error) {
	f.gotTopN = topN
	f.gotExclude = exclude
	return f.recs, f.err
}

type fakeRecorder struct {
	gotUserID int64
	gotReq    behavior.Request
	gotMeta   behavior.ClientMeta
	ok        bool
}

func (f *fakeRecorder) Record(_ context.Context, userID int64, req behavior.Request, meta behavior.ClientMeta) bool {
	f.gotUserID = userID
	f.gotReq = req
	f.gotMeta = meta
	return f.ok
}

// fakeChat scripts chat turns: Chat replays events over a channel that
// closes when the script is exhausted.
type fakeChat struct {
	session     rag.Session
	sessions    []rag.Session
	messages    []llm.Message
	events      []rag.Event
	chatErr     error
	gotSession  string
	gotQuestion string
}

func (f *fakeChat) CreateSession(context.Context, int64) (rag.Session, error) {
	return f.session, nil
}

func (f *fakeChat) Sessions(context.Context, int64) ([]rag.Session, error) {
	return f.sessions, nil
}

func (f *fakeChat) Messages(context.Context, int64, string) ([]llm.Message, error) {
	return f.messages, nil
}

func (f *fakeChat) Chat(_ context.Context, _ int64, sessionID, question string) (<-chan rag.Event, error) {
	f.gotSession = sessionID
	f.gotQuestion = question
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	var out = make(chan rag.Event, len(f.events))
	for _, ev := range f.events {
		out <- ev
	}
	close(out)
	return out, nil
}

type fakeUploads struct {
	gotObject string
	url       string
	err       error
}

func (f *fakeUploads) PresignedPut(_ context.Context, objectName string) (string, error) {
	f.gotObject = objectName
	return f.url, f.err
}

func (f *fakeUploads) Bucket() string        { return "test-bucket" }
func (f *fakeUploads) Expiry() time.Duration { return 15 * time.Minute }

// testServer wires a Server over fakes and a live listener. The token
// layer, list cache, idempotency gate, payment table and push registry
// are real; the stores behind them are in-memory.
type testServer struct {
	*Server
	http        *httptest.Server
	mr          *miniredis.Miniredis
	tokens      *auth.Tokens
	login       *fakeLogin
	articles    *fakeArticles
	catalog     *fakeCatalog
	recommender *fakeRecommender
	recorder    *fakeRecorder
	chat        *fakeChat
	uploads     *fakeUploads
	registry    *push.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	var mr = miniredis.RunT(t)
	var store = kv.NewRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = store.Close() })

	var tokens, err = auth.NewTokens(auth.Config{Secret: "test-secret", Algorithm: "HS256", AccessTTL: time.Hour})
	require.NoError(t, err)

	var ts = &testServer{
		mr:          mr,
		tokens:      tokens,
		login:       &fakeLogin{},
		articles:    &fakeArticles{},
		catalog:     newFakeCatalog(),
		recommender: &fakeRecommender{},
		recorder:    &fakeRecorder{ok: true},
		chat:        &fakeChat{},
		uploads:     &fakeUploads{url: "https://minio.test/signed"},
		registry:    push.NewRegistry(),
	}
	ts.Server = NewServer(Args{
		Tokens:    tokens,
		Login:     ts.login,
		Articles:  ts.articles,
		Cache:     listcache.New(store, listcache.Options{}),
		Gate:      idempotency.NewGate(store, time.Hour),
		Courses:   ts.catalog,
		Orders:    ts.catalog,
		Payments:  payment.NewTable(payment.Config{AlipayAppID: "app-1"}),
		Recommend: ts.recommender,
		Recorder:  ts.recorder,
		Registry:  ts.registry,
		Chat:      ts.chat,
		Uploads:   ts.uploads,
	})
	ts.http = httptest.NewServer(ts.Router())
	t.Cleanup(ts.http.Close)
	return ts
}

// bearer issues a signed token for userID.
func (ts *testServer) bearer(t *testing.T, userID int64) string {
	t.Helper()
	var token, err = ts.tokens.Issue(auth.Identity{UserID: userID, Username: "tester", Scope: "user"})
	require.NoError(t, err)
	return token
}

// request sends body (JSON-marshalled unless nil or []byte) and returns
// the status and raw response body.
func (ts *testServer) request(t *testing.T, method, path, token string, body interface{}, header http.Header) (int, []byte) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		var raw, err = json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	var req, err = http.NewRequest(method, ts.http.URL+path, reader)
	require.NoError(t, err)
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func (ts *testServer) postJSON(t *testing.T, path, token string, body interface{}) (int, []byte) {
	t.Helper()
	return ts.request(t, "POST", path, token, body, nil)
}

func (ts *testServer) getJSON(t *testing.T, path, token string) (int, []byte) {
	t.Helper()
	return ts.request(t, "GET", path, token, nil, nil)
}

// jsonBody marshals v into a request body reader.
func jsonBody(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	var raw, err = json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

func readAll(t *testing.T, r io.Reader) string {
	t.Helper()
	var raw, err = io.ReadAll(r)
	require.NoError(t, err)
	return string(raw)
}

// envelope decodes raw into an Envelope, leaving Data generic.
func envelope(t *testing.T, raw []byte) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestHealthzIsOpen(t *testing.T) {
	var ts = newTestServer(t)

	var status, raw = ts.getJSON(t, "/healthz", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"status":"ok"}`, string(raw))
}

func TestMetricsIsOpen(t *testing.T) {
	var ts = newTestServer(t)

	var status, raw = ts.getJSON(t, "/metrics", "")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, string(raw), "pulse_api_requests_total")
}

func TestMissingTokenIsRejected(t *testing.T) {
	var ts = newTestServer(t)

	var status, raw = ts.postJSON(t, "/api/v1/recommendation/course-recommend", "", map[string]int{"top_n": 5})
	require.Equal(t, http.StatusUnauthorized, status)
	var env = envelope(t, raw)
	require.Equal(t, 401, env.Code)
	require.Equal(t, "missing Authorization header", env.Message)
}

func TestMalformedAuthorizationHeaderIsRejected(t *testing.T) {
	var ts = newTestServer(t)

	var status, _ = ts.request(t, "POST", "/api/v1/recommendation/course-recommend", "",
		map[string]int{"top_n": 5}, http.Header{"Authorization": []string{"Basic abc"}})
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestForgedTokenIsRejected(t *testing.T) {
	var ts = newTestServer(t)

	var other, err = auth.NewTokens(auth.Config{Secret: "other-secret", Algorithm: "HS256", AccessTTL: time.Hour})
	require.NoError(t, err)
	forged, err := other.Issue(auth.Identity{UserID: 9})
	require.NoError(t, err)

	var status, raw = ts.postJSON(t, "/api/v1/recommendation/course-recommend", forged, map[string]int{"top_n": 5})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "invalid token", envelope(t, raw).Message)
}

func TestLoginRouteIsWhitelisted(t *testing.T) {
	var ts = newTestServer(t)
	ts.login.resp = &auth.LoginResponse{
		Token: auth.TokenData{AccessToken: "issued", TokenType: "bearer"},
		User:  auth.UserInfo{ID: 7, Username: "alice"},
	}

	var status, raw = ts.postJSON(t, "/api/v1/user/login", "",
		auth.LoginRequest{LoginType: "account", Username: "alice", Password: "pw"})
	require.Equal(t, http.StatusOK, status)

	var env struct {
		Code int                `json:"code"`
		Data auth.LoginResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, 200, env.Code)
	require.Equal(t, "issued", env.Data.Token.AccessToken)
	require.Equal(t, "account", ts.login.gotReq.LoginType)
}

func TestLoginRejectionKeepsStatusContract(t *testing.T) {
	var ts = newTestServer(t)
	ts.login.err = fault.Business(400, "incorrect username or password")

	var status, raw = ts.postJSON(t, "/api/v1/user/login", "",
		auth.LoginRequest{LoginType: "account", Username: "alice", Password: "wrong"})
	// Business rejections ride a 200 transport with their code in the body.
	require.Equal(t, http.StatusOK, status)
	var env = envelope(t, raw)
	require.Equal(t, 400, env.Code)
	require.Equal(t, "incorrect username or password", env.Message)
}

func TestRefreshTokenRoute(t *testing.T) {
	var ts = newTestServer(t)
	ts.login.refreshed = &auth.TokenData{AccessToken: "fresh", TokenType: "bearer"}

	var status, raw = ts.postJSON(t, "/api/v1/user/refresh-token", "",
		map[string]string{"refresh_token": "stale"})
	require.Equal(t, http.StatusOK, status)

	var env struct {
		Data auth.TokenData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, "fresh", env.Data.AccessToken)

	status, _ = ts.postJSON(t, "/api/v1/user/refresh-token", "", map[string]string{})
	require.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestPanicBecomesInternalEnvelope(t *testing.T) {
	var ts = newTestServer(t)

	// Calling through a nil service panics; the middleware must turn
	// that into a logged 500 envelope instead of dropping the request.
	ts.Server.recommend = nil

	var status, raw = ts.postJSON(t, "/api/v1/recommendation/course-recommend", ts.bearer(t, 1), map[string]int{})
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "internal error", envelope(t, raw).Message)
}
