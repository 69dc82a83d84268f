// Package api is the public HTTP and WebSocket surface. Handlers
// decode and validate requests, call into the coordination services,
// and write the platform's response envelope; routing, authentication
// and transport policy all live here.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/mededge/pulse/auth"
	"github.com/mededge/pulse/behavior"
	"github.com/mededge/pulse/catalog"
	"github.com/mededge/pulse/idempotency"
	"github.com/mededge/pulse/listcache"
	"github.com/mededge/pulse/llm"
	"github.com/mededge/pulse/payment"
	"github.com/mededge/pulse/push"
	"github.com/mededge/pulse/rag"
	"github.com/mededge/pulse/recommend"
)

// TokenVerifier authenticates bearer credentials.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// LoginService dispatches logins and refreshes tokens.
type LoginService interface {
	Login(ctx context.Context, req auth.LoginRequest) (*auth.LoginResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenData, error)
}

// ArticleSource is the article read side backing the home feed.
type ArticleSource interface {
	ArticlesAfter(ctx context.Context, afterID int64, limit int) ([]catalog.Article, error)
}

// CourseSource resolves courses during order creation.
type CourseSource interface {
	CourseByID(ctx context.Context, id int64) (*catalog.Course, error)
}

// OrderStore is the order write and read side.
type OrderStore interface {
	InsertOrder(ctx context.Context, o *catalog.Order) error
	OrderByNo(ctx context.Context, orderNo string) (*catalog.Order, error)
	MarkOrderPaid(ctx context.Context, orderNo, transactionID string) error
}

// Recommender scores courses for a user.
type Recommender interface {
	Recommend(ctx context.Context, userID int64, topN int, excludeInteracted bool) ([]recommend.Recommendation, error)
}

// BehaviorRecorder validates and publishes behavior events.
type BehaviorRecorder interface {
	Record(ctx context.Context, userID int64, req behavior.Request, meta behavior.ClientMeta) bool
}

// ChatService runs AI chat sessions.
type ChatService interface {
	CreateSession(ctx context.Context, userID int64) (rag.Session, error)
	Sessions(ctx context.Context, userID int64) ([]rag.Session, error)
	Messages(ctx context.Context, userID int64, sessionID string) ([]llm.Message, error)
	Chat(ctx context.Context, userID int64, sessionID, question string) (<-chan rag.Event, error)
}

// UploadSigner mints presigned direct-upload URLs.
type UploadSigner interface {
	PresignedPut(ctx context.Context, objectName string) (string, error)
	Bucket() string
	Expiry() time.Duration
}

// Args collects the server's collaborators. Uploads may be nil, which
// disables the upload surface.
type Args struct {
	Tokens    TokenVerifier
	Login     LoginService
	Articles  ArticleSource
	Cache     *listcache.Cache
	Gate      *idempotency.Gate
	Courses   CourseSource
	Orders    OrderStore
	Payments  payment.Table
	Recommend Recommender
	Recorder  BehaviorRecorder
	Registry  *push.Registry
	Chat      ChatService
	Uploads   UploadSigner

	// AllowedOrigins is the CORS origin allow-list. Empty means "*".
	AllowedOrigins []string
}

// Server owns the route table and its collaborators.
type Server struct {
	tokens    TokenVerifier
	loginSvc  LoginService
	articles  ArticleSource
	cache     *listcache.Cache
	gate      *idempotency.Gate
	courses   CourseSource
	orders    OrderStore
	payments  payment.Table
	recommend Recommender
	recorder  BehaviorRecorder
	registry  *push.Registry
	chat      ChatService
	uploads   UploadSigner
	origins   []string
	validate  *validator.Validate
}

// NewServer builds the public surface over its collaborators.
func NewServer(args Args) *Server {
	return &Server{
		tokens:    args.Tokens,
		loginSvc:  args.Login,
		articles:  args.Articles,
		cache:     args.Cache,
		gate:      args.Gate,
		courses:   args.Courses,
		orders:    args.Orders,
		payments:  args.Payments,
		recommend: args.Recommend,
		recorder:  args.Recorder,
		registry:  args.Registry,
		chat:      args.Chat,
		uploads:   args.Uploads,
		origins:   args.AllowedOrigins,
		validate:  validator.New(),
	}
}

// Router builds the route table wrapped in the middleware stack.
func (s *Server) Router() http.Handler {
	var router = mux.NewRouter()
	router.Use(recoverPanics, observe, s.authenticate)

	router.HandleFunc("/healthz", s.serveHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	var v1 = router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/user/login", s.serveLogin).Methods("POST")
	v1.HandleFunc("/user/refresh-token", s.serveRefreshToken).Methods("POST")
	v1.HandleFunc("/home/article-list", s.serveArticleList).Methods("POST")
	v1.HandleFunc("/order/create", s.serveCreateOrder).Methods("POST")
	v1.HandleFunc("/order/notify/{payment_method}", s.serveOrderNotify).Methods("POST")
	v1.HandleFunc("/order/{order_id}", s.serveGetOrder).Methods("GET")
	v1.HandleFunc("/recommendation/course-recommend", s.serveCourseRecommend).Methods("POST")
	v1.HandleFunc("/recommendation/record-behavior", s.serveRecordBehavior).Methods("POST")
	v1.HandleFunc("/ai/chat", s.serveChat).Methods("POST")
	v1.HandleFunc("/ai/chat/create-session", s.serveCreateSession).Methods("POST")
	v1.HandleFunc("/ai/chat/session-list", s.serveSessionList).Methods("GET")
	v1.HandleFunc("/ai/chat/session-message", s.serveSessionMessages).Methods("GET")
	v1.HandleFunc("/upload/sign", s.serveUploadSign).Methods("POST")
	// The directed-send route must register ahead of the socket route,
	// or {client_id} would swallow "send".
	v1.HandleFunc("/ws/send/{client_id}", s.serveSocketSend).Methods("POST")
	v1.HandleFunc("/ws/{client_id}", s.serveSocket).Methods("GET")

	var origins = s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(router)
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
