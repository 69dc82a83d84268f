package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
	"go.gazette.dev/core/task"

	"github.com/mededge/pulse/api"
	"github.com/mededge/pulse/auth"
	"github.com/mededge/pulse/behavior"
	"github.com/mededge/pulse/catalog"
	"github.com/mededge/pulse/idempotency"
	"github.com/mededge/pulse/kv"
	"github.com/mededge/pulse/listcache"
	"github.com/mededge/pulse/llm"
	"github.com/mededge/pulse/objstore"
	"github.com/mededge/pulse/payment"
	"github.com/mededge/pulse/push"
	"github.com/mededge/pulse/queue"
	"github.com/mededge/pulse/rag"
	"github.com/mededge/pulse/recommend"
)

type cmdServe struct{}

func (cmdServe) Execute(_ []string) error {
	defer mbp.InitDiagnosticsAndRecover(Config.Diagnostics)()
	mbp.InitLog(Config.Log)

	log.WithFields(log.Fields{
		"config":    Config,
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
	}).Info("pulse-server configuration")

	var ctx = context.Background()

	// mustReach gates startup on a required backing service.
	var mustReach = func(err error, name string) {
		if err != nil {
			log.WithFields(log.Fields{"err": err, "dependency": name}).
				Error("required dependency is unreachable")
			os.Exit(3)
		}
	}

	store, err := kv.NewRedis(Config.KV)
	mbp.Must(err, "building keyed store client")
	mustReach(store.Ping(ctx), "keyed store")

	db, err := catalog.Open(Config.DB)
	mbp.Must(err, "opening catalog database")
	mustReach(db.Ping(ctx), "catalog database")
	if !strings.HasPrefix(Config.DB.URL, "postgres") {
		mustReach(db.EnsureSchema(ctx), "catalog schema")
	}

	mongoClient, err := behavior.ConnectDocStore(ctx, Config.Mongo)
	mustReach(err, "behavior log store")
	var logs = behavior.NewLogStore(mongoClient.Database(Config.Mongo.Database))
	mustReach(logs.EnsureIndexes(ctx), "behavior log indexes")

	broker, err := queue.Dial(Config.AMQP)
	mustReach(err, "message queue")
	mustReach(broker.Declare(behavior.QueueName), "behavior queue")
	deliveries, err := broker.Consume(behavior.QueueName)
	mustReach(err, "behavior delivery stream")

	tokens, err := auth.NewTokens(Config.JWT)
	mbp.Must(err, "building token issuer")

	var exchanger auth.Exchanger
	if Config.DingTalk.Enabled() {
		exchanger = auth.NewOAuthExchanger(Config.DingTalk)
	} else {
		log.Info("dingtalk login is not configured; third-party login is disabled")
	}

	var args = api.Args{
		Tokens:   tokens,
		Login:    auth.NewService(db, store, tokens, exchanger),
		Articles: db,
		Cache:    listcache.New(store, listcache.Options{}),
		Gate:     idempotency.NewGate(store, 0),
		Courses:  db,
		Orders:   db,
		Payments: payment.NewTable(Config.Payment),
		Recorder: behavior.NewRecorder(db, broker),
		Registry: push.NewRegistry(),

		Recommend: recommend.New(logs, db, recommend.Options{}),
		Chat: rag.NewService(
			rag.NewSessionStore(store),
			llm.NewOpenAIChat(Config.LLM),
			llm.NewHTTPVectorStore(Config.Vector),
			rag.Options{}),

		AllowedOrigins: Config.Pulse.AllowOrigins,
	}

	// The object store is optional: without credentials, upload signing
	// rejects with a business error rather than failing startup.
	if Config.Minio.AccessKey != "" {
		uploads, err := objstore.Dial(Config.Minio)
		mbp.Must(err, "building object store client")
		mustReach(uploads.EnsureBucket(ctx), "upload bucket")
		args.Uploads = uploads
	} else {
		log.Warn("object store is not configured; upload signing is disabled")
	}

	listener, err := net.Listen("tcp", Config.Pulse.Listen)
	if err != nil {
		log.WithFields(log.Fields{"err": err, "listen": Config.Pulse.Listen}).
			Error("failed to bind API listener")
		os.Exit(2)
	}

	var (
		server   = &http.Server{Handler: api.NewServer(args).Router()}
		consumer = behavior.NewConsumer(deliveries, logs)
		tasks    = task.NewGroup(context.Background())
		signalCh = make(chan os.Signal, 1)
	)

	tasks.Queue("api.Serve", func() error {
		if err := server.Serve(listener); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	tasks.Queue("api.Shutdown", func() error {
		<-tasks.Context().Done()
		var timed, cancel = context.WithTimeout(context.Background(), Config.Pulse.ShutdownGrace)
		defer cancel()
		return server.Shutdown(timed)
	})
	tasks.Queue("behavior.Consume", func() error {
		return consumer.Serve(tasks.Context())
	})

	log.WithField("endpoint", listener.Addr().String()).Info("starting pulse-server")

	// Install signal handler & start serving.
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	tasks.Queue("watch signalCh", func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal")
			tasks.Cancel()

		case <-tasks.Context().Done():
		}
		return nil
	})
	tasks.GoRun()

	// Block until all tasks complete. Assert none returned an error.
	mbp.Must(tasks.Wait(), "pulse-server task failed")

	mbp.Must(broker.Close(), "closing message queue session")
	mbp.Must(mongoClient.Disconnect(ctx), "disconnecting behavior log store")
	mbp.Must(db.Close(), "closing catalog database")
	mbp.Must(store.Close(), "closing keyed store client")
	log.Info("goodbye")

	return nil
}
