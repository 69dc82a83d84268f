package main

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"

	"github.com/fatih/color"
	"github.com/mededge/pulse/behavior"
	"github.com/mededge/pulse/catalog"
	"github.com/mededge/pulse/kv"
	"github.com/mededge/pulse/objstore"
	"github.com/mededge/pulse/queue"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
)

type cmdCheck struct{}

func (cmdCheck) Execute(_ []string) error {
	defer mbp.InitDiagnosticsAndRecover(Config.Diagnostics)()
	mbp.InitLog(Config.Log)

	log.WithFields(log.Fields{
		"config":    Config,
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
	}).Info("pulse-server configuration")

	var ctx = context.Background()
	var failed []string

	var probe = func(name string, fn func() error) {
		fmt.Print(name, ": ")
		if err := fn(); err != nil {
			fmt.Printf("%s\n", red("FAILED"))
			fmt.Println(red("ERROR:"), err)
			failed = append(failed, name)
		} else {
			fmt.Print(green("OK"), "\n")
		}
	}
	var skip = func(name, reason string) {
		fmt.Printf("%s: %s (%s)\n", name, yellow("SKIPPED"), reason)
	}

	probe("keyed store", func() error {
		store, err := kv.NewRedis(Config.KV)
		if err != nil {
			return err
		}
		defer store.Close()
		return store.Ping(ctx)
	})

	probe("catalog database", func() error {
		db, err := catalog.Open(Config.DB)
		if err != nil {
			return err
		}
		defer db.Close()
		return db.Ping(ctx)
	})

	probe("behavior log store", func() error {
		client, err := behavior.ConnectDocStore(ctx, Config.Mongo)
		if err != nil {
			return err
		}
		return client.Disconnect(ctx)
	})

	probe("message queue", func() error {
		broker, err := queue.Dial(Config.AMQP)
		if err != nil {
			return err
		}
		defer broker.Close()
		return broker.Ping()
	})

	if Config.Minio.AccessKey == "" {
		skip("object store", "no access key configured")
	} else {
		probe("object store", func() error {
			store, err := objstore.Dial(Config.Minio)
			if err != nil {
				return err
			}
			return store.Ping(ctx)
		})
	}

	// The chat model, vector search, and third-party login are dialed
	// lazily per request, so only their configuration is reported here.
	fmt.Println()
	if Config.LLM.APIKey == "" {
		skip("chat model", "no API key configured")
	} else {
		fmt.Printf("chat model: %s (%s at %s)\n", green("configured"), Config.LLM.Model, Config.LLM.BaseURL)
	}
	fmt.Printf("vector search: %s (%s)\n", green("configured"), Config.Vector.URL)
	if Config.DingTalk.Enabled() {
		fmt.Printf("dingtalk login: %s\n", green("configured"))
	} else {
		skip("dingtalk login", "no client credentials configured")
	}

	if len(failed) > 0 {
		log.WithField("failed", failed).Error("some backing services are unreachable")
		os.Exit(3)
	}
	return nil
}
