package main

import (
	"time"

	"github.com/jessevdk/go-flags"
	mbp "go.gazette.dev/core/mainboilerplate"

	"github.com/mededge/pulse/auth"
	"github.com/mededge/pulse/behavior"
	"github.com/mededge/pulse/catalog"
	"github.com/mededge/pulse/kv"
	"github.com/mededge/pulse/llm"
	"github.com/mededge/pulse/objstore"
	"github.com/mededge/pulse/payment"
	"github.com/mededge/pulse/queue"
)

const iniFilename = "pulse.ini"

// Config is the top-level configuration object of a Pulse server.
var Config = new(struct {
	Pulse struct {
		Listen        string        `long:"listen" env:"LISTEN" default:":8080" description:"Address the API server binds"`
		AllowOrigins  []string      `long:"allow-origin" env:"ALLOW_ORIGINS" env-delim:"," description:"CORS origins allowed to call the API (default: any)"`
		ShutdownGrace time.Duration `long:"shutdown-grace" env:"SHUTDOWN_GRACE" default:"10s" description:"Grace period for draining requests on shutdown"`
	} `group:"Pulse" namespace:"pulse" env-namespace:"PULSE"`

	KV       kv.Config               `group:"Keyed store" namespace:"kv" env-namespace:"KV"`
	DB       catalog.Config          `group:"Catalog database" namespace:"db" env-namespace:"DB"`
	Mongo    behavior.DocStoreConfig `group:"Behavior log" namespace:"mongo" env-namespace:"MONGO"`
	AMQP     queue.Config            `group:"Message queue" namespace:"amqp" env-namespace:"AMQP"`
	Minio    objstore.Config         `group:"Object store" namespace:"minio" env-namespace:"MINIO"`
	LLM      llm.Config              `group:"Chat model" namespace:"llm" env-namespace:"LLM"`
	Vector   llm.VectorConfig        `group:"Vector search" namespace:"vector" env-namespace:"VECTOR"`
	JWT      auth.Config             `group:"Tokens" namespace:"jwt" env-namespace:"JWT"`
	DingTalk auth.OAuthConfig        `group:"DingTalk login" namespace:"dingtalk" env-namespace:"DINGTALK"`
	Payment  payment.Config          `group:"Payments" namespace:"payment" env-namespace:"PAYMENT"`

	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
})

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("serve", "Serve the Pulse API", `
Serve the Pulse coordination API with the provided configuration,
until signaled to exit (via SIGTERM).
`, &cmdServe{})

	_, _ = parser.AddCommand("check", "Check backing services", `
Probe each backing service the serve command depends on, and report
which are reachable with the provided configuration.
`, &cmdCheck{})

	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.MustParseConfig(parser, iniFilename)
}
