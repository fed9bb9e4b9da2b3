package options

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// Options holds the process configuration, read from the environment.
type Options struct {
	ListenAddr    string        `env:"LISTEN_ADDR" envDefault:":8080"`
	WebhookPath   string        `env:"WEBHOOK_PATH" envDefault:"/hook"`
	GitKind       string        `env:"GIT_KIND" envDefault:"github"`
	GitServer     string        `env:"GIT_SERVER" envDefault:"https://github.com"`
	BotName       string        `env:"BOT_NAME" envDefault:"peergate-bot"`
	HMACToken     string        `env:"HMAC_TOKEN"`
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	StatusContext string        `env:"STATUS_CONTEXT" envDefault:"peergate/approval"`
	AuditStream   string        `env:"AUDIT_STREAM" envDefault:"audit:verdicts"`
	MaxRetryDelay time.Duration `env:"SCM_MAX_RETRY_DELAY" envDefault:"30s"`
}

// Load parses options from the environment.
func Load() (*Options, error) {
	o := &Options{}
	if err := env.Parse(o); err != nil {
		return nil, errors.Wrap(err, "failed to parse options from environment")
	}
	return o, nil
}
