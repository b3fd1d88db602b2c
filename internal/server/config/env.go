package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/dmitrijs2005/turbocore/internal/flagx"
)

const envPrefix = "TURBOCORE_"

// parseEnv seeds the process environment from a .env file (the -env-file
// flag, or ./.env when present) and overlays TURBOCORE_* variables.
// Variables already set in the environment win over the file.
func parseEnv(config *Config) error {
	path := flagx.EnvFileFlags()
	if path == "" {
		path = ".env"
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
	}
	return applyEnv(config, os.LookupEnv)
}

type lookupFunc func(string) (string, bool)

func applyEnv(c *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("HTTP_ADDR", &c.EndpointAddrHTTP)
	e.str("GRPC_ADDR", &c.EndpointAddrGRPC)
	e.str("DATABASE_DSN", &c.DatabaseDSN)
	e.str("SECRET_KEY", &c.SecretKey)
	e.str("ISSUER", &c.Issuer)
	e.str("BASE_URL", &c.BaseURL)
	e.list("REDIRECT_ORIGINS", &c.RedirectOrigins)

	e.duration("ACCESS_TOKEN_VALIDITY", &c.AccessTokenValidityDuration)
	e.duration("CLOCK_SKEW", &c.ClockSkew)
	e.duration("REFRESH_TOKEN_VALIDITY", &c.RefreshTokenValidityDuration)
	e.duration("FLOW_TOKEN_VALIDITY", &c.FlowTokenValidityDuration)
	e.duration("PRUNE_INTERVAL", &c.PruneInterval)
	e.duration("PRUNE_RETENTION", &c.PruneRetention)

	e.uint32("ARGON2_SALT_LENGTH", &c.Argon2SaltLength)
	e.uint32("ARGON2_MEMORY", &c.Argon2Memory)
	e.uint32("ARGON2_ITERATIONS", &c.Argon2Iterations)
	e.uint8("ARGON2_PARALLELISM", &c.Argon2Parallelism)
	e.uint32("ARGON2_TAG_LENGTH", &c.Argon2TagLength)

	e.int("MIN_PASSWORD_STRENGTH", &c.MinPasswordStrength)

	e.str("LOG_LEVEL", &c.LogLevel)
	e.str("LOG_FORMAT", &c.LogFormat)

	e.str("MAIL_TRANSPORT", &c.MailTransport)
	e.list("KAFKA_BROKERS", &c.KafkaBrokers)
	e.str("MAIL_TOPIC", &c.MailTopic)
	e.str("MAIL_FROM", &c.MailFrom)
	e.str("MAIL_REPLY_TO", &c.MailReplyTo)
	e.str("MAIL_VERIFICATION_SUBJECT", &c.VerificationSubject)
	e.str("MAIL_MAGIC_LINK_SUBJECT", &c.MagicLinkSubject)
	e.str("MAIL_RESET_PASSWORD_SUBJECT", &c.ResetPasswordSubject)

	return errors.Join(e.errs...)
}

// envReader collects parse errors so that every bad variable is reported.
type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(envPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	if v, ok := e.get(key); ok {
		*dst = splitList(v)
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) uint32(key string, dst *uint32) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = uint32(n)
	}
}

func (e *envReader) uint8(key string, dst *uint8) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = uint8(n)
	}
}
