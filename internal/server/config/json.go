package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/turbocore/internal/flagx"
	"github.com/dmitrijs2005/turbocore/internal/timex"
)

// JsonConfig mirrors Config for JSON files. Durations use timex.Duration so
// both "15m" and integer nanoseconds are accepted. Zero values mean "not set"
// and leave the current setting untouched.
type JsonConfig struct {
	EndpointAddrHTTP string `json:"endpoint_addr_http"`
	EndpointAddrGRPC string `json:"endpoint_addr_grpc"`
	DatabaseDSN      string `json:"database_dsn"`
	SecretKey        string `json:"secret_key"`
	Issuer           string `json:"issuer"`
	BaseURL          string `json:"base_url"`

	RedirectOrigins []string `json:"redirect_origins"`

	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	ClockSkew                    timex.Duration `json:"clock_skew"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	FlowTokenValidityDuration    timex.Duration `json:"flow_token_validity_duration"`
	PruneInterval                timex.Duration `json:"prune_interval"`
	PruneRetention               timex.Duration `json:"prune_retention"`

	Argon2 struct {
		SaltLength  uint32 `json:"salt_length"`
		Memory      uint32 `json:"memory"`
		Iterations  uint32 `json:"iterations"`
		Parallelism uint8  `json:"parallelism"`
		TagLength   uint32 `json:"tag_length"`
	} `json:"argon2"`

	MinPasswordStrength *int `json:"min_password_strength"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	Mail struct {
		Transport            string   `json:"transport"`
		KafkaBrokers         []string `json:"kafka_brokers"`
		Topic                string   `json:"topic"`
		From                 string   `json:"from"`
		ReplyTo              string   `json:"reply_to"`
		VerificationSubject  string   `json:"verification_subject"`
		MagicLinkSubject     string   `json:"magic_link_subject"`
		ResetPasswordSubject string   `json:"reset_password_subject"`
	} `json:"mail"`
}

// parseJson overlays values from the JSON file named by -c/-config.
// Without the flag nothing is loaded.
func parseJson(config *Config) error {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return nil
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		return fmt.Errorf("read config %s: %w", jsonConfigFile, err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", jsonConfigFile, err)
	}

	c.apply(config)
	return nil
}

func (c *JsonConfig) apply(config *Config) {
	setStr(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setStr(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setStr(&config.DatabaseDSN, c.DatabaseDSN)
	setStr(&config.SecretKey, c.SecretKey)
	setStr(&config.Issuer, c.Issuer)
	setStr(&config.BaseURL, c.BaseURL)
	if len(c.RedirectOrigins) > 0 {
		config.RedirectOrigins = c.RedirectOrigins
	}

	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.ClockSkew, c.ClockSkew)
	setDuration(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration)
	setDuration(&config.FlowTokenValidityDuration, c.FlowTokenValidityDuration)
	setDuration(&config.PruneInterval, c.PruneInterval)
	setDuration(&config.PruneRetention, c.PruneRetention)

	if c.Argon2.SaltLength != 0 {
		config.Argon2SaltLength = c.Argon2.SaltLength
	}
	if c.Argon2.Memory != 0 {
		config.Argon2Memory = c.Argon2.Memory
	}
	if c.Argon2.Iterations != 0 {
		config.Argon2Iterations = c.Argon2.Iterations
	}
	if c.Argon2.Parallelism != 0 {
		config.Argon2Parallelism = c.Argon2.Parallelism
	}
	if c.Argon2.TagLength != 0 {
		config.Argon2TagLength = c.Argon2.TagLength
	}

	// pointer so that an explicit 0 is honoured
	if c.MinPasswordStrength != nil {
		config.MinPasswordStrength = *c.MinPasswordStrength
	}

	setStr(&config.LogLevel, c.LogLevel)
	setStr(&config.LogFormat, c.LogFormat)

	setStr(&config.MailTransport, c.Mail.Transport)
	if len(c.Mail.KafkaBrokers) > 0 {
		config.KafkaBrokers = c.Mail.KafkaBrokers
	}
	setStr(&config.MailTopic, c.Mail.Topic)
	setStr(&config.MailFrom, c.Mail.From)
	setStr(&config.MailReplyTo, c.Mail.ReplyTo)
	setStr(&config.VerificationSubject, c.Mail.VerificationSubject)
	setStr(&config.MagicLinkSubject, c.Mail.MagicLinkSubject)
	setStr(&config.ResetPasswordSubject, c.Mail.ResetPasswordSubject)
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
