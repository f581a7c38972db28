package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Transport modes understood by the built-in transports.
const (
	ModeStub    = "stub"
	ModeDurable = "durable"
	ModeMemory  = "memory"
)

// Supported SASL mechanisms, compared case-insensitively.
const (
	SASLPlain       = "plain"
	SASLScramSHA256 = "scram-sha-256"
	SASLScramSHA512 = "scram-sha-512"
)

const (
	DefaultMode             = ModeStub
	DefaultClientID         = "eventbus"
	DefaultRetryMaxAttempts = 5
	DefaultRetryBackoffMS   = 300
	DefaultDeadLetterSuffix = ".DLQ"
	DefaultHandlerTimeout   = 30 * time.Second
	DefaultHealthTimeout    = 5 * time.Second
	DefaultShutdownTimeout  = 30 * time.Second
)

// Config holds the transport settings for a Bus. It is read once when the Bus
// is built and never re-evaluated.
type Config struct {
	// Mode selects the transport: "stub", "durable" (Kafka) or "memory".
	// Custom transports registered under another name are accepted too.
	Mode string `env:"EVENTBUS_MODE" envDefault:"stub"`

	// ClientID identifies this service. Consumer groups are named after it.
	ClientID string `env:"EVENTBUS_CLIENT_ID" envDefault:"eventbus"`

	// Brokers lists host:port endpoints of the Kafka cluster.
	Brokers []string `env:"EVENTBUS_BROKERS" envSeparator:","`

	TLS           bool   `env:"EVENTBUS_TLS"`
	SASLMechanism string `env:"EVENTBUS_SASL_MECHANISM"`
	SASLUsername  string `env:"EVENTBUS_SASL_USERNAME"`
	SASLPassword  string `env:"EVENTBUS_SASL_PASSWORD"`

	// RetryMaxAttempts is the total number of handler invocations per record
	// before it is dead-lettered.
	RetryMaxAttempts int `env:"EVENTBUS_RETRY_MAX_ATTEMPTS" envDefault:"5"`
	// RetryBackoffMS is the base delay; the wait after failure n is base*2^(n-1).
	RetryBackoffMS int `env:"EVENTBUS_RETRY_BACKOFF_MS" envDefault:"300"`
	// RetryMaxBackoff caps a single delay. Zero leaves it uncapped.
	RetryMaxBackoff time.Duration `env:"EVENTBUS_RETRY_MAX_BACKOFF"`

	DeadLetterSuffix string `env:"EVENTBUS_DLQ_SUFFIX" envDefault:".DLQ"`

	HandlerTimeout  time.Duration `env:"EVENTBUS_HANDLER_TIMEOUT" envDefault:"30s"`
	HealthTimeout   time.Duration `env:"EVENTBUS_HEALTH_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout time.Duration `env:"EVENTBUS_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// StubLoopback makes the stub transport deliver published payloads
	// synchronously to handlers registered in the same process.
	StubLoopback bool `env:"EVENTBUS_STUB_LOOPBACK"`

	MetricsEnabled bool `env:"EVENTBUS_METRICS_ENABLED"`

	// defaulted is set once zero tunables were replaced by defaults. After
	// that a zero backoff or timeout is kept as an explicit choice.
	defaulted bool
}

// Normalize fills zero values with defaults and tidies the broker list. Load
// calls it; configs assembled in code should call it before Validate.
//
// The backoff and the handler, health and shutdown timeouts are defaulted by
// the first call only. Set them to zero after that call to disable them. Load
// defaults them through envDefault, so an explicit 0 in the environment is
// kept.
func (c *Config) Normalize() {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = DefaultMode
	}
	c.ClientID = strings.TrimSpace(c.ClientID)
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	c.Brokers = normalizeBrokers(c.Brokers)
	c.SASLMechanism = strings.ToLower(strings.TrimSpace(c.SASLMechanism))
	if c.RetryMaxAttempts == 0 {
		c.RetryMaxAttempts = DefaultRetryMaxAttempts
	}
	if c.DeadLetterSuffix == "" {
		c.DeadLetterSuffix = DefaultDeadLetterSuffix
	}
	if c.defaulted {
		return
	}
	c.defaulted = true
	if c.RetryBackoffMS == 0 {
		c.RetryBackoffMS = DefaultRetryBackoffMS
	}
	if c.HandlerTimeout == 0 {
		c.HandlerTimeout = DefaultHandlerTimeout
	}
	if c.HealthTimeout == 0 {
		c.HealthTimeout = DefaultHealthTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func normalizeBrokers(brokers []string) []string {
	if len(brokers) == 0 {
		return nil
	}
	out := make([]string, 0, len(brokers))
	for _, b := range brokers {
		// a single entry may still hold a comma list when set in code
		for _, part := range strings.Split(b, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ConsumerGroup returns the consumer group used for topic. Instances of one
// service share it; different services get different groups.
func (c *Config) ConsumerGroup(topic string) string {
	return c.ClientID + "-" + topic
}

// DeadLetterTopic returns the dead-letter counterpart of topic.
func (c *Config) DeadLetterTopic(topic string) string {
	return topic + c.DeadLetterSuffix
}

// BackoffBase returns the retry base delay.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

// SASLEnabled reports whether a SASL mechanism is configured.
func (c *Config) SASLEnabled() bool {
	return c.SASLMechanism != ""
}

// String has a value receiver so Config values and pointers both print
// redacted.
func (c Config) String() string {
	redacted := c
	if redacted.SASLPassword != "" {
		redacted.SASLPassword = "***REDACTED***"
	}
	// alias drops the String method and avoids recursion
	type configAlias Config
	return fmt.Sprintf("%+v", configAlias(redacted))
}

// Validate checks the configuration for the selected mode and returns every
// problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.validateTransport()...)
	errs = append(errs, c.validateSecurity()...)
	errs = append(errs, c.validateRetry()...)
	errs = append(errs, c.validateTimeouts()...)

	return errors.Join(errs...)
}

func (c *Config) validateTransport() []error {
	if c.Mode != ModeDurable {
		// stub, memory and custom transports have no required settings
		return nil
	}
	var errs []error
	if c.ClientID == "" {
		errs = append(errs, errors.New("durable: client id is required"))
	}
	if len(c.Brokers) == 0 {
		errs = append(errs, errors.New("durable: brokers are required"))
	}
	for _, b := range c.Brokers {
		host, port, err := net.SplitHostPort(b)
		if err != nil || host == "" || port == "" {
			errs = append(errs, fmt.Errorf("durable: broker %q must be host:port", b))
		}
	}
	return errs
}

func (c *Config) validateSecurity() []error {
	switch c.SASLMechanism {
	case "":
		return nil
	case SASLPlain, SASLScramSHA256, SASLScramSHA512:
	default:
		return []error{fmt.Errorf("sasl: unsupported mechanism %q", c.SASLMechanism)}
	}
	var errs []error
	if c.SASLUsername == "" {
		errs = append(errs, errors.New("sasl: username is required"))
	}
	if c.SASLPassword == "" {
		errs = append(errs, errors.New("sasl: password is required"))
	}
	return errs
}

func (c *Config) validateRetry() []error {
	var errs []error
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("retry: max attempts must be at least 1"))
	}
	if c.RetryBackoffMS < 0 {
		errs = append(errs, errors.New("retry: backoff cannot be negative"))
	}
	if c.RetryMaxBackoff < 0 {
		errs = append(errs, errors.New("retry: max backoff cannot be negative"))
	}
	if strings.TrimSpace(c.DeadLetterSuffix) == "" {
		errs = append(errs, errors.New("dead letter: suffix is required"))
	}
	return errs
}

func (c *Config) validateTimeouts() []error {
	var errs []error
	if c.HandlerTimeout < 0 {
		errs = append(errs, errors.New("timeouts: handler timeout cannot be negative"))
	}
	if c.HealthTimeout < 0 {
		errs = append(errs, errors.New("timeouts: health timeout cannot be negative"))
	}
	if c.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("timeouts: shutdown timeout cannot be negative"))
	}
	return errs
}

// ValidateConfig is a convenience function to validate a config pointer.
func ValidateConfig(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}
