package kafka

import (
	"crypto/tls"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/xdg-go/scram"

	"github.com/drblury/eventbus/internal/runtime/config"
)

// PublisherSaramaConfig returns the producer configuration: watermill's
// synchronous defaults plus identity and security settings.
func PublisherSaramaConfig(conf *config.Config) *sarama.Config {
	sc := kafka.DefaultSaramaSyncPublisherConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	applyCommon(sc, conf)
	return sc
}

// SubscriberSaramaConfig returns the consumer configuration. A group without
// committed offsets starts at the end of the log, so history is not replayed.
func SubscriberSaramaConfig(conf *config.Config) *sarama.Config {
	sc := kafka.DefaultSaramaSubscriberConfig()
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	applyCommon(sc, conf)
	return sc
}

// AdminSaramaConfig returns the configuration of the short-lived admin
// connection used by the health probe. Every network step is bounded by the
// health timeout and nothing is retried.
func AdminSaramaConfig(conf *config.Config) *sarama.Config {
	sc := sarama.NewConfig()
	applyCommon(sc, conf)

	timeout := conf.HealthTimeout
	if timeout <= 0 {
		timeout = config.DefaultHealthTimeout
	}
	sc.Net.DialTimeout = timeout
	sc.Net.ReadTimeout = timeout
	sc.Net.WriteTimeout = timeout
	sc.Admin.Timeout = timeout
	sc.Admin.Retry.Max = 0
	sc.Metadata.Retry.Max = 0
	sc.Metadata.Retry.Backoff = 10 * time.Millisecond
	return sc
}

func applyCommon(sc *sarama.Config, conf *config.Config) {
	sc.ClientID = conf.ClientID

	if conf.TLS {
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if !conf.SASLEnabled() {
		return
	}
	sc.Net.SASL.Enable = true
	sc.Net.SASL.Handshake = true
	sc.Net.SASL.User = conf.SASLUsername
	sc.Net.SASL.Password = conf.SASLPassword

	switch conf.SASLMechanism {
	case config.SASLPlain:
		sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	case config.SASLScramSHA256:
		sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		sc.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &scramClient{HashGeneratorFcn: scram.SHA256}
		}
	case config.SASLScramSHA512:
		sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		sc.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &scramClient{HashGeneratorFcn: scram.SHA512}
		}
	}
}
