package harvest

import (
	"context"

	"github.com/Shopify/sarama"
	"github.com/learningregistry/lrgraph"
	"github.com/learningregistry/lrgraph/file"
	"github.com/learningregistry/lrgraph/kafka"
	"github.com/learningregistry/lrgraph/logger"
	"github.com/learningregistry/lrgraph/lr"
	"github.com/pkg/errors"
)

// PublishMain holds the options for copying a data service feed onto a
// Kafka topic, from which a harvest can later consume it.
type PublishMain struct {
	URLs             []string `help:"Comma separated data service URLs, files, directories or s3:// URLs to read."`
	FollowResumption bool     `help:"Follow resumption tokens to read every page of an HTTP feed."`
	MaxRetries       int      `help:"Number of tries for each page download."`
	KafkaHosts       []string `help:"Comma separated list of Kafka brokers."`
	KafkaTopic       string   `help:"Kafka topic to publish to."`
	S3Region         string   `help:"AWS region for s3:// locations."`
	Verbose          bool     `help:"Enable debug logging."`

	Log         lrgraph.Logger                                    `flag:"-"`
	NewProducer func(hosts []string) (sarama.SyncProducer, error) `flag:"-"`
}

// NewPublishMain gets a PublishMain with the default configuration.
func NewPublishMain() *PublishMain {
	return &PublishMain{
		URLs:        []string{DefaultConformanceURL},
		MaxRetries:  3,
		KafkaHosts:  []string{"localhost:9092"},
		KafkaTopic:  "lrgraph",
		NewProducer: kafka.NewProducer,
	}
}

// Run publishes every document of the feed.
func (m *PublishMain) Run(ctx context.Context) error {
	if m.Log == nil {
		l, err := logger.New(m.Verbose)
		if err != nil {
			return errors.Wrap(err, "getting logger")
		}
		defer l.Sync()
		m.Log = l.With("cmd", "publish", "run", logger.RunID())
	}
	if len(m.URLs) == 0 {
		return errors.New("no feed URLs")
	}
	producer, err := m.NewProducer(m.KafkaHosts)
	if err != nil {
		return err
	}
	pub := kafka.NewPublisher(producer, m.KafkaTopic)
	defer func() {
		if err := pub.Close(); err != nil {
			m.Log.Printf("closing publisher: %v", err)
		}
	}()

	src := lr.NewSource(
		lr.WithContext(ctx),
		lr.WithFileOptions(file.OptS3Region(m.S3Region)),
		lr.WithURLs(m.URLs...),
		lr.WithFollowResumption(m.FollowResumption),
		lr.WithMaxRetries(m.MaxRetries),
		lr.WithLogger(m.Log),
	)
	defer src.Close()
	n, err := pub.PublishAll(src)
	if err != nil {
		return errors.Wrapf(err, "publishing after %d documents", n)
	}
	m.Log.Printf("published %d documents to %s", n, m.KafkaTopic)
	return nil
}
