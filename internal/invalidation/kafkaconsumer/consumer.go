// Package kafkaconsumer turns refresh requests from a Kafka topic into
// immediate bucket refreshes.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/weather-bucket-cache/internal/cache/recordstore"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/model"
	obs "github.com/mohammed-shakir/weather-bucket-cache/internal/core/observability"
	mylog "github.com/mohammed-shakir/weather-bucket-cache/internal/logger"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/refresh"
)

const messageVersion = 1

// Request names a bucket either by id or by a coordinate inside it.
type Request struct {
	Version  int       `json:"version"`
	BucketID string    `json:"bucket_id,omitempty"`
	Lat      *float64  `json:"lat,omitempty"`
	Lon      *float64  `json:"lon,omitempty"`
	TS       time.Time `json:"ts"`
}

type Refresher interface {
	RefreshBucket(ctx context.Context, bucketID string) error
}

type Bucketer interface {
	Bucket(lat, lon float64) (model.Bucket, error)
}

type Consumer struct {
	cfg      Config
	logger   *slog.Logger
	refresh  Refresher
	bucketer Bucketer
	seen     *expirable.LRU[string, struct{}]
	zlog     *zerolog.Logger
}

func New(cfg Config, logger *slog.Logger, r Refresher, b Bucketer, zl *zerolog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	c := &Consumer{
		cfg:      cfg,
		logger:   logger,
		refresh:  r,
		bucketer: b,
		zlog:     zl,
	}
	if cfg.DedupeWindow > 0 {
		c.seen = expirable.NewLRU[string, struct{}](cfg.DedupeSize, nil, cfg.DedupeWindow)
	}
	return c
}

// Start consumes refresh requests until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.refresh == nil || c.bucketer == nil {
		return errors.New("kafkaconsumer: missing dependencies (refresher/bucketer)")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne, logger: c.logger}

	c.logger.Info("kafka refresh consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil && ctx.Err() == nil {
			obs.IncKafkaConsumerError("consume")
			c.logger.Error("consumer error", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
		}
		if ctx.Err() != nil {
			c.logger.Info("kafka refresh consumer shutting down")
			return nil
		}
	}
}

// ProcessOne handles one message. Undecodable or unknown requests are
// logged and dropped; only storage failures are returned so the message is
// redelivered.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	ctx = mylog.WithComponent(ctx, "kafka_consumer")

	id, err := c.bucketFor(msg.Value)
	if err != nil {
		c.drop(ctx, msg, "decode", err)
		return nil
	}
	ctx = mylog.WithBucket(ctx, id)

	if c.seen != nil {
		if _, dup := c.seen.Get(id); dup {
			c.logger.DebugContext(ctx, "refresh request deduplicated", "bucket", id)
			return nil
		}
	}

	err = c.refresh.RefreshBucket(ctx, id)
	switch {
	case err == nil:
		if c.seen != nil {
			c.seen.Add(id, struct{}{})
		}
		mylog.FromContext(ctx, c.zlog).Info().
			Str("event", "refresh_request").
			Int64("offset", msg.Offset).
			Msg("bucket refreshed on request")
		return nil
	case errors.Is(err, refresh.ErrUnknownBucket):
		c.drop(ctx, msg, "unknown_bucket", err)
		return nil
	case errors.Is(err, recordstore.ErrStorage):
		obs.IncKafkaConsumerError("storage")
		return fmt.Errorf("refresh %s: %w", id, err)
	default:
		// the stored record is untouched and the next tick retries
		c.drop(ctx, msg, "upstream", err)
		return nil
	}
}

func (c *Consumer) bucketFor(raw []byte) (string, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return "", fmt.Errorf("json decode: %w", err)
	}
	if req.Version != messageVersion {
		return "", fmt.Errorf("unsupported version %d", req.Version)
	}
	if req.BucketID != "" {
		return req.BucketID, nil
	}
	if req.Lat == nil || req.Lon == nil {
		return "", errors.New("request needs bucket_id or lat/lon")
	}
	b, err := c.bucketer.Bucket(*req.Lat, *req.Lon)
	if err != nil {
		return "", err
	}
	return b.ID, nil
}

func (c *Consumer) drop(ctx context.Context, msg *sarama.ConsumerMessage, kind string, err error) {
	obs.IncKafkaConsumerError(kind)
	mylog.FromContext(ctx, c.zlog).Warn().
		Err(err).
		Str("kind", kind).
		Str("topic", msg.Topic).
		Int32("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("refresh request dropped")
}
