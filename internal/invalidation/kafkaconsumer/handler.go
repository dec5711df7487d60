package kafkaconsumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/weather-bucket-cache/internal/core/observability"
)

type messageProcessor func(context.Context, *sarama.ConsumerMessage) error

// groupHandler handles one partition claim strictly in offset order. A
// request is marked only once processed; the first one that must be
// redelivered ends the claim so nothing after it is committed.
type groupHandler struct {
	process messageProcessor
	logger  *slog.Logger
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.log().Debug("refresh claims assigned", "claims", sess.Claims(), "generation", sess.GenerationID())
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	handled := 0
	defer func() {
		h.log().Debug("refresh claim released",
			"topic", claim.Topic(), "partition", claim.Partition(), "handled", handled)
	}()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("claim context done: %w", ctx.Err())
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			start := time.Now()
			err := h.process(ctx, msg)
			obs.ObserveRefreshRequest(err, time.Since(start).Seconds())
			if err != nil {
				return fmt.Errorf("refresh request (part=%d, off=%d) needs redelivery: %w",
					msg.Partition, msg.Offset, err)
			}
			sess.MarkMessage(msg, "")
			handled++
		}
	}
}

func (h *groupHandler) log() *slog.Logger {
	if h.logger == nil {
		return slog.Default()
	}
	return h.logger
}
