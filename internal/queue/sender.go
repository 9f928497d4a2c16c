package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/petmatch/dispatchhub/internal/config"
	"github.com/petmatch/dispatchhub/internal/entities"
)

// streamClient is the slice of redis the sender needs; satisfied by
// redis.UniversalClient and by fakes in tests.
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
}

// Sender guards the boundary between producer/consumer logic and the
// stream transport. Nothing reaches the stream without passing shape
// validation first.
type Sender struct {
	rc       streamClient
	cfg      config.QueueConfig
	validate *validator.Validate
}

func NewSender(rc streamClient, cfg config.QueueConfig) *Sender {
	v := validator.New()
	// Report wire field names, not Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Sender{rc: rc, cfg: cfg, validate: v}
}

// Send validates the message and publishes it onto the primary stream.
func (s *Sender) Send(ctx context.Context, msg entities.DispatchMessage) error {
	if err := s.validateMessage(msg); err != nil {
		return err
	}
	return s.publish(ctx, s.cfg.Stream, msg)
}

// SendRetry publishes a copy with the retry counter advanced. With a
// positive delay the copy lands on the scheduled set and the pump
// promotes it once due; with no delay it goes straight back onto the
// stream. The counter is never reset or decremented.
func (s *Sender) SendRetry(ctx context.Context, msg entities.DispatchMessage, delaySeconds int) error {
	retry := msg.Retry()

	if delaySeconds <= 0 {
		return s.publish(ctx, s.cfg.Stream, retry)
	}

	raw, err := json.Marshal(retry)
	if err != nil {
		return fmt.Errorf("marshal retry message: %w", err)
	}
	due := time.Now().Add(time.Duration(delaySeconds) * time.Second)
	return s.rc.ZAdd(ctx, s.cfg.ScheduledSet, redis.Z{
		Score:  float64(due.Unix()),
		Member: string(raw),
	}).Err()
}

// SendToDeadLetter wraps the message with failure metadata and publishes
// it to the dead-letter stream. A publish failure here is logged and
// reported, never escalated: the caller still acks the original delivery
// to keep a broken DLQ from causing a redelivery storm.
func (s *Sender) SendToDeadLetter(ctx context.Context, msg entities.DispatchMessage, cause string) (entities.DeadLetterMessage, error) {
	dead := entities.NewDeadLetter(msg, cause, time.Now().UTC())

	raw, err := json.Marshal(dead)
	if err == nil {
		err = s.rc.XAdd(ctx, &redis.XAddArgs{
			Stream: s.cfg.DeadLetterStream,
			MaxLen: s.cfg.MaxLen,
			Approx: true,
			Values: map[string]any{"payload": string(raw)},
		}).Err()
	}
	if err != nil {
		log.Printf("[sender] dead-letter publish failed for batch %s: %v", msg.BatchID, err)
		sentry.CaptureException(fmt.Errorf("dead-letter publish failed for batch %s: %w", msg.BatchID, err))
	}
	return dead, err
}

func (s *Sender) publish(ctx context.Context, stream string, msg entities.DispatchMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return s.rc.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: s.cfg.MaxLen,
		Approx: true,
		Values: map[string]any{"payload": string(raw)},
	}).Err()
}

func (s *Sender) validateMessage(msg entities.DispatchMessage) error {
	if msg.BatchID == "" {
		return &ValidationError{Field: "batchId", Reason: "is required"}
	}

	switch msg.Type {
	case entities.TypeScreenshot:
		if len(msg.Screenshots) == 0 {
			return &ValidationError{Field: "items", Reason: "must be a non-empty array"}
		}
		for i, item := range msg.Screenshots {
			if err := s.validate.Struct(item); err != nil {
				return itemError(i, err)
			}
		}
	case entities.TypeConversion:
		if len(msg.Conversions) == 0 {
			return &ValidationError{Field: "items", Reason: "must be a non-empty array"}
		}
		for i, item := range msg.Conversions {
			if err := s.validate.Struct(item); err != nil {
				return itemError(i, err)
			}
		}
	case entities.TypeCrawler:
		// No item list; the batch ID is the whole payload.
	case "":
		return &ValidationError{Field: "type", Reason: "is required"}
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown value %q", msg.Type)}
	}
	return nil
}

func itemError(index int, err error) error {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		e := verrs[0]
		reason := "is invalid"
		if e.Tag() == "required" {
			reason = "is required"
		}
		return &ValidationError{
			Field:  fmt.Sprintf("items[%d].%s", index, e.Field()),
			Reason: reason,
		}
	}
	return &ValidationError{Field: fmt.Sprintf("items[%d]", index), Reason: err.Error()}
}
