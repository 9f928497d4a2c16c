package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/petmatch/dispatchhub/internal/config"
	"github.com/petmatch/dispatchhub/internal/entities"
	"github.com/petmatch/dispatchhub/internal/workflow"
)

// Trigger fires one CI workflow run for a batch.
type Trigger interface {
	Trigger(ctx context.Context, workflowFile, batchID string, inputs map[string]string) error
}

// RetrySender is the retry/dead-letter surface the consumer drives.
type RetrySender interface {
	SendRetry(ctx context.Context, msg entities.DispatchMessage, delaySeconds int) error
	SendToDeadLetter(ctx context.Context, msg entities.DispatchMessage, cause string) (entities.DeadLetterMessage, error)
}

// BatchRecorder mirrors pipeline outcomes into the history store.
// Best-effort: failures are logged, never block the pipeline.
type BatchRecorder interface {
	MarkDispatched(ctx context.Context, batchID string) error
	RecordDeadLetter(ctx context.Context, dead entities.DeadLetterMessage) error
}

// Archiver persists dead letters outside redis for operator inspection.
type Archiver interface {
	ArchiveDeadLetter(ctx context.Context, dead entities.DeadLetterMessage) error
}

// Marker remembers deliveries whose workflow run already fired, so a
// crash-recovery redelivery does not trigger the same run twice.
type Marker interface {
	Get(ctx context.Context, key string) (string, error)
	Store(ctx context.Context, key string, ttl int, value string) error
}

const triggeredMarkerTTL = 3600 // seconds

// reclaimInterval bounds how long a delivery stranded by a crashed
// consumer waits before another instance picks it up.
const reclaimInterval = time.Minute

// consumerClient is the slice of redis the consumer needs; satisfied by
// redis.UniversalClient and by fakes in tests.
type consumerClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Consumer drains the dispatch stream and drives the retry/dead-letter
// state machine. Messages within one read batch are handled one at a
// time: a single external CI API sits behind the trigger, and sequential
// handling keeps the call rate bounded and the retry bookkeeping simple.
// Every delivery is acked exactly once, whatever its outcome; the
// follow-up (scheduled retry, immediate re-enqueue, dead letter) is
// always a separately published message.
type Consumer struct {
	rc      consumerClient
	cfg     config.QueueConfig
	wf      config.WorkflowConfig
	sender  RetrySender
	trigger Trigger
	name    string

	// Optional mirrors, wired by the app when configured.
	History BatchRecorder
	Archive Archiver
	Marker  Marker
}

func NewConsumer(rc consumerClient, cfg config.QueueConfig, wf config.WorkflowConfig, sender RetrySender, trigger Trigger) *Consumer {
	name := cfg.Consumer
	if name == "" {
		host, _ := os.Hostname()
		name = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	return &Consumer{
		rc:      rc,
		cfg:     cfg,
		wf:      wf,
		sender:  sender,
		trigger: trigger,
		name:    name,
	}
}

func (c *Consumer) EnsureGroup(ctx context.Context) error {
	// MkStream so group creation works before the first publish.
	err := c.rc.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	// BUSYGROUP just means the group already exists.
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (c *Consumer) Start(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	log.Printf("[consumer] %s starting group=%s stream=%s", c.name, c.cfg.Group, c.cfg.Stream)

	c.autoClaim(ctx)

	return c.loop(ctx)
}

// autoClaim adopts deliveries a crashed consumer read but never acked
// and replays them through the normal handler, so they reach the same
// ack/retry/dead-letter outcomes as a fresh delivery. Their retry
// counters are unchanged, which is correct: the failure was ours, not
// the trigger's. The duplicate-trigger marker covers the case where the
// dead consumer fired the workflow before it died.
func (c *Consumer) autoClaim(ctx context.Context) {
	next := "0-0"

	minIdle := 30 * time.Second
	if t := c.cfg.BlockTimeout * 6; t > minIdle {
		minIdle = t
	}

	claimed := 0
	for {
		msgs, start, err := c.rc.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.cfg.Stream,
			Group:    c.cfg.Group,
			Consumer: c.name,
			MinIdle:  minIdle,
			Start:    next,
			Count:    100,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[consumer] auto-claim failed: %v", err)
			}
			return
		}
		if len(msgs) == 0 {
			if claimed > 0 {
				log.Printf("[consumer] %s recovered %d stranded delivery(ies)", c.name, claimed)
			}
			return
		}

		for _, m := range msgs {
			c.handle(ctx, m)
			claimed++
		}
		next = start
	}
}

// loop drains new entries and periodically re-runs the claim scan, so
// deliveries stranded by a consumer that died mid-run are recovered
// without a restart.
func (c *Consumer) loop(ctx context.Context) error {
	lastClaim := time.Now()
	for {
		if time.Since(lastClaim) >= reclaimInterval {
			c.autoClaim(ctx)
			lastClaim = time.Now()
		}

		streams, err := c.rc.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.name,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.BatchSize,
			Block:    c.cfg.BlockTimeout,
		}).Result()
		if err != nil && err != redis.Nil {
			if ctx.Err() != nil {
				log.Printf("[consumer] %s stopped (%v)", c.name, ctx.Err())
				return nil
			}
			continue
		}
		for _, s := range streams {
			// Sequential on purpose; see the type comment.
			for _, m := range s.Messages {
				c.handle(ctx, m)
			}
		}
	}
}

// handle decodes one delivery and always acks it. Undecodable payloads
// and unknown types are dropped here: retrying them cannot help, and a
// newer producer version is the usual source of an unknown type.
func (c *Consumer) handle(ctx context.Context, m redis.XMessage) {
	defer c.rc.XAck(ctx, c.cfg.Stream, c.cfg.Group, m.ID)

	raw, ok := m.Values["payload"].(string)
	if !ok {
		log.Printf("[consumer] delivery %s has no payload field, dropping", m.ID)
		return
	}

	var msg entities.DispatchMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		log.Printf("[consumer] delivery %s undecodable, dropping: %v", m.ID, err)
		sentry.CaptureException(fmt.Errorf("undecodable queue payload %s: %w", m.ID, err))
		return
	}

	c.process(ctx, m.ID, msg)
}

func (c *Consumer) process(ctx context.Context, deliveryID string, msg entities.DispatchMessage) {
	switch msg.Type {
	case entities.TypeScreenshot, entities.TypeConversion:
		c.dispatch(ctx, deliveryID, msg)
	case entities.TypeCrawler:
		// Crawler runs are triggered by their own producer path; the
		// queue relay only records that the request came through.
		log.Printf("[consumer] crawler batch %s acknowledged", msg.BatchID)
	default:
		log.Printf("[consumer] dropping message with unknown type %q (batch %s)", msg.Type, msg.BatchID)
	}
}

func (c *Consumer) dispatch(ctx context.Context, deliveryID string, msg entities.DispatchMessage) {
	if c.alreadyTriggered(ctx, deliveryID) {
		log.Printf("[consumer] delivery %s already triggered batch %s, skipping", deliveryID, msg.BatchID)
		return
	}

	inputs, file, err := c.workflowInputs(msg)
	if err != nil {
		c.fail(ctx, msg, err)
		return
	}

	err = c.trigger.Trigger(ctx, file, msg.BatchID, inputs)
	if err == nil {
		c.markTriggered(ctx, deliveryID)
		if c.History != nil {
			if herr := c.History.MarkDispatched(ctx, msg.BatchID); herr != nil {
				log.Printf("[consumer] history update failed for batch %s: %v", msg.BatchID, herr)
			}
		}
		return
	}

	var rl *workflow.RateLimitedError
	if errors.As(err, &rl) {
		c.rateLimited(ctx, msg, rl)
		return
	}

	var fatal *workflow.FatalError
	if errors.As(err, &fatal) {
		// Bad credentials or a missing workflow file will not heal by
		// waiting; skip the retry budget entirely.
		c.deadLetter(ctx, msg, fatal.Error())
		return
	}

	c.fail(ctx, msg, err)
}

// rateLimited schedules a delayed retry with the wait the API suggested.
// The current delivery is acked by handle; the retry is a new message,
// which keeps backoff timing out of the transport's redelivery clock.
func (c *Consumer) rateLimited(ctx context.Context, msg entities.DispatchMessage, rl *workflow.RateLimitedError) {
	if msg.RetryCount >= c.cfg.MaxRetries {
		c.deadLetter(ctx, msg, fmt.Sprintf("rate limited after %d retries: %v", msg.RetryCount, rl))
		return
	}
	if err := c.sender.SendRetry(ctx, msg, rl.RetryAfter); err != nil {
		log.Printf("[consumer] retry publish failed for batch %s: %v", msg.BatchID, err)
		c.deadLetter(ctx, msg, fmt.Sprintf("retry publish failed: %v (original: %v)", err, rl))
		return
	}
	log.Printf("[consumer] rate limited, retry %d/%d for batch %s in %ds",
		msg.RetryCount+1, c.cfg.MaxRetries, msg.BatchID, rl.RetryAfter)
}

// fail handles transient trigger errors: re-enqueue an incremented copy
// with no delay, or dead-letter once the budget is spent.
func (c *Consumer) fail(ctx context.Context, msg entities.DispatchMessage, cause error) {
	if msg.RetryCount >= c.cfg.MaxRetries {
		c.deadLetter(ctx, msg, cause.Error())
		return
	}
	if err := c.sender.SendRetry(ctx, msg, 0); err != nil {
		log.Printf("[consumer] retry publish failed for batch %s: %v", msg.BatchID, err)
		c.deadLetter(ctx, msg, fmt.Sprintf("retry publish failed: %v (original: %v)", err, cause))
		return
	}
	log.Printf("[consumer] trigger failed, retry %d/%d for batch %s: %v",
		msg.RetryCount+1, c.cfg.MaxRetries, msg.BatchID, cause)
}

func (c *Consumer) deadLetter(ctx context.Context, msg entities.DispatchMessage, cause string) {
	dead, err := c.sender.SendToDeadLetter(ctx, msg, cause)
	if err != nil {
		// Already logged and reported by the sender; the delivery is
		// still acked to avoid a redelivery storm.
		log.Printf("[consumer] batch %s lost on dead-letter publish", msg.BatchID)
	}
	sentry.CaptureException(fmt.Errorf("batch %s dead-lettered after %d retries: %s", msg.BatchID, msg.RetryCount, cause))
	log.Printf("[consumer] batch %s dead-lettered: %s", msg.BatchID, cause)

	if c.History != nil {
		if herr := c.History.RecordDeadLetter(ctx, dead); herr != nil {
			log.Printf("[consumer] dead-letter history insert failed for batch %s: %v", msg.BatchID, herr)
		}
	}
	if c.Archive != nil {
		if aerr := c.Archive.ArchiveDeadLetter(ctx, dead); aerr != nil {
			log.Printf("[consumer] dead-letter archive failed for batch %s: %v", msg.BatchID, aerr)
		}
	}
}

// workflowInputs builds the per-type workflow_dispatch inputs. The whole
// item list goes out as one atomic call; a message is never split.
func (c *Consumer) workflowInputs(msg entities.DispatchMessage) (map[string]string, string, error) {
	file := msg.WorkflowFile

	switch msg.Type {
	case entities.TypeScreenshot:
		if len(msg.Screenshots) == 0 {
			return nil, "", errors.New("screenshot message has no items")
		}
		data, err := json.Marshal(msg.Screenshots)
		if err != nil {
			return nil, "", fmt.Errorf("marshal screenshot items: %w", err)
		}
		if file == "" {
			file = c.wf.ScreenshotWorkflow
		}
		return map[string]string{
			"batch_data": string(data),
			"batch_id":   msg.BatchID,
			"limit":      strconv.Itoa(len(msg.Screenshots)),
		}, file, nil

	case entities.TypeConversion:
		if len(msg.Conversions) == 0 {
			return nil, "", errors.New("conversion message has no items")
		}
		data, err := json.Marshal(msg.Conversions)
		if err != nil {
			return nil, "", fmt.Errorf("marshal conversion items: %w", err)
		}
		if file == "" {
			file = c.wf.ConversionWorkflow
		}
		return map[string]string{
			"pets_data": string(data),
			"batch_id":  msg.BatchID,
			"source":    msg.Source,
			"limit":     strconv.Itoa(len(msg.Conversions)),
		}, file, nil
	}
	return nil, "", fmt.Errorf("no workflow for message type %q", msg.Type)
}

func (c *Consumer) alreadyTriggered(ctx context.Context, deliveryID string) bool {
	if c.Marker == nil {
		return false
	}
	v, err := c.Marker.Get(ctx, deliveryID)
	return err == nil && v != ""
}

func (c *Consumer) markTriggered(ctx context.Context, deliveryID string) {
	if c.Marker == nil {
		return
	}
	if err := c.Marker.Store(ctx, deliveryID, triggeredMarkerTTL, "1"); err != nil {
		log.Printf("[consumer] trigger marker store failed for %s: %v", deliveryID, err)
	}
}
