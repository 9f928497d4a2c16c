// Package dispatch holds the batch producers. A producer receives an
// already-selected item list (selection lives in the API layer), decides
// whether there is anything to relay, stamps a batch ID and hands one
// message to the queue sender. Producers never retry: once a message is
// queued, failure handling belongs to the consumer.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/petmatch/dispatchhub/internal/batch"
	"github.com/petmatch/dispatchhub/internal/entities"
)

const (
	screenshotPrefix = "dispatch"
	conversionPrefix = "conversion"
	crawlerPrefix    = "crawler"

	// SourceCron marks cron-driven submissions, which bucket their
	// batch IDs to the minute instead of the 5-minute default.
	SourceCron = "cron"
)

// QueueSender publishes a validated message onto the primary stream.
type QueueSender interface {
	Send(ctx context.Context, msg entities.DispatchMessage) error
}

// HistoryRecorder mirrors accepted batches into the history store.
type HistoryRecorder interface {
	RecordSubmitted(ctx context.Context, msg entities.DispatchMessage) error
}

// Result summarizes an accepted (or empty) submission.
type Result struct {
	BatchID   string `json:"batchId,omitempty"`
	ItemCount int    `json:"itemCount"`
	Skipped   int    `json:"skipped,omitempty"`
}

type Service struct {
	sender QueueSender
	now    func() time.Time

	// History is optional and best-effort.
	History HistoryRecorder
}

func New(sender QueueSender) *Service {
	return &Service{sender: sender, now: time.Now}
}

// Screenshots relays a screenshot-capture batch. An empty list returns a
// nothing-to-do result before any batch ID exists; malformed items are
// dropped and counted rather than silently included.
func (s *Service) Screenshots(ctx context.Context, items []entities.ScreenshotItem, source string) (Result, error) {
	if len(items) == 0 {
		return Result{}, nil
	}

	valid := make([]entities.ScreenshotItem, 0, len(items))
	for _, item := range items {
		if item.ID == "" || item.AnimalType == "" || item.SourceURL == "" {
			log.Printf("[dispatch] dropping malformed screenshot item (id=%q)", item.ID)
			continue
		}
		valid = append(valid, item)
	}
	skipped := len(items) - len(valid)
	if len(valid) == 0 {
		return Result{Skipped: skipped}, nil
	}

	id := s.batchID(screenshotPrefix, source)
	msg := entities.NewScreenshotMessage(id, source, valid)
	if err := s.sender.Send(ctx, msg); err != nil {
		return Result{}, fmt.Errorf("queue screenshot batch: %w", err)
	}
	s.record(ctx, msg)

	return Result{BatchID: id, ItemCount: len(valid), Skipped: skipped}, nil
}

// Conversions relays an image-conversion batch.
func (s *Service) Conversions(ctx context.Context, items []entities.ConversionItem, source string) (Result, error) {
	if len(items) == 0 {
		return Result{}, nil
	}

	valid := make([]entities.ConversionItem, 0, len(items))
	for _, item := range items {
		if item.ID == "" || item.AnimalType == "" || item.SourceImageKey == "" {
			log.Printf("[dispatch] dropping malformed conversion item (id=%q)", item.ID)
			continue
		}
		valid = append(valid, item)
	}
	skipped := len(items) - len(valid)
	if len(valid) == 0 {
		return Result{Skipped: skipped}, nil
	}

	id := s.batchID(conversionPrefix, source)
	msg := entities.NewConversionMessage(id, source, valid)
	if err := s.sender.Send(ctx, msg); err != nil {
		return Result{}, fmt.Errorf("queue conversion batch: %w", err)
	}
	s.record(ctx, msg)

	return Result{BatchID: id, ItemCount: len(valid), Skipped: skipped}, nil
}

// Crawler relays a crawler trigger request. There is no item list; the
// message records that a crawl was asked for and when.
func (s *Service) Crawler(ctx context.Context, source string) (Result, error) {
	id := s.batchID(crawlerPrefix, source)
	msg := entities.NewCrawlerMessage(id, source)
	if err := s.sender.Send(ctx, msg); err != nil {
		return Result{}, fmt.Errorf("queue crawler trigger: %w", err)
	}
	s.record(ctx, msg)

	return Result{BatchID: id}, nil
}

func (s *Service) batchID(prefix, source string) string {
	if source == SourceCron {
		return batch.CronID(prefix, s.now())
	}
	return batch.ID(prefix, s.now())
}

func (s *Service) record(ctx context.Context, msg entities.DispatchMessage) {
	if s.History == nil {
		return
	}
	if err := s.History.RecordSubmitted(ctx, msg); err != nil {
		log.Printf("[dispatch] history insert failed for batch %s: %v", msg.BatchID, err)
	}
}
