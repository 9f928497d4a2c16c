package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petmatch/dispatchhub/internal/entities"
)

type fakeSender struct {
	sent    []entities.DispatchMessage
	sendErr error
}

func (f *fakeSender) Send(ctx context.Context, msg entities.DispatchMessage) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func fixedService(sender QueueSender) *Service {
	s := New(sender)
	s.now = func() time.Time {
		return time.Date(2024, 3, 1, 10, 2, 0, 0, time.UTC)
	}
	return s
}

func screenshotItems() []entities.ScreenshotItem {
	return []entities.ScreenshotItem{
		{ID: "p1", Name: "Mochi", AnimalType: "dog", SourceURL: "https://x/1"},
	}
}

func TestService_Screenshots_HappyPath(t *testing.T) {
	f := &fakeSender{}
	s := fixedService(f)

	res, err := s.Screenshots(context.Background(), screenshotItems(), "api")
	require.NoError(t, err)

	// 2024-03-01T10:02:00Z sits in 5-minute bucket 5697624.
	assert.Equal(t, "dispatch-2024-03-01-5697624", res.BatchID)
	assert.Equal(t, 1, res.ItemCount)
	assert.Zero(t, res.Skipped)

	require.Len(t, f.sent, 1)
	msg := f.sent[0]
	assert.Equal(t, entities.TypeScreenshot, msg.Type)
	assert.Equal(t, res.BatchID, msg.BatchID)
	assert.Equal(t, "api", msg.Source)
	assert.Equal(t, 0, msg.RetryCount)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestService_Screenshots_EmptyInputShortCircuits(t *testing.T) {
	f := &fakeSender{}
	s := fixedService(f)

	res, err := s.Screenshots(context.Background(), nil, "api")
	require.NoError(t, err)

	assert.Empty(t, res.BatchID, "no batch ID may be generated for an empty list")
	assert.Zero(t, res.ItemCount)
	assert.Empty(t, f.sent, "the sender must never see an empty submission")
}

func TestService_Screenshots_MalformedItemsDropped(t *testing.T) {
	f := &fakeSender{}
	s := fixedService(f)

	items := []entities.ScreenshotItem{
		{ID: "p1", Name: "Mochi", AnimalType: "dog", SourceURL: "https://x/1"},
		{ID: "", Name: "NoID", AnimalType: "dog", SourceURL: "https://x/2"},
		{ID: "p3", Name: "NoURL", AnimalType: "cat"},
	}

	res, err := s.Screenshots(context.Background(), items, "api")
	require.NoError(t, err)

	assert.Equal(t, 1, res.ItemCount)
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, f.sent, 1)
	assert.Len(t, f.sent[0].Screenshots, 1)
}

func TestService_Screenshots_AllMalformedIsNothingToDo(t *testing.T) {
	f := &fakeSender{}
	s := fixedService(f)

	res, err := s.Screenshots(context.Background(), []entities.ScreenshotItem{{Name: "ghost"}}, "api")
	require.NoError(t, err)

	assert.Empty(t, res.BatchID)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, f.sent)
}

func TestService_Screenshots_SendFailureSurfaces(t *testing.T) {
	f := &fakeSender{sendErr: errors.New("stream unavailable")}
	s := fixedService(f)

	_, err := s.Screenshots(context.Background(), screenshotItems(), "api")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream unavailable")
}

func TestService_CronSourceUsesMinuteBucket(t *testing.T) {
	f := &fakeSender{}
	s := fixedService(f)

	res, err := s.Screenshots(context.Background(), screenshotItems(), SourceCron)
	require.NoError(t, err)
	assert.Equal(t, "dispatch-2024-03-01-1002", res.BatchID)
}

func TestService_Conversions(t *testing.T) {
	f := &fakeSender{}
	s := fixedService(f)

	items := []entities.ConversionItem{
		{ID: "p1", AnimalType: "cat", SourceImageKey: "pets/p1/original.png"},
		{ID: "p2", AnimalType: "dog"}, // dropped: no source key
	}

	res, err := s.Conversions(context.Background(), items, "api")
	require.NoError(t, err)

	assert.Equal(t, "conversion-2024-03-01-5697624", res.BatchID)
	assert.Equal(t, 1, res.ItemCount)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, f.sent, 1)
	assert.Equal(t, entities.TypeConversion, f.sent[0].Type)
}

func TestService_Crawler(t *testing.T) {
	f := &fakeSender{}
	s := fixedService(f)

	res, err := s.Crawler(context.Background(), "api")
	require.NoError(t, err)

	assert.Equal(t, "crawler-2024-03-01-5697624", res.BatchID)
	assert.Zero(t, res.ItemCount)
	require.Len(t, f.sent, 1)
	assert.Equal(t, entities.TypeCrawler, f.sent[0].Type)
}
