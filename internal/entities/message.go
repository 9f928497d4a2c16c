package entities

import (
	"encoding/json"
	"fmt"
	"time"
)

type MessageType string

const (
	TypeScreenshot MessageType = "screenshot"
	TypeConversion MessageType = "conversion"
	TypeCrawler    MessageType = "crawler"
)

// ScreenshotItem identifies one photographable pet.
type ScreenshotItem struct {
	ID         string `json:"id" validate:"required"`
	Name       string `json:"name"`
	AnimalType string `json:"animalType" validate:"required"`
	SourceURL  string `json:"sourceUrl" validate:"required,url"`
}

// ConversionItem identifies one stored image to transcode.
type ConversionItem struct {
	ID             string `json:"id" validate:"required"`
	AnimalType     string `json:"animalType" validate:"required"`
	SourceImageKey string `json:"sourceImageKey" validate:"required"`
}

// DispatchMessage is one unit of relay work on the queue. The item slice
// in use is fixed by Type; the constructors are the only intended way to
// build one, so the pairing holds by construction.
//
// BatchID and Timestamp are set once at first enqueue and never mutated;
// retry copies made through Retry carry them unchanged.
type DispatchMessage struct {
	Type         MessageType
	BatchID      string
	Source       string
	RetryCount   int
	Timestamp    time.Time
	WorkflowFile string

	Screenshots []ScreenshotItem
	Conversions []ConversionItem
}

func NewScreenshotMessage(batchID, source string, items []ScreenshotItem) DispatchMessage {
	return DispatchMessage{
		Type:        TypeScreenshot,
		BatchID:     batchID,
		Source:      source,
		Timestamp:   time.Now().UTC(),
		Screenshots: items,
	}
}

func NewConversionMessage(batchID, source string, items []ConversionItem) DispatchMessage {
	return DispatchMessage{
		Type:        TypeConversion,
		BatchID:     batchID,
		Source:      source,
		Timestamp:   time.Now().UTC(),
		Conversions: items,
	}
}

func NewCrawlerMessage(batchID, source string) DispatchMessage {
	return DispatchMessage{
		Type:      TypeCrawler,
		BatchID:   batchID,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}
}

func (m DispatchMessage) ItemCount() int {
	switch m.Type {
	case TypeScreenshot:
		return len(m.Screenshots)
	case TypeConversion:
		return len(m.Conversions)
	default:
		return 0
	}
}

// Retry returns a copy with the retry counter advanced by one. The
// receiver is left untouched; the counter only ever moves forward.
func (m DispatchMessage) Retry() DispatchMessage {
	m.RetryCount++
	return m
}

// messageWire is the queue JSON shape. Items holds whichever slice the
// type selects, so the wire format stays a single tagged union.
type messageWire struct {
	Type         MessageType     `json:"type"`
	Items        json.RawMessage `json:"items,omitempty"`
	BatchID      string          `json:"batchId"`
	Source       string          `json:"source,omitempty"`
	RetryCount   int             `json:"retryCount"`
	Timestamp    time.Time       `json:"timestamp"`
	WorkflowFile string          `json:"workflowFile,omitempty"`
}

func (m DispatchMessage) wire() (messageWire, error) {
	w := messageWire{
		Type:         m.Type,
		BatchID:      m.BatchID,
		Source:       m.Source,
		RetryCount:   m.RetryCount,
		Timestamp:    m.Timestamp,
		WorkflowFile: m.WorkflowFile,
	}

	var err error
	switch m.Type {
	case TypeScreenshot:
		w.Items, err = json.Marshal(m.Screenshots)
	case TypeConversion:
		w.Items, err = json.Marshal(m.Conversions)
	}
	if err != nil {
		return messageWire{}, fmt.Errorf("marshal %s items: %w", m.Type, err)
	}
	return w, nil
}

func (m *DispatchMessage) fromWire(w messageWire) error {
	m.Type = w.Type
	m.BatchID = w.BatchID
	m.Source = w.Source
	m.RetryCount = w.RetryCount
	m.Timestamp = w.Timestamp
	m.WorkflowFile = w.WorkflowFile
	m.Screenshots = nil
	m.Conversions = nil

	if len(w.Items) == 0 {
		return nil
	}
	// An unknown type keeps its raw tag and no items; the consumer logs
	// and drops it instead of treating it as a decode failure.
	switch w.Type {
	case TypeScreenshot:
		return json.Unmarshal(w.Items, &m.Screenshots)
	case TypeConversion:
		return json.Unmarshal(w.Items, &m.Conversions)
	}
	return nil
}

func (m DispatchMessage) MarshalJSON() ([]byte, error) {
	w, err := m.wire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (m *DispatchMessage) UnmarshalJSON(data []byte) error {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	return m.fromWire(w)
}

// DeadLetterMessage is the terminal artifact of a message that exhausted
// its retry budget or hit a failure that retrying cannot heal. It is
// never re-enqueued onto the primary stream.
type DeadLetterMessage struct {
	DispatchMessage

	Error    string
	FailedAt time.Time
}

func NewDeadLetter(m DispatchMessage, cause string, at time.Time) DeadLetterMessage {
	return DeadLetterMessage{
		DispatchMessage: m,
		Error:           cause,
		FailedAt:        at,
	}
}

type deadLetterWire struct {
	messageWire
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failedAt"`
}

func (d DeadLetterMessage) MarshalJSON() ([]byte, error) {
	w, err := d.DispatchMessage.wire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(deadLetterWire{
		messageWire: w,
		Error:       d.Error,
		FailedAt:    d.FailedAt,
	})
}

func (d *DeadLetterMessage) UnmarshalJSON(data []byte) error {
	var w deadLetterWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	d.Error = w.Error
	d.FailedAt = w.FailedAt
	return d.DispatchMessage.fromWire(w.messageWire)
}
