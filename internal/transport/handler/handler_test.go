package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/petmatch/dispatchhub/internal/dispatch"
	"github.com/petmatch/dispatchhub/internal/entities"
	"github.com/petmatch/dispatchhub/internal/queue"
)

type fakeDispatcher struct {
	result dispatch.Result
	err    error

	gotItems  int
	gotSource string
}

func (f *fakeDispatcher) Screenshots(ctx context.Context, items []entities.ScreenshotItem, source string) (dispatch.Result, error) {
	f.gotItems, f.gotSource = len(items), source
	return f.result, f.err
}

func (f *fakeDispatcher) Conversions(ctx context.Context, items []entities.ConversionItem, source string) (dispatch.Result, error) {
	f.gotItems, f.gotSource = len(items), source
	return f.result, f.err
}

func (f *fakeDispatcher) Crawler(ctx context.Context, source string) (dispatch.Result, error) {
	f.gotSource = source
	return f.result, f.err
}

func TestHandler_DispatchScreenshots(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		dispatcher *fakeDispatcher
		wantStatus int
		validate   func(*testing.T, *fakeDispatcher, DispatchResponse)
	}{
		{
			name: "Accepted",
			body: `{"source":"api","items":[{"id":"p1","name":"Mochi","animalType":"dog","sourceUrl":"https://x/1"}]}`,
			dispatcher: &fakeDispatcher{
				result: dispatch.Result{BatchID: "dispatch-2024-03-01-5697624", ItemCount: 1},
			},
			wantStatus: http.StatusAccepted,
			validate: func(t *testing.T, f *fakeDispatcher, resp DispatchResponse) {
				if !resp.Success || resp.BatchID != "dispatch-2024-03-01-5697624" {
					t.Errorf("unexpected response: %+v", resp)
				}
				if f.gotItems != 1 || f.gotSource != "api" {
					t.Errorf("dispatcher got items=%d source=%q", f.gotItems, f.gotSource)
				}
			},
		},
		{
			name:       "NothingToDo",
			body:       `{"source":"api","items":[]}`,
			dispatcher: &fakeDispatcher{result: dispatch.Result{}},
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, f *fakeDispatcher, resp DispatchResponse) {
				if !resp.Success || resp.BatchID != "" || resp.ItemCount != 0 {
					t.Errorf("unexpected response: %+v", resp)
				}
			},
		},
		{
			name:       "MissingSource",
			body:       `{"items":[{"id":"p1","animalType":"dog","sourceUrl":"https://x/1"}]}`,
			dispatcher: &fakeDispatcher{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "MalformedJSON",
			body:       `{"source":`,
			dispatcher: &fakeDispatcher{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "SenderValidationRejection",
			body:       `{"source":"api","items":[{"id":"p1","name":"Mochi","animalType":"dog","sourceUrl":"https://x/1"}]}`,
			dispatcher: &fakeDispatcher{err: &queue.ValidationError{Field: "items[0].sourceUrl", Reason: "is required"}},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(tt.dispatcher)

			req := httptest.NewRequest(http.MethodPost, "/api/dispatch/screenshots", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			h.DispatchScreenshots(w, req)

			resp := w.Result()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("StatusCode: got %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			if tt.validate != nil {
				var body DispatchResponse
				if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
					t.Fatalf("decode response: %v", err)
				}
				tt.validate(t, tt.dispatcher, body)
			}
		})
	}
}

func TestHandler_TriggerCrawler(t *testing.T) {
	f := &fakeDispatcher{result: dispatch.Result{BatchID: "crawler-2024-03-01-5697624"}}
	h := New(f)

	req := httptest.NewRequest(http.MethodPost, "/api/dispatch/crawler", strings.NewReader(`{"source":"api"}`))
	w := httptest.NewRecorder()

	h.TriggerCrawler(w, req)

	if w.Result().StatusCode != http.StatusAccepted {
		t.Fatalf("StatusCode = %d, want 202", w.Result().StatusCode)
	}
	if f.gotSource != "api" {
		t.Errorf("source = %q, want api", f.gotSource)
	}
}
