package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	conf "github.com/petmatch/dispatchhub/internal/config"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(conf.WorkflowConfig{
		APIBase:        srv.URL,
		Owner:          "petmatch",
		Repo:           "pets",
		Ref:            "main",
		Token:          "test-token",
		RequestTimeout: 5 * time.Second,
	})
}

func TestClient_Trigger_Success(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody dispatchRequest

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	})

	inputs := map[string]string{"batch_id": "dispatch-2024-03-01-42", "limit": "1"}
	if err := c.Trigger(context.Background(), "screenshot-capture.yml", "dispatch-2024-03-01-42", inputs); err != nil {
		t.Fatalf("Trigger returned %v, want nil", err)
	}

	if gotPath != "/repos/petmatch/pets/actions/workflows/screenshot-capture.yml/dispatches" {
		t.Errorf("unexpected dispatch path %q", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.Ref != "main" || gotBody.Inputs["batch_id"] != "dispatch-2024-03-01-42" {
		t.Errorf("unexpected request body: %+v", gotBody)
	}
}

func TestClient_Trigger_RateLimited(t *testing.T) {
	tests := []struct {
		name       string
		retryAfter string
		want       int
	}{
		{name: "HeaderPresent", retryAfter: "45", want: 45},
		{name: "HeaderAbsent", retryAfter: "", want: 60},
		{name: "HeaderGarbage", retryAfter: "soon", want: 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(http.StatusTooManyRequests)
			})

			err := c.Trigger(context.Background(), "screenshot-capture.yml", "b1", nil)

			var rl *RateLimitedError
			if !errors.As(err, &rl) {
				t.Fatalf("Trigger returned %v, want RateLimitedError", err)
			}
			if rl.RetryAfter != tt.want {
				t.Errorf("RetryAfter = %d, want %d", rl.RetryAfter, tt.want)
			}
		})
	}
}

func TestClient_Trigger_FatalStatuses(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound} {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})

		err := c.Trigger(context.Background(), "image-conversion.yml", "b1", nil)

		var fatal *FatalError
		if !errors.As(err, &fatal) {
			t.Fatalf("status %d: got %v, want FatalError", status, err)
		}
		if fatal.Status != status {
			t.Errorf("FatalError.Status = %d, want %d", fatal.Status, status)
		}
	}
}

func TestClient_Trigger_ServerErrorIsRetryable(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})

	err := c.Trigger(context.Background(), "screenshot-capture.yml", "b1", nil)
	if err == nil {
		t.Fatal("Trigger returned nil, want error")
	}

	var rl *RateLimitedError
	var fatal *FatalError
	if errors.As(err, &rl) || errors.As(err, &fatal) {
		t.Errorf("5xx should be a generic retryable error, got %T", err)
	}
}
