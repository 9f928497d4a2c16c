package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/petmatch/dispatchhub/internal/dispatch"
	"github.com/petmatch/dispatchhub/internal/entities"
	"github.com/petmatch/dispatchhub/internal/queue"
)

// Dispatcher is the producer surface the HTTP edge fronts.
type Dispatcher interface {
	Screenshots(ctx context.Context, items []entities.ScreenshotItem, source string) (dispatch.Result, error)
	Conversions(ctx context.Context, items []entities.ConversionItem, source string) (dispatch.Result, error)
	Crawler(ctx context.Context, source string) (dispatch.Result, error)
}

type Handler struct {
	dispatcher Dispatcher
	validator  *validator.Validate
}

func New(dispatcher Dispatcher) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		validator:  validator.New(),
	}
}

func (h *Handler) DispatchScreenshots(w http.ResponseWriter, r *http.Request) {
	var req ScreenshotDispatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, func() (dispatch.Result, error) {
		return h.dispatcher.Screenshots(r.Context(), req.Items, req.Source)
	})
}

func (h *Handler) DispatchConversions(w http.ResponseWriter, r *http.Request) {
	var req ConversionDispatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, func() (dispatch.Result, error) {
		return h.dispatcher.Conversions(r.Context(), req.Items, req.Source)
	})
}

func (h *Handler) TriggerCrawler(w http.ResponseWriter, r *http.Request) {
	var req CrawlerDispatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, func() (dispatch.Result, error) {
		return h.dispatcher.Crawler(r.Context(), req.Source)
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode parses and validates the request body; on failure it writes
// the error response and reports false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, validationErrorsToMap(err))
		return false
	}
	return true
}

// respond maps a producer result onto the wire: 202 for a queued batch,
// 200 for nothing-to-do, 400 for a validation rejection, 500 otherwise.
// Downstream CI failures never surface here; the caller has its answer
// the moment the batch is queued.
func (h *Handler) respond(w http.ResponseWriter, run func() (dispatch.Result, error)) {
	res, err := run()
	if err != nil {
		var verr *queue.ValidationError
		if errors.As(err, &verr) {
			writeJSONError(w, verr.Error(), http.StatusBadRequest)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	code := http.StatusAccepted
	if res.BatchID == "" {
		code = http.StatusOK // nothing to do
	}
	writeJSON(w, code, DispatchResponse{
		Success:   true,
		BatchID:   res.BatchID,
		ItemCount: res.ItemCount,
		Skipped:   res.Skipped,
	})
}
