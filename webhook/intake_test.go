package webhook

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// newTestHandler builds a Handler with nil store/flags/queue, valid only
// for exercising the request-validation paths that return before any
// dependency is touched.
func newTestHandler() *Handler {
	log := zerolog.New(io.Discard)
	return NewHandler(nil, nil, nil, log)
}

func doRequest(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/traveltek/cruiseline-pricing-updated", bytes.NewBufferString(body))
	rw := httptest.NewRecorder()
	h.CruiselinePricingUpdated(rw, req)
	return rw
}

func TestCruiselinePricingUpdated_InvalidJSONRejected(t *testing.T) {
	h := newTestHandler()
	rw := doRequest(h, `not json`)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestCruiselinePricingUpdated_MissingLineIDRejected(t *testing.T) {
	h := newTestHandler()
	rw := doRequest(h, `{"event":"cruiseline_pricing_updated"}`)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestCruiselinePricingUpdated_ZeroLineIDRejected(t *testing.T) {
	h := newTestHandler()
	rw := doRequest(h, `{"event":"cruiseline_pricing_updated","lineid":0}`)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestCruiselinePricingUpdated_NegativeLineIDRejected(t *testing.T) {
	h := newTestHandler()
	rw := doRequest(h, `{"event":"cruiseline_pricing_updated","lineid":-5}`)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestCruiselinePricingUpdated_UnrecognizedEventRejected(t *testing.T) {
	h := newTestHandler()
	rw := doRequest(h, `{"event":"some_other_event","lineid":12}`)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestRecognizedEvents_CoversBothCallbackNames(t *testing.T) {
	assert.True(t, recognizedEvents["cruiseline_pricing_updated"])
	assert.True(t, recognizedEvents["cruises_live_pricing_updated"])
	assert.False(t, recognizedEvents["unknown_event"])
}
