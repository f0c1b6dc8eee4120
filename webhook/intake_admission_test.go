package webhook

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/traveltek-sync/ingestiond/domain"
	"github.com/traveltek-sync/ingestiond/queue"
	"github.com/traveltek-sync/ingestiond/sysflags"
)

func newAdmissionHandler(t *testing.T) (*Handler, *fakeStore, *fakeFlagStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store := &fakeStore{}
	flagStore := newFakeFlagStore()
	flags := sysflags.New(flagStore, time.Millisecond) // near-zero TTL: tests read through each write immediately
	q := queue.New(rdb, queue.NameWebhookIntake, time.Second, time.Minute, queue.WebhookIntakeMaxAttempts)

	h := NewHandler(store, flags, q, zerolog.New(io.Discard))
	return h, store, flagStore
}

const validBody = `{"event":"cruiseline_pricing_updated","lineid":12,"timestamp":1700000000}`

func TestCruiselinePricingUpdated_AdmitsFirstDeliveryAndEnqueues(t *testing.T) {
	h, store, _ := newAdmissionHandler(t)

	rw := doRequest(h, validBody)
	require.Equal(t, http.StatusAccepted, rw.Code)
	require.Equal(t, 1, store.count())
	require.Equal(t, domain.WebhookStatusPending, store.events[0].Status)
}

func TestCruiselinePricingUpdated_PausedSkipsButStillReturns202(t *testing.T) {
	h, store, flagStore := newAdmissionHandler(t)
	flagStore.values[domain.FlagWebhooksPaused] = "true"
	time.Sleep(2 * time.Millisecond) // outlast the cache TTL set in newAdmissionHandler

	rw := doRequest(h, validBody)
	require.Equal(t, http.StatusAccepted, rw.Code)
	require.Equal(t, 1, store.count())
	require.Equal(t, domain.WebhookStatusSkipped, store.events[0].Status)
}

func TestCruiselinePricingUpdated_DuplicateWithinWindowSkipped(t *testing.T) {
	h, store, _ := newAdmissionHandler(t)

	rw1 := doRequest(h, validBody)
	require.Equal(t, http.StatusAccepted, rw1.Code)

	rw2 := doRequest(h, validBody)
	require.Equal(t, http.StatusAccepted, rw2.Code)

	require.Equal(t, 2, store.count())
	require.Equal(t, domain.WebhookStatusPending, store.events[0].Status)
	require.Equal(t, domain.WebhookStatusSkipped, store.events[1].Status)
}

func TestCruiselinePricingUpdated_OutsideWindowAdmittedAgain(t *testing.T) {
	h, store, flagStore := newAdmissionHandler(t)
	flagStore.values[domain.FlagDedupWindowSeconds] = "1"
	time.Sleep(2 * time.Millisecond)

	rw1 := doRequest(h, validBody)
	require.Equal(t, http.StatusAccepted, rw1.Code)

	time.Sleep(1200 * time.Millisecond) // past the 1s dedup window

	rw2 := doRequest(h, validBody)
	require.Equal(t, http.StatusAccepted, rw2.Code)

	require.Equal(t, 2, store.count())
	require.Equal(t, domain.WebhookStatusPending, store.events[0].Status)
	require.Equal(t, domain.WebhookStatusPending, store.events[1].Status)
}

func TestCruiselinePricingUpdated_DifferentLineIDsDoNotDedup(t *testing.T) {
	h, store, _ := newAdmissionHandler(t)

	rw1 := doRequest(h, `{"event":"cruiseline_pricing_updated","lineid":12}`)
	require.Equal(t, http.StatusAccepted, rw1.Code)

	rw2 := doRequest(h, `{"event":"cruiseline_pricing_updated","lineid":13}`)
	require.Equal(t, http.StatusAccepted, rw2.Code)

	require.Equal(t, 2, store.count())
	require.Equal(t, domain.WebhookStatusPending, store.events[0].Status)
	require.Equal(t, domain.WebhookStatusPending, store.events[1].Status)
}
