package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/queue"
	"github.com/televine/broadcast-api/pkg/logger"
	"github.com/televine/broadcast-api/pkg/metrics"
)

var testMetrics = metrics.NewMetrics("cron_test")

func dispatchJob(t *testing.T, registry *Registry, payload string) error {
	t.Helper()
	handler := Dispatcher(registry, testMetrics, logger.NewLogger(nil))
	return handler(context.Background(), &model.QueueJob{Payload: []byte(payload)})
}

func TestDispatcherRunsRegisteredJob(t *testing.T) {
	registry := NewRegistry()
	ran := false
	registry.Add(Definition{
		Key:      "nightly-sweep",
		Schedule: "0 2 * * *",
		Handler:  func(context.Context) error { ran = true; return nil },
	})

	err := dispatchJob(t, registry, `{"job_key":"nightly-sweep"}`)
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestDispatcherPropagatesHandlerError(t *testing.T) {
	registry := NewRegistry()
	registry.Add(Definition{
		Key:      "flaky",
		Schedule: "* * * * *",
		Handler:  func(context.Context) error { return errors.New("db unavailable") },
	})

	err := dispatchJob(t, registry, `{"job_key":"flaky"}`)
	assert.Error(t, err, "handler errors go back to the queue for retry")
}

func TestDispatcherSkipsUnknownKey(t *testing.T) {
	err := dispatchJob(t, NewRegistry(), `{"job_key":"removed-job"}`)
	assert.NoError(t, err, "unknown keys are skipped, not retried")
}

func TestDispatcherSkipsMalformedPayload(t *testing.T) {
	err := dispatchJob(t, NewRegistry(), `{broken`)
	assert.NoError(t, err)
}

func TestRegistrySchedulesPreserveOrder(t *testing.T) {
	registry := NewRegistry()
	registry.Add(Definition{Key: "b", Schedule: "0 1 * * *"})
	registry.Add(Definition{Key: "a", Schedule: "0 2 * * *"})
	registry.Add(Definition{Key: "b", Schedule: "0 3 * * *"})

	assert.Equal(t, []queue.Schedule{
		{Key: "b", Spec: "0 3 * * *"},
		{Key: "a", Spec: "0 2 * * *"},
	}, registry.Schedules(), "re-adding a key updates in place")
}
