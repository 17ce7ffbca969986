package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sublarr/models"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus()

	var got []models.Event
	bus.Subscribe(models.EventJobCreated, func(e models.Event) { got = append(got, e) })

	bus.Publish(models.EventJobCreated, models.JobEventPayload{JobID: "1"})
	bus.Publish(models.EventJobFailed, models.JobEventPayload{JobID: "2"})

	require.Len(t, got, 1, "only the subscribed type is delivered")
	assert.Equal(t, models.EventJobCreated, got[0].Type)
	assert.Equal(t, models.EventCatalogVersion, got[0].CatalogVersion)

	payload, ok := got[0].Data.(models.JobEventPayload)
	require.True(t, ok)
	assert.Equal(t, "1", payload.JobID)
}

func TestBusWildcardReceivesEverything(t *testing.T) {
	bus := NewBus()

	var count int
	bus.Subscribe(Wildcard, func(models.Event) { count++ })

	bus.Publish(models.EventJobCreated, nil)
	bus.Publish(models.EventSubtitleDownloaded, nil)
	bus.Publish(models.EventWantedScanned, nil)

	assert.Equal(t, 3, count)
}

func TestBusDeliveryIsSynchronousAndOrdered(t *testing.T) {
	bus := NewBus()

	var order []string
	bus.Subscribe(models.EventJobProgress, func(e models.Event) {
		order = append(order, e.Data.(string))
	})

	for _, step := range []string{"a", "b", "c"} {
		bus.Publish(models.EventJobProgress, step)
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestBusHandlerPanicDoesNotReachPublisher(t *testing.T) {
	bus := NewBus()

	bus.Subscribe(models.EventJobCreated, func(models.Event) { panic("handler bug") })
	var delivered bool
	bus.Subscribe(models.EventJobCreated, func(models.Event) { delivered = true })

	assert.NotPanics(t, func() {
		bus.Publish(models.EventJobCreated, nil)
	})
	assert.True(t, delivered, "the panicking handler does not starve the others")
}
