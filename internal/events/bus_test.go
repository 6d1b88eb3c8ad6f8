package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeByType(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(TypeEvidenceSubmitted)

	b.Emit(TypeEvidenceSubmitted, "/submission", "EVD-2026-00001", map[string]interface{}{
		"category": "FOOD",
	})
	b.Emit(TypeBountyProcessed, "/bounty", "EVD-2026-00001", nil)

	ev := <-ch
	assert.Equal(t, TypeEvidenceSubmitted, ev.Type)
	assert.Equal(t, "EVD-2026-00001", ev.Subject)
	assert.Equal(t, "FOOD", ev.Data["category"])
	assert.Empty(t, ch, "unrelated types are not delivered")
}

func TestSubscribeAll(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe()

	b.Emit(TypeVerdictCommitted, "/verification", "EVD-2026-00001", nil)
	b.Emit(TypeEvidenceResolved, "/resolution", "EVD-2026-00001", nil)

	assert.Len(t, ch, 2)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(TypeAuditPublished)
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(ch)
	assert.Zero(t, b.SubscriberCount())

	_, open := <-ch
	assert.False(t, open)
}

func TestPublishSkipsFullBuffers(t *testing.T) {
	b := NewBus()
	b.bufferSize = 1
	ch := b.Subscribe(TypeTamperDetected)

	b.Emit(TypeTamperDetected, "/verification", "EVD-2026-00001", nil)
	b.Emit(TypeTamperDetected, "/verification", "EVD-2026-00002", nil)

	assert.Len(t, ch, 1, "second event dropped, publisher never blocks")
}

func TestSSEFormat(t *testing.T) {
	ev := NewCloudEvent(TypePublicationFanout, "/publication", "EVD-2026-00001", nil)
	frame, err := ev.SSEFormat()
	require.NoError(t, err)
	assert.Contains(t, string(frame), "event: "+TypePublicationFanout+"\n")
	assert.Contains(t, string(frame), "id: "+ev.ID+"\n\n")
	assert.Equal(t, "1.0", ev.SpecVersion)
}
