package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeMessage(t *testing.T) {
	assert.Equal(t, Message{}, DecodeMessage(nil))
	assert.Equal(t, Message{}, DecodeMessage([]byte("not json")))
	assert.Equal(t,
		Message{Text: "hello", Image: "img-1"},
		DecodeMessage([]byte(`{"text":"  hello  ","image":" img-1 "}`)))
}

func TestDecodeDelay(t *testing.T) {
	fallback := DelayConfig{MinMs: DefaultDelayMinMs, MaxMs: DefaultDelayMaxMs}

	assert.Equal(t, fallback, DecodeDelay(nil))
	assert.Equal(t, fallback, DecodeDelay([]byte(`{broken`)))
	assert.Equal(t, fallback, DecodeDelay([]byte(`{}`)))

	// Stored values are re-clamped on the way out.
	assert.Equal(t,
		DelayConfig{MinMs: DelayFloorMs, MaxMs: 1000},
		DecodeDelay([]byte(`{"min_ms":10,"max_ms":1000}`)))
}

func TestDecodeManualRecipients(t *testing.T) {
	assert.Nil(t, DecodeManualRecipients(nil))
	assert.Nil(t, DecodeManualRecipients([]byte(`"not an array"`)))
	assert.Equal(t,
		[]string{"@alice_dev"},
		DecodeManualRecipients([]byte(`["alice_dev","!!"]`)))
}

func TestDecodeSegmentFilters(t *testing.T) {
	assert.Nil(t, DecodeSegmentFilters(nil))
	assert.Nil(t, DecodeSegmentFilters([]byte(`{broken`)))
	assert.Nil(t, DecodeSegmentFilters([]byte(`{}`)), "empty filters collapse to nil")

	filters := DecodeSegmentFilters([]byte(`{"language":" EN ","min_subscribers":100}`))
	if assert.NotNil(t, filters) {
		assert.Equal(t, "en", filters.Language)
		if assert.NotNil(t, filters.MinSubscribers) {
			assert.Equal(t, 100, *filters.MinSubscribers)
		}
	}
}
