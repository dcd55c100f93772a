package model

import (
	"encoding/json"
	"strings"
)

// Tolerant decoders for the campaign's jsonb columns. Stored rows may predate
// the current shapes or have been written by hand; decoding never fails, it
// degrades to a documented default instead. Callers that care about masked
// corruption watch the warn logs at the storage boundary.

// DecodeMessage parses a stored message column. Default: empty text.
func DecodeMessage(raw []byte) Message {
	if len(raw) == 0 {
		return Message{}
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}
	}

	msg.Text = strings.TrimSpace(msg.Text)
	msg.Image = strings.TrimSpace(msg.Image)
	return msg
}

// DecodeDelay parses a stored delay_config column. Default: the standard
// delay policy.
func DecodeDelay(raw []byte) DelayConfig {
	fallback := DelayConfig{MinMs: DefaultDelayMinMs, MaxMs: DefaultDelayMaxMs}
	if len(raw) == 0 {
		return fallback
	}

	var delay DelayConfig
	if err := json.Unmarshal(raw, &delay); err != nil {
		return fallback
	}
	if delay.MinMs == 0 && delay.MaxMs == 0 {
		return fallback
	}
	return NormalizeDelay(&delay)
}

// DecodeManualRecipients parses a stored manual_recipients column and
// re-applies handle normalization. Default: empty list.
func DecodeManualRecipients(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}

	var handles []string
	if err := json.Unmarshal(raw, &handles); err != nil {
		return nil
	}
	return ParseManualRecipients(handles)
}

// DecodeSegmentFilters parses a stored filters column. Default: nil, meaning
// no filtering is applied at resolution time.
func DecodeSegmentFilters(raw []byte) *SegmentFilters {
	if len(raw) == 0 {
		return nil
	}

	var filters SegmentFilters
	if err := json.Unmarshal(raw, &filters); err != nil {
		return nil
	}

	filters.Language = strings.ToLower(strings.TrimSpace(filters.Language))
	if filters.IsEmpty() {
		return nil
	}
	return &filters
}
