package model

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseManualRecipients(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{
			name:  "prefixes bare handles",
			input: []string{"alice_dev", "@bob_123"},
			want:  []string{"@alice_dev", "@bob_123"},
		},
		{
			name:  "trims whitespace",
			input: []string{"  @alice_dev  ", "\tbob_123\n"},
			want:  []string{"@alice_dev", "@bob_123"},
		},
		{
			name:  "drops malformed entries",
			input: []string{"@ok_handle", "ab", "has space", "has-dash", "@" + "x234567890123456789012345678901234567890"},
			want:  []string{"@ok_handle"},
		},
		{
			name:  "dedup is case insensitive, first casing wins",
			input: []string{"@Alice_Dev", "@alice_dev", "@ALICE_DEV", "@bob_123"},
			want:  []string{"@Alice_Dev", "@bob_123"},
		},
		{
			name:  "preserves order",
			input: []string{"@zeta_user", "@alpha_user", "@mike_user"},
			want:  []string{"@zeta_user", "@alpha_user", "@mike_user"},
		},
		{
			name:  "empty input",
			input: nil,
			want:  nil,
		},
		{
			name:  "all invalid",
			input: []string{"", "  ", "@!"},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseManualRecipients(tt.input))
		})
	}
}

func TestParseManualRecipientsCap(t *testing.T) {
	raw := make([]string, MaxManualRecipients+50)
	for i := range raw {
		raw[i] = fmt.Sprintf("user_%06d", i)
	}

	got := ParseManualRecipients(raw)
	assert.Len(t, got, MaxManualRecipients)
	assert.Equal(t, "@user_000000", got[0])
}

func TestValidRecipient(t *testing.T) {
	assert.True(t, ValidRecipient("@alice_dev"))
	assert.True(t, ValidRecipient("alice_dev"))
	assert.True(t, ValidRecipient("abcd"))
	assert.False(t, ValidRecipient("abc"))
	assert.False(t, ValidRecipient("@has space"))
	assert.False(t, ValidRecipient(""))
}

func TestNormalizeDelay(t *testing.T) {
	tests := []struct {
		name  string
		input *DelayConfig
		want  DelayConfig
	}{
		{
			name:  "nil uses defaults",
			input: nil,
			want:  DelayConfig{MinMs: DefaultDelayMinMs, MaxMs: DefaultDelayMaxMs},
		},
		{
			name:  "zero values use defaults",
			input: &DelayConfig{},
			want:  DelayConfig{MinMs: DefaultDelayMinMs, MaxMs: DefaultDelayMaxMs},
		},
		{
			name:  "min floored",
			input: &DelayConfig{MinMs: 50, MaxMs: 1000},
			want:  DelayConfig{MinMs: DelayFloorMs, MaxMs: 1000},
		},
		{
			name:  "max raised to min",
			input: &DelayConfig{MinMs: 5000, MaxMs: 1000},
			want:  DelayConfig{MinMs: 5000, MaxMs: 5000},
		},
		{
			name:  "valid window untouched",
			input: &DelayConfig{MinMs: 2000, MaxMs: 4000},
			want:  DelayConfig{MinMs: 2000, MaxMs: 4000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeDelay(tt.input))
		})
	}
}
