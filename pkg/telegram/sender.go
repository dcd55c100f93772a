package telegram

import (
	"context"
	"strings"
)

// Message is the payload handed to the sender for one recipient.
type Message struct {
	Text  string
	Image string
}

// Sender abstracts the Telegram client. The delivery worker only needs the
// ability to push one message to one handle; session management, MTProto and
// media upload live behind this interface.
type Sender interface {
	Send(ctx context.Context, recipient string, msg Message) error
}

// Blocked-peer signatures reported by the platform. A blocked recipient is a
// terminal per-recipient outcome, not a transient failure.
var blockedMarkers = []string{
	"USER_IS_BLOCKED",
	"INPUT_USER_DEACTIVATED",
	"USER_DEACTIVATED_BAN",
	"PEER_ID_INVALID",
}

// IsBlocked reports whether the send failed because the recipient cannot be
// messaged at all.
func IsBlocked(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToUpper(err.Error())
	for _, marker := range blockedMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
