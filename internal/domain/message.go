package domain

import (
	"strings"
	"time"
)

// GroupSuffix marks WhatsApp group conversations in a sender address.
const GroupSuffix = "@g.us"

// MessageContext is the transport metadata captured with the first fragment of a burst.
type MessageContext struct {
	MessageType string    `json:"type"`
	HasMedia    bool      `json:"has_media"`
	SentAt      time.Time `json:"sent_at,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Inbound is a unified message: every fragment a sender produced during one quiet period.
type Inbound struct {
	SenderID string
	Text     string
	Context  MessageContext
}

// IsGroupAddress reports whether addr denotes a group conversation.
func IsGroupAddress(addr string) bool {
	return strings.Contains(addr, GroupSuffix)
}

// NormalizePhone drops everything from the first '@' and keeps digits only.
// "5511999999999@c.us" -> "5511999999999".
func NormalizePhone(addr string) string {
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		addr = addr[:i]
	}
	var b strings.Builder
	b.Grow(len(addr))
	for _, r := range addr {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SessionKey derives the stable conversation key for a normalized phone number.
func SessionKey(phone string) string {
	return "whatsapp_" + phone
}
