package push

import "fmt"

// MultiSender routes a push to the platform-specific Sender registered for
// its target's platform.
type MultiSender struct {
	senders map[string]Sender
}

// NewMultiSender creates a MultiSender from a map of platform name
// ("fcm", "apns") to Sender. At least one sender should be provided.
func NewMultiSender(senders map[string]Sender) *MultiSender {
	return &MultiSender{senders: senders}
}

// Send delegates to the sender registered for platform.
func (m *MultiSender) Send(platform, token string, payload Payload) error {
	s, ok := m.senders[platform]
	if !ok {
		return fmt.Errorf("push: no sender configured for platform %q", platform)
	}
	return s.Send(platform, token, payload)
}
