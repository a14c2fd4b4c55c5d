// Package mail defines outbound mail and its SMTP delivery.
package mail

import "context"

type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}

// Sender hands a message off for delivery.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
