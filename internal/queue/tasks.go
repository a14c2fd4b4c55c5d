package queue

import "github.com/nikhilbhutani/agroplatform/internal/mail"

const (
	TypeMailSend = "mail:send"
)

const QueueCritical = "critical"

type MailSendPayload struct {
	Message mail.Message `json:"message"`
}
