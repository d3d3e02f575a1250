package protocol

import "loom/internal/types"

// Retry failure codes the server sends when a turn cannot be retried. These
// route to a dedicated retry-failed state rather than the generic error path.
const (
	RetryCodeLimitExceeded   = "RETRY_LIMIT_EXCEEDED"
	RetryCodeFailed          = "RETRY_FAILED"
	RetryCodeMessageNotFound = "MESSAGE_NOT_FOUND"
)

func IsRetryFailureCode(code string) bool {
	switch code {
	case RetryCodeLimitExceeded, RetryCodeFailed, RetryCodeMessageNotFound:
		return true
	default:
		return false
	}
}

// Outbound is one client-to-server frame.
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type sendMessageData struct {
	MessageID   string             `json:"messageId,omitempty"`
	Content     string             `json:"content"`
	Attachments []types.Attachment `json:"attachments,omitempty"`
}

type resumeInterruptData struct {
	InterruptID string         `json:"interruptId"`
	Decision    map[string]any `json:"decision,omitempty"`
}

type retryData struct {
	TurnID string `json:"turnId"`
}

func NewSendMessage(messageID, content string, attachments []types.Attachment) Outbound {
	return Outbound{
		Type: "send_message",
		Data: sendMessageData{MessageID: messageID, Content: content, Attachments: attachments},
	}
}

func NewResumeInterrupt(interruptID string, decision map[string]any) Outbound {
	return Outbound{
		Type: "resume_interrupt",
		Data: resumeInterruptData{InterruptID: interruptID, Decision: decision},
	}
}

func NewStop() Outbound {
	return Outbound{Type: "stop"}
}

func NewRetry(turnID string) Outbound {
	return Outbound{Type: "retry_message", Data: retryData{TurnID: turnID}}
}
