package types

type NoticeKind string

const (
	NoticeServerUnavailable NoticeKind = "server_unavailable"
	NoticeSessionReplaced   NoticeKind = "session_replaced"
	NoticeForceLogout       NoticeKind = "force_logout"
	NoticeRateLimited       NoticeKind = "rate_limited"
	NoticeToolRetry         NoticeKind = "tool_retry"
	NoticeModelRetry        NoticeKind = "model_retry"
	NoticeContentSaved      NoticeKind = "content_saved"
	NoticeContentRendered   NoticeKind = "content_rendered"
	NoticeContentPublished  NoticeKind = "content_published"
	NoticeSendBlocked       NoticeKind = "send_blocked"
	NoticeRetryFailed       NoticeKind = "retry_failed"
	NoticeError             NoticeKind = "error"
)

// Notice is a cross-cutting side notification emitted alongside state
// transitions, for consumers that surface toasts/banners outside the
// transcript itself.
type Notice struct {
	Kind    NoticeKind     `json:"kind"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}
