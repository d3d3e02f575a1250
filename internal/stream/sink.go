package stream

import (
	"loom/internal/protocol"
	"loom/internal/types"
)

// EventSink receives the outcome of every canonical transition plus
// cross-cutting side notifications. It decouples the core from whatever
// notification surface the consumer has.
type EventSink interface {
	StateChanged(state *types.StreamState, event protocol.Event)
	Notify(notice types.Notice)
}

type NopSink struct{}

func (NopSink) StateChanged(*types.StreamState, protocol.Event) {}
func (NopSink) Notify(types.Notice)                             {}

// MultiSink fans out to several sinks in order.
type MultiSink []EventSink

func (sinks MultiSink) StateChanged(state *types.StreamState, event protocol.Event) {
	for _, sink := range sinks {
		if sink != nil {
			sink.StateChanged(state, event)
		}
	}
}

func (sinks MultiSink) Notify(notice types.Notice) {
	for _, sink := range sinks {
		if sink != nil {
			sink.Notify(notice)
		}
	}
}

// noticeFor maps the event kinds that carry a cross-cutting side effect to
// their notification. Most events produce none.
func noticeFor(event protocol.Event) *types.Notice {
	switch ev := event.(type) {
	case *protocol.SessionReplacedEvent:
		return &types.Notice{Kind: types.NoticeSessionReplaced, Message: ev.Reason}
	case *protocol.ForceLogoutEvent:
		return &types.Notice{Kind: types.NoticeForceLogout, Message: ev.Reason}
	case *protocol.RateLimitedEvent:
		return &types.Notice{
			Kind:    types.NoticeRateLimited,
			Message: ev.Message,
			Data:    map[string]any{"retryAfterMs": ev.RetryAfterMs},
		}
	case *protocol.ToolRetryEvent:
		return &types.Notice{
			Kind:    types.NoticeToolRetry,
			Message: ev.Reason,
			Data: map[string]any{
				"toolCallId":  ev.ToolCallID,
				"toolName":    ev.ToolName,
				"attempt":     ev.Attempt,
				"maxAttempts": ev.MaxAttempts,
			},
		}
	case *protocol.ModelRetryEvent:
		return &types.Notice{
			Kind:    types.NoticeModelRetry,
			Message: ev.Reason,
			Data: map[string]any{
				"attempt":     ev.Attempt,
				"maxAttempts": ev.MaxAttempts,
				"delayMs":     ev.DelayMs,
			},
		}
	case *protocol.ContentEvent:
		kind := types.NoticeContentSaved
		switch ev.Phase {
		case protocol.ContentPhaseRendered:
			kind = types.NoticeContentRendered
		case protocol.ContentPhasePublished:
			kind = types.NoticeContentPublished
		}
		return &types.Notice{
			Kind:    kind,
			Message: ev.Title,
			Data:    map[string]any{"contentId": ev.ContentID, "url": ev.URL},
		}
	case *protocol.ErrorEvent:
		if protocol.IsRetryFailureCode(ev.Code) {
			return &types.Notice{
				Kind:    types.NoticeRetryFailed,
				Message: ev.Message,
				Data:    map[string]any{"code": ev.Code, "turnId": ev.TurnID},
			}
		}
		return &types.Notice{
			Kind:    types.NoticeError,
			Message: ev.Message,
			Data:    map[string]any{"code": ev.Code},
		}
	default:
		return nil
	}
}
