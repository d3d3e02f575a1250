package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"loom/internal/history"
	"loom/internal/logging"
	"loom/internal/protocol"
	"loom/internal/transport"
	"loom/internal/types"
)

// Transport is the duplex connection the client drives. *transport.WS
// satisfies it.
type Transport interface {
	Connect(ctx context.Context, conversationID string) error
	Reconnect(conversationID string) error
	Send(out protocol.Outbound) error
	Disconnect()
	Destroy()
	State() types.ConnectionState
	ConversationID() string
}

// HistoryFetcher pages older messages over the HTTP side channel.
type HistoryFetcher interface {
	Page(ctx context.Context, conversationID, cursor string, limit int) (*history.PageResponse, error)
}

type Config struct {
	History  HistoryFetcher
	Sink     EventSink
	Logger   logging.Logger
	PageSize int

	// SendWaitTick and SendWaitTimeout bound how long SendMessage waits for
	// server readiness after a reconnect.
	SendWaitTick    time.Duration
	SendWaitTimeout time.Duration
}

// Client owns the canonical conversation state. Transport callbacks and user
// operations both funnel through it; every transition swaps the state pointer
// and fans the new snapshot out to subscribers and the sink.
//
// Local operations reach the sink with a nil event.
type Client struct {
	log         logging.Logger
	sink        EventSink
	history     HistoryFetcher
	pageSize    int
	sendTick    time.Duration
	sendTimeout time.Duration
	newID       func() string

	hub *stateHub

	mu             sync.Mutex
	transport      Transport
	state          *types.StreamState
	loadingHistory bool
}

var errNoTransport = errors.New("stream: no transport bound")

func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = history.DefaultPageLimit
	}
	if cfg.SendWaitTick <= 0 {
		cfg.SendWaitTick = 50 * time.Millisecond
	}
	if cfg.SendWaitTimeout <= 0 {
		cfg.SendWaitTimeout = 5 * time.Second
	}
	return &Client{
		log:         cfg.Logger,
		sink:        cfg.Sink,
		history:     cfg.History,
		pageSize:    cfg.PageSize,
		sendTick:    cfg.SendWaitTick,
		sendTimeout: cfg.SendWaitTimeout,
		newID:       uuid.NewString,
		hub:         newStateHub(),
		state:       types.NewStreamState(),
	}
}

// SetTransport binds the transport after construction. The transport needs
// the client as its handler, so the two are wired in this order: build the
// client, build the transport around it, then bind.
func (c *Client) SetTransport(t Transport) {
	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()
}

// State returns the current snapshot. Treat it as read-only; every
// transition replaces the pointer rather than mutating it.
func (c *Client) State() *types.StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers for state snapshots. The cancel func must be called
// when done.
func (c *Client) Subscribe() (<-chan *types.StreamState, func()) {
	return c.hub.Add()
}

// Connect attaches to a conversation. Switching to a different id clears
// conversation-scoped state first.
func (c *Client) Connect(ctx context.Context, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return errors.New("stream: conversation id is required")
	}
	c.mu.Lock()
	t := c.transport
	if t == nil {
		c.mu.Unlock()
		return errNoTransport
	}
	changed := false
	if c.state.ConversationID != conversationID {
		var next *types.StreamState
		if c.state.ConversationID == "" {
			next = types.CloneStreamState(c.state)
		} else {
			next = ResetConversation(c.state)
		}
		next.ConversationID = conversationID
		c.state = next
		changed = true
	}
	snapshot := c.state
	c.mu.Unlock()
	if changed {
		c.publish(snapshot, nil)
	}
	return t.Connect(ctx, conversationID)
}

// Reconnect is the manual recovery path out of the kicked and failed states.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	t := c.transport
	conversationID := c.state.ConversationID
	c.mu.Unlock()
	if t == nil {
		return errNoTransport
	}
	return t.Reconnect(conversationID)
}

// SendMessage appends the user message optimistically, then delivers it once
// the transport is connected and the server reports ready. Transport
// failures surface in state.Err rather than the return value; a terminal
// connection turns the send into a notice instead of an error.
func (c *Client) SendMessage(ctx context.Context, content string, attachments []types.Attachment) error {
	c.mu.Lock()
	t := c.transport
	cs := c.state.ConnectionState
	conversationID := c.state.ConversationID
	c.mu.Unlock()
	if t == nil {
		return errNoTransport
	}
	if cs.Terminal() {
		c.log.Warn("send blocked by terminal connection state", logging.F("state", string(cs)))
		c.sink.Notify(types.Notice{
			Kind:    types.NoticeSendBlocked,
			Message: "connection was closed by the server; reconnect to continue",
			Data:    map[string]any{"connectionState": string(cs)},
		})
		return nil
	}

	message := types.Message{
		ID:             c.newID(),
		ConversationID: conversationID,
		Role:           types.RoleUser,
		Content:        content,
		Attachments:    attachments,
		CreatedAt:      time.Now().UnixMilli(),
	}
	c.apply(func(state *types.StreamState) *types.StreamState {
		return ApplyOptimisticSend(state, message)
	})

	if cs == types.ConnectionDisconnected {
		if err := t.Reconnect(conversationID); err != nil {
			c.apply(func(state *types.StreamState) *types.StreamState {
				return ApplyOperationError(state, "SEND_FAILED", err.Error())
			})
			return nil
		}
	}
	if err := c.waitForReady(ctx); err != nil {
		if errors.Is(err, errSendBlocked) {
			c.sink.Notify(types.Notice{
				Kind:    types.NoticeSendBlocked,
				Message: "connection was closed by the server; reconnect to continue",
			})
			return nil
		}
		if errors.Is(err, errReadyTimeout) {
			c.apply(func(state *types.StreamState) *types.StreamState {
				return ApplyOperationError(state, "SEND_TIMEOUT", "server did not become ready in time")
			})
			return nil
		}
		return err
	}
	if err := t.Send(protocol.NewSendMessage(message.ID, content, attachments)); err != nil {
		c.apply(func(state *types.StreamState) *types.StreamState {
			return ApplyOperationError(state, "SEND_FAILED", err.Error())
		})
		return nil
	}
	return nil
}

var (
	errSendBlocked  = errors.New("stream: connection in terminal state")
	errReadyTimeout = errors.New("stream: server not ready")
)

// waitForReady polls until the transport is connected and the server has
// signalled readiness. Only context cancellation escapes as a plain error.
func (c *Client) waitForReady(ctx context.Context) error {
	deadline := time.Now().Add(c.sendTimeout)
	ticker := time.NewTicker(c.sendTick)
	defer ticker.Stop()
	for {
		c.mu.Lock()
		cs := c.state.ConnectionState
		ready := cs == types.ConnectionConnected && c.state.ServerReady
		c.mu.Unlock()
		if ready {
			return nil
		}
		if cs.Terminal() {
			return errSendBlocked
		}
		if time.Now().After(deadline) {
			return errReadyTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ResumeInterrupt answers the pending interrupt. A no-op when none is
// pending. The interrupt clears optimistically before the frame goes out.
func (c *Client) ResumeInterrupt(decision map[string]any) error {
	c.mu.Lock()
	t := c.transport
	var interruptID string
	if c.state.Interrupt != nil {
		interruptID = c.state.Interrupt.ID
	}
	c.mu.Unlock()
	if interruptID == "" {
		return nil
	}
	if t == nil {
		return errNoTransport
	}
	c.apply(ApplyInterruptResumed)
	if err := t.Send(protocol.NewResumeInterrupt(interruptID, decision)); err != nil {
		c.apply(func(state *types.StreamState) *types.StreamState {
			return ApplyOperationError(state, "RESUME_FAILED", err.Error())
		})
	}
	return nil
}

// Stop asks the server to halt the current turn. The busy flags clear even
// when the write fails; late events for the stopped turn still apply.
func (c *Client) Stop() {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t != nil {
		if err := t.Send(protocol.NewStop()); err != nil {
			c.log.Warn("stop frame not delivered", logging.F("error", err))
		}
	}
	c.apply(ApplyStopRequested)
}

// RetryMessage asks the server to retry a failed turn. A transport failure
// lands in state.RetryFailure rather than the return value.
func (c *Client) RetryMessage(turnID string) error {
	turnID = strings.TrimSpace(turnID)
	if turnID == "" {
		return errors.New("stream: turn id is required")
	}
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return errNoTransport
	}
	c.apply(func(state *types.StreamState) *types.StreamState {
		return ApplyRetryRequested(state, turnID)
	})
	if err := t.Send(protocol.NewRetry(turnID)); err != nil {
		c.apply(func(state *types.StreamState) *types.StreamState {
			return ApplyRetryFailure(state, turnID, protocol.RetryCodeFailed, err.Error())
		})
	}
	return nil
}

// LoadMoreMessages fetches the next older page and prepends it. Returns
// false when there is nothing further to load or a load is already running.
func (c *Client) LoadMoreMessages(ctx context.Context) (bool, error) {
	c.mu.Lock()
	fetcher := c.history
	conversationID := c.state.ConversationID
	pagination := c.state.Pagination
	if fetcher == nil || conversationID == "" || !pagination.HasMore || pagination.NextCursor == "" || c.loadingHistory {
		c.mu.Unlock()
		return false, nil
	}
	c.loadingHistory = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.loadingHistory = false
		c.mu.Unlock()
	}()

	page, err := fetcher.Page(ctx, conversationID, pagination.NextCursor, c.pageSize)
	if err != nil {
		return false, err
	}
	c.apply(func(state *types.StreamState) *types.StreamState {
		return MergeHistoryPage(state, page.Messages, page.Pagination)
	})
	return true, nil
}

// ResetConversation clears transcript state but keeps the connection.
func (c *Client) ResetConversation() {
	c.apply(ResetConversation)
}

// Reset drops the connection and restores the initial state.
func (c *Client) Reset() {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t != nil {
		t.Disconnect()
	}
	c.apply(Reset)
}

// Close tears the transport down for good. The client's state survives for
// inspection but no further events arrive.
func (c *Client) Close() {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t != nil {
		t.Destroy()
	}
}

// HandleEnvelope normalizes a raw frame and folds it into state. Unknown
// event types are dropped.
func (c *Client) HandleEnvelope(env protocol.Envelope) {
	event := protocol.Normalize(env)
	if event == nil {
		c.log.Debug("dropping unrecognized stream event", logging.F("type", env.Type))
		return
	}
	c.mu.Lock()
	next := Reduce(c.state, event)
	changed := next != c.state
	c.state = next
	c.mu.Unlock()
	if changed {
		c.hub.Broadcast(next)
	}
	c.sink.StateChanged(next, event)
	if notice := noticeFor(event); notice != nil {
		c.sink.Notify(*notice)
	}
}

// HandleConnectionState folds transport transitions into state. The kicked
// and failed states absorb everything except an explicit new dial, which
// shows up as connecting.
func (c *Client) HandleConnectionState(cs types.ConnectionState) {
	c.mu.Lock()
	current := c.state.ConnectionState
	if current == cs {
		c.mu.Unlock()
		return
	}
	if current.Terminal() && cs != types.ConnectionConnecting && cs != types.ConnectionConnected {
		c.mu.Unlock()
		return
	}
	next := ApplyConnectionState(c.state, cs)
	c.state = next
	c.mu.Unlock()
	c.publish(next, nil)
}

func (c *Client) HandleServerUnavailable() {
	c.sink.Notify(types.Notice{
		Kind:    types.NoticeServerUnavailable,
		Message: "server unreachable; retrying",
	})
}

func (c *Client) HandleMaxReconnectReached(info transport.ReconnectInfo) {
	c.log.Warn("reconnect attempts exhausted",
		logging.F("conversation", info.ConversationID),
		logging.F("attempts", info.Attempts))
	c.sink.Notify(types.Notice{
		Kind:    types.NoticeServerUnavailable,
		Message: "gave up reconnecting; reconnect manually to continue",
		Data:    map[string]any{"attempts": info.Attempts},
	})
}

// apply runs a local state operation and fans out the result when it
// produced a new snapshot.
func (c *Client) apply(op func(*types.StreamState) *types.StreamState) {
	c.mu.Lock()
	next := op(c.state)
	changed := next != c.state
	c.state = next
	c.mu.Unlock()
	if changed {
		c.publish(next, nil)
	}
}

func (c *Client) publish(state *types.StreamState, event protocol.Event) {
	c.hub.Broadcast(state)
	c.sink.StateChanged(state, event)
}
