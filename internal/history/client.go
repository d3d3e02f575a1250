// Package history is the HTTP side-channel for paging older conversation
// messages. The duplex stream never replays deep history; this client does.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"loom/internal/logging"
	"loom/internal/types"
)

const DefaultPageLimit = 50

type Client struct {
	baseURL   string
	tokenPath string
	token     string
	http      *http.Client
	log       logging.Logger
}

func New(baseURL, tokenPath string, log logging.Logger) *Client {
	if log == nil {
		log = logging.Nop()
	}
	c := &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		tokenPath: tokenPath,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
	_ = c.loadToken()
	return c
}

func NewWithToken(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: logging.Nop(),
	}
}

type PageResponse struct {
	Messages   []types.Message  `json:"messages"`
	Pagination types.Pagination `json:"pagination"`
}

// Page fetches one page of messages older than the cursor. An empty cursor
// asks for the newest page.
func (c *Client) Page(ctx context.Context, conversationID, cursor string, limit int) (*PageResponse, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, errors.New("conversation id is required")
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if strings.TrimSpace(cursor) != "" {
		query.Set("cursor", cursor)
	}
	path := fmt.Sprintf("/v1/conversations/%s/messages?%s", url.PathEscape(conversationID), query.Encode())
	var resp PageResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, true, &resp); err != nil {
		return nil, err
	}
	c.log.Debug("history page fetched",
		logging.F("conversation", conversationID),
		logging.F("messages", len(resp.Messages)),
		logging.F("hasMore", resp.Pagination.HasMore))
	return &resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, requireAuth bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if requireAuth {
		if err := c.ensureToken(); err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) ensureToken() error {
	if strings.TrimSpace(c.token) == "" {
		if err := c.loadToken(); err != nil {
			return err
		}
	}
	if strings.TrimSpace(c.token) == "" {
		return errors.New("token not found; set one in config or the token file")
	}
	return nil
}

func (c *Client) loadToken() error {
	if strings.TrimSpace(c.tokenPath) == "" {
		return nil
	}
	data, err := os.ReadFile(c.tokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			c.token = ""
			return nil
		}
		return err
	}
	c.token = strings.TrimSpace(string(data))
	return nil
}

func decodeAPIError(resp *http.Response) error {
	type errorPayload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	var payload errorPayload
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	message := payload.Error
	if message == "" {
		message = payload.Message
	}
	if message == "" {
		message = resp.Status
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}
