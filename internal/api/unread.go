package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/rickgao/crm-realtime/internal/model"
	"github.com/rickgao/crm-realtime/internal/version"
)

const unreadCountsPath = "/api/conversations/unread-counts"

// ErrMalformed is returned when the unread counts body cannot be decoded.
// It is never retried.
var ErrMalformed = errors.New("malformed unread counts")

// unreadCountsResponse is the body of GET /api/conversations/unread-counts.
type unreadCountsResponse struct {
	Counts []struct {
		ConversationID string `json:"conversationId"`
		Unread         int    `json:"unread"`
	} `json:"counts"`
}

// UnreadCounts returns one entry per requested conversation, in request order.
// Conversations the server omits are reported as zero. An empty id list
// makes no request.
//
// Rate limits, server errors and transport failures are retried up to
// MaxRetries times; other client errors and malformed bodies fail at once.
func (c *Client) UnreadCounts(ctx context.Context, conversationIDs []string) ([]model.UnreadCount, error) {
	if len(conversationIDs) == 0 {
		return []model.UnreadCount{}, nil
	}

	var (
		resp *unreadCountsResponse
		err  error
	)
	for attempt := 1; ; attempt++ {
		resp, err = c.fetchUnread(ctx, conversationIDs)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable(err) || attempt > c.cfg.MaxRetries {
			return nil, fmt.Errorf("unread counts after %d attempts: %w", attempt, err)
		}

		delay := c.retryDelay(err, attempt)
		c.logger.Debug("unread counts retry",
			"attempt", attempt,
			"delay", delay,
			"conversations", len(conversationIDs),
			"error", err,
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	byID := make(map[string]int, len(resp.Counts))
	for _, uc := range resp.Counts {
		byID[uc.ConversationID] = uc.Unread
	}

	out := make([]model.UnreadCount, len(conversationIDs))
	for i, id := range conversationIDs {
		out[i] = model.UnreadCount{ConversationID: id, Unread: byID[id]}
	}
	return out, nil
}

func (c *Client) fetchUnread(ctx context.Context, ids []string) (*unreadCountsResponse, error) {
	query := url.Values{"ids": {strings.Join(ids, ",")}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+unreadCountsPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, vs := range c.cfg.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", version.UserAgent())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       body,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	var out unreadCountsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &out, nil
}

func retryable(err error) bool {
	if errors.Is(err, ErrMalformed) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

// retryDelay is the wait before the retry following attempt. A server
// supplied Retry-After wins over the jittered backoff.
func (c *Client) retryDelay(err error, attempt int) time.Duration {
	var se *StatusError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		return c.capDelay(se.RetryAfter)
	}

	d := c.cfg.RetryBackoff
	if d <= 0 {
		return 0
	}
	for i := 1; i < attempt && (c.cfg.MaxRetryDelay == 0 || d < c.cfg.MaxRetryDelay); i++ {
		d *= 2
	}
	// 0.5x to 1.5x
	d = d/2 + time.Duration(rand.Int63n(int64(d)))
	return c.capDelay(d)
}

func (c *Client) capDelay(d time.Duration) time.Duration {
	if c.cfg.MaxRetryDelay > 0 && d > c.cfg.MaxRetryDelay {
		return c.cfg.MaxRetryDelay
	}
	return d
}

// parseRetryAfter reads delay-seconds or an HTTP date. Anything else is 0.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
