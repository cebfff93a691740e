package vrchat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/GoCodeAlone/modular"
	retry "github.com/avast/retry-go"
	cache "github.com/patrickmn/go-cache"
	"github.com/samber/lo"

	"github.com/Cynacedia/VRC-Event-Creator/modules/autopublish"
)

const (
	publishAttempts = 3
	publishRetryGap = 500 * time.Millisecond
	maxErrorBody    = 64 << 10
)

// Hooks receive transport outcomes. The module uses them to emit
// observer events without the client knowing about the framework.
type Hooks struct {
	OnPublished func(targetID, eventID string)
	OnFailed    func(targetID string, err error)
}

// Client talks to the VRChat group-calendar API. It implements both
// autopublish.EventPublisher and autopublish.RemoteCalendar.
//
// Publishes are retried on network errors and 5xx responses only;
// 4xx responses, including the 429 rate limit, surface immediately so
// the caller's backoff logic sees them on the first hit. Upcoming-event
// listings are cached per target and invalidated after a successful
// publish so reconciliation sees the new event.
type Client struct {
	cfg      *VRChatConfig
	httpc    *http.Client
	logger   modular.Logger
	listing  *cache.Cache
	hooks    Hooks
	retryGap time.Duration
}

// NewClient builds a live API client from the module configuration.
func NewClient(cfg *VRChatConfig, logger modular.Logger, hooks Hooks) *Client {
	ttl := cfg.ListCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Client{
		cfg:      cfg,
		httpc:    &http.Client{Timeout: cfg.RequestTimeout},
		logger:   logger,
		listing:  cache.New(ttl, 2*ttl),
		hooks:    hooks,
		retryGap: publishRetryGap,
	}
}

type eventRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	StartsAt    string `json:"startsAt"`
	EndsAt      string `json:"endsAt"`
}

type eventResponse struct {
	ID string `json:"id"`
}

type remoteEventDTO struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	StartsAt time.Time `json:"startsAt"`
}

type errorEnvelope struct {
	Error struct {
		Message    string `json:"message"`
		StatusCode int    `json:"status_code"`
	} `json:"error"`
}

// PublishEvent creates a calendar event and returns the remote event id.
func (c *Client) PublishEvent(ctx context.Context, targetID string, details autopublish.EventDetails, startsAt, endsAt time.Time) (string, error) {
	body, err := json.Marshal(eventRequest{
		Title:       details.Title,
		Description: details.Description,
		StartsAt:    startsAt.UTC().Format(time.RFC3339),
		EndsAt:      endsAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}

	var eventID string
	err = retry.Do(
		func() error {
			id, postErr := c.postEvent(ctx, targetID, body)
			if postErr != nil {
				return postErr
			}
			eventID = id
			return nil
		},
		retry.Attempts(publishAttempts),
		retry.Delay(c.retryGap),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(retryablePublishError),
	)
	if err != nil {
		c.logger.Warn("VRChat publish failed", "target", targetID, "error", err)
		if c.hooks.OnFailed != nil {
			c.hooks.OnFailed(targetID, err)
		}
		return "", err
	}

	c.listing.Delete(targetID)
	c.logger.Info("VRChat event published", "target", targetID, "eventId", eventID)
	if c.hooks.OnPublished != nil {
		c.hooks.OnPublished(targetID, eventID)
	}
	return eventID, nil
}

// UpcomingEvents lists the target's upcoming calendar events, serving
// from the per-target cache when fresh.
func (c *Client) UpcomingEvents(ctx context.Context, targetID string) ([]autopublish.RemoteEvent, error) {
	if cached, ok := c.listing.Get(targetID); ok {
		return cached.([]autopublish.RemoteEvent), nil
	}

	endpoint := fmt.Sprintf("%s/calendar/%s/events?upcoming=true", c.baseURL(), url.PathEscape(targetID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.decorate(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp)
	}

	var dto []remoteEventDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return nil, fmt.Errorf("decode event list: %w", err)
	}
	events := lo.Map(dto, func(d remoteEventDTO, _ int) autopublish.RemoteEvent {
		return autopublish.RemoteEvent{ID: d.ID, Title: d.Title, StartsAt: d.StartsAt.UTC()}
	})
	c.listing.Set(targetID, events, cache.DefaultExpiration)
	return events, nil
}

func (c *Client) postEvent(ctx context.Context, targetID string, body []byte) (string, error) {
	endpoint := fmt.Sprintf("%s/calendar/%s/event", c.baseURL(), url.PathEscape(targetID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	c.decorate(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", parseAPIError(resp)
	}

	var out eventResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.ID == "" {
		return "", ErrEmptyEventID
	}
	return out.ID, nil
}

func (c *Client) baseURL() string {
	return strings.TrimRight(c.cfg.BaseURL, "/")
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if c.cfg.AuthCookie != "" {
		req.AddCookie(&http.Cookie{Name: "auth", Value: c.cfg.AuthCookie})
	}
}

// retryablePublishError reports whether a publish attempt should be
// retried. Network-level failures and 5xx responses are transient;
// anything the API rejected outright is not.
func retryablePublishError(err error) bool {
	var pe *autopublish.PublishError
	if errors.As(err, &pe) {
		return pe.StatusCode >= 500
	}
	return true
}

// parseAPIError maps an error response onto a PublishError, surfacing
// the UPCOMING_LIMIT: message prefix as a structured code.
func parseAPIError(resp *http.Response) *autopublish.PublishError {
	pe := &autopublish.PublishError{StatusCode: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var envelope errorEnvelope
	if json.Unmarshal(data, &envelope) == nil && envelope.Error.Message != "" {
		pe.Message = envelope.Error.Message
		if envelope.Error.StatusCode != 0 {
			pe.StatusCode = envelope.Error.StatusCode
		}
	} else {
		pe.Message = strings.TrimSpace(string(data))
	}

	if rest, found := strings.CutPrefix(pe.Message, "UPCOMING_LIMIT:"); found {
		pe.Code = "UPCOMING_LIMIT"
		pe.Message = strings.TrimSpace(rest)
	}
	if pe.Message == "" {
		pe.Message = resp.Status
	}
	return pe
}
