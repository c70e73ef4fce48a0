// Package discord implements the platform gateway against the Discord REST
// API: public threads for pull requests, messages into threads, channel
// notices for branch pushes.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-prbridge/core"
)

const (
	DefaultBaseURL = "https://discord.com/api/v10"

	// channelTypePublicThread is Discord's type 11.
	channelTypePublicThread = 11

	// threadNameLimit is Discord's hard cap on thread names.
	threadNameLimit = 100

	defaultAutoArchiveMinutes = 1440
)

type Gateway struct {
	Adapter core.TransportAdapter
	Policy  core.RateLimitPolicy
	Logger  core.Logger
	BaseURL string
	Token   string
	Timeout time.Duration

	// AutoArchiveMinutes controls Discord's thread auto-archive window.
	AutoArchiveMinutes int
}

type Options struct {
	Adapter core.TransportAdapter
	Policy  core.RateLimitPolicy
	Logger  core.Logger
	BaseURL string
	Token   string
}

func NewGateway(opts Options) (*Gateway, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("discord: transport adapter is required")
	}
	if strings.TrimSpace(opts.Token) == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Gateway{
		Adapter:            opts.Adapter,
		Policy:             opts.Policy,
		Logger:             glog.Ensure(opts.Logger),
		BaseURL:            baseURL,
		Token:              strings.TrimSpace(opts.Token),
		Timeout:            15 * time.Second,
		AutoArchiveMinutes: defaultAutoArchiveMinutes,
	}, nil
}

// CreateThread starts a public thread in the channel and returns its id.
func (g *Gateway) CreateThread(ctx context.Context, channelID string, name string) (string, error) {
	name = truncateThreadName(name)
	payload := map[string]any{
		"name":                  name,
		"type":                  channelTypePublicThread,
		"auto_archive_duration": g.autoArchiveMinutes(),
	}
	res, err := g.call(ctx, http.MethodPost, "/channels/"+strings.TrimSpace(channelID)+"/threads", channelID, "threads", payload)
	if err != nil {
		return "", err
	}
	var thread struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(res.Body, &thread); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryExternal, "discord: decode thread response").
			WithTextCode(core.RelayErrorOperationFailed)
	}
	if strings.TrimSpace(thread.ID) == "" {
		return "", goerrors.New("discord: thread response missing id", goerrors.CategoryExternal).
			WithTextCode(core.RelayErrorOperationFailed)
	}
	return thread.ID, nil
}

func (g *Gateway) PostMessage(ctx context.Context, threadID string, body string) error {
	_, err := g.call(ctx, http.MethodPost, "/channels/"+strings.TrimSpace(threadID)+"/messages", threadID, "messages", map[string]any{
		"content": body,
	})
	return err
}

// CloseThread archives the thread. Archiving an already-archived thread is
// accepted by Discord, which keeps the close path idempotent end to end.
func (g *Gateway) CloseThread(ctx context.Context, threadID string) error {
	_, err := g.call(ctx, http.MethodPatch, "/channels/"+strings.TrimSpace(threadID), threadID, "channel", map[string]any{
		"archived": true,
	})
	return err
}

func (g *Gateway) PostChannelMessage(ctx context.Context, channelID string, body string) error {
	_, err := g.call(ctx, http.MethodPost, "/channels/"+strings.TrimSpace(channelID)+"/messages", channelID, "messages", map[string]any{
		"content": body,
	})
	return err
}

func (g *Gateway) call(
	ctx context.Context,
	method string,
	path string,
	channelID string,
	bucket string,
	payload any,
) (core.TransportResponse, error) {
	if g == nil || g.Adapter == nil {
		return core.TransportResponse{}, fmt.Errorf("discord: gateway is not configured")
	}
	key := core.RateLimitKey{ProviderID: "discord", ChannelID: strings.TrimSpace(channelID), BucketKey: bucket}
	if g.Policy != nil {
		if err := g.Policy.BeforeCall(ctx, key); err != nil {
			return core.TransportResponse{}, err
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return core.TransportResponse{}, goerrors.Wrap(err, goerrors.CategoryInternal, "discord: encode request payload")
	}

	res, err := g.Adapter.Do(ctx, core.TransportRequest{
		Method: method,
		URL:    g.BaseURL + path,
		Headers: map[string]string{
			"Authorization": "Bot " + g.Token,
			"Content-Type":  "application/json",
		},
		Body:    body,
		Timeout: g.Timeout,
	})
	if err != nil {
		return core.TransportResponse{}, err
	}

	if g.Policy != nil {
		meta := core.ProviderResponseMeta{
			StatusCode: res.StatusCode,
			Headers:    res.Headers,
		}
		if retryAfter, ok := retryAfterFrom(res); ok {
			meta.RetryAfter = &retryAfter
		}
		if err := g.Policy.AfterCall(ctx, key, meta); err != nil {
			g.Logger.Warn("discord: rate limit bookkeeping failed", "error", err.Error())
		}
	}

	return res, g.classifyStatus(res, channelID)
}

func (g *Gateway) classifyStatus(res core.TransportResponse, channelID string) error {
	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return nil
	case res.StatusCode == http.StatusTooManyRequests:
		retryAfter, _ := retryAfterFrom(res)
		return core.RateLimitError{
			ProviderID: "discord",
			BucketKey:  strings.TrimSpace(channelID),
			RetryAfter: retryAfter,
		}
	case res.StatusCode == http.StatusNotFound:
		return core.NotFoundError{Resource: "channel", ID: strings.TrimSpace(channelID)}
	case res.StatusCode >= 500:
		return goerrors.New(
			fmt.Sprintf("discord: api returned status %d", res.StatusCode),
			goerrors.CategoryExternal,
		).WithCode(http.StatusBadGateway).WithTextCode(core.RelayErrorOperationFailed)
	default:
		return goerrors.New(
			fmt.Sprintf("discord: api rejected request with status %d: %s", res.StatusCode, strings.TrimSpace(string(res.Body))),
			goerrors.CategoryOperation,
		).WithCode(res.StatusCode).WithTextCode(core.RelayErrorOperationFailed)
	}
}

// retryAfterFrom reads the Retry-After header or the retry_after body field,
// both of which Discord sends as fractional seconds.
func retryAfterFrom(res core.TransportResponse) (time.Duration, bool) {
	for key, value := range res.Headers {
		if strings.EqualFold(strings.TrimSpace(key), "retry-after") {
			if seconds, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil && seconds > 0 {
				return time.Duration(seconds * float64(time.Second)), true
			}
		}
	}
	var body struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(res.Body, &body); err == nil && body.RetryAfter > 0 {
		return time.Duration(body.RetryAfter * float64(time.Second)), true
	}
	return 0, false
}

func truncateThreadName(name string) string {
	name = strings.TrimSpace(name)
	if len(name) <= threadNameLimit {
		return name
	}
	runes := []rune(name)
	if len(runes) <= threadNameLimit {
		return name
	}
	return string(runes[:threadNameLimit-1]) + "…"
}

func (g *Gateway) autoArchiveMinutes() int {
	if g != nil && g.AutoArchiveMinutes > 0 {
		return g.AutoArchiveMinutes
	}
	return defaultAutoArchiveMinutes
}

var _ core.Gateway = (*Gateway)(nil)
