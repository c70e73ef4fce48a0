package prbridge

import (
	"fmt"
	"strings"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-prbridge/core"
	"github.com/goliatone/go-prbridge/discord"
	"github.com/goliatone/go-prbridge/dispatch"
	"github.com/goliatone/go-prbridge/github"
	"github.com/goliatone/go-prbridge/ratelimit"
	"github.com/goliatone/go-prbridge/transport"
)

// RelayOptions configures the full Discord-backed assembly.
type RelayOptions struct {
	// BotToken authenticates outbound Discord calls.
	BotToken string

	// BaseURL overrides the Discord API root, mostly for tests.
	BaseURL string

	// HTTPClient defaults to a timeout-bounded http.Client when nil.
	HTTPClient transport.HTTPDoer

	Logger core.Logger

	// RateLimits defaults to the in-memory state store. Multi-process
	// deployments share limits by supplying a durable store here.
	RateLimits ratelimit.StateStore

	// Options are appended after the assembly's own wiring, so embedders can
	// still swap the record store, metrics recorder, or normalizer.
	Options []Option
}

// NewDiscordRelay wires the production stack around the core service: REST
// transport, adaptive rate-limit policy, the Discord gateway, and per-key
// dispatch lanes sized from the config. Embedders that bring their own
// gateway or dispatcher use NewService directly.
func NewDiscordRelay(cfg Config, opts RelayOptions) (*Service, error) {
	if strings.TrimSpace(opts.BotToken) == "" {
		return nil, fmt.Errorf("prbridge: discord bot token is required")
	}
	logger := glog.Ensure(opts.Logger)

	limits := opts.RateLimits
	if limits == nil {
		limits = ratelimit.NewMemoryStateStore()
	}

	gateway, err := discord.NewGateway(discord.Options{
		Adapter: transport.NewRESTAdapter(opts.HTTPClient),
		Policy:  ratelimit.NewAdaptivePolicy(limits),
		Logger:  logger,
		BaseURL: opts.BaseURL,
		Token:   opts.BotToken,
	})
	if err != nil {
		return nil, err
	}

	lanes := dispatch.FromConfig(cfg.Dispatch, logger)

	serviceOpts := append([]Option{
		WithLogger(logger),
		WithGateway(gateway),
		WithDispatcher(lanes),
		WithNormalizer(github.NewNormalizer()),
	}, opts.Options...)

	return NewService(cfg, serviceOpts...)
}
