// Package github reduces raw GitHub webhook payloads to the canonical events
// the relay core consumes. It is a pure transform: no network, no state.
package github

import (
	"encoding/json"
	"strings"

	"github.com/goliatone/go-prbridge/core"
)

const (
	// DeliveryIDHeader carries GitHub's unique id for one delivery attempt.
	// Redeliveries reuse the id, which is what makes dedup possible.
	DeliveryIDHeader = "X-GitHub-Delivery"
	eventTypeHeader  = "X-GitHub-Event"
)

type repositoryRef struct {
	FullName string `json:"full_name"`
}

type userRef struct {
	Login string `json:"login"`
}

type pullRequestPayload struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Number  int     `json:"number"`
		Title   string  `json:"title"`
		HTMLURL string  `json:"html_url"`
		Merged  bool    `json:"merged"`
		User    userRef `json:"user"`
	} `json:"pull_request"`
	Repository repositoryRef `json:"repository"`
}

type issueCommentPayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number      int    `json:"number"`
		Title       string `json:"title"`
		PullRequest *struct {
			URL string `json:"url"`
		} `json:"pull_request"`
	} `json:"issue"`
	Comment struct {
		Body string  `json:"body"`
		User userRef `json:"user"`
	} `json:"comment"`
	Repository repositoryRef `json:"repository"`
}

type pushPayload struct {
	Ref        string        `json:"ref"`
	Repository repositoryRef `json:"repository"`
	Pusher     struct {
		Name string `json:"name"`
	} `json:"pusher"`
	HeadCommit *struct {
		Message string `json:"message"`
	} `json:"head_commit"`
}

type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

func (n *Normalizer) Normalize(req core.InboundRequest) (core.NormalizedEvent, error) {
	eventType := strings.TrimSpace(req.EventType)
	if eventType == "" {
		eventType = headerValue(req.Headers, eventTypeHeader)
	}
	deliveryID := headerValue(req.Headers, DeliveryIDHeader)

	switch strings.ToLower(eventType) {
	case "pull_request":
		return n.normalizePullRequest(req.Body, deliveryID)
	case "issue_comment":
		return n.normalizeIssueComment(req.Body, deliveryID)
	case "push":
		return n.normalizePush(req.Body, deliveryID)
	default:
		// Ping, stars, workflow noise. Acknowledge and move on.
		return core.NormalizedEvent{Kind: core.EventIgnored, DeliveryID: deliveryID}, nil
	}
}

func (n *Normalizer) normalizePullRequest(body []byte, deliveryID string) (core.NormalizedEvent, error) {
	var payload pullRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return core.NormalizedEvent{}, core.MalformedPayloadError{Reason: "pull_request payload is not valid JSON", Cause: err}
	}
	repo := strings.TrimSpace(payload.Repository.FullName)
	if repo == "" {
		return core.NormalizedEvent{}, core.MalformedPayloadError{Reason: "pull_request payload missing repository.full_name"}
	}
	number := payload.PullRequest.Number
	if number == 0 {
		number = payload.Number
	}
	if number <= 0 {
		return core.NormalizedEvent{}, core.MalformedPayloadError{Reason: "pull_request payload missing pull request number"}
	}

	event := core.NormalizedEvent{
		DeliveryID: deliveryID,
		Repo:       repo,
		Number:     number,
		Title:      strings.TrimSpace(payload.PullRequest.Title),
		URL:        strings.TrimSpace(payload.PullRequest.HTMLURL),
		Author:     strings.TrimSpace(payload.PullRequest.User.Login),
		Merged:     payload.PullRequest.Merged,
	}
	switch strings.ToLower(strings.TrimSpace(payload.Action)) {
	case "opened":
		event.Kind = core.EventPROpened
	case "closed":
		event.Kind = core.EventPRClosed
	case "reopened":
		event.Kind = core.EventPRReopened
	default:
		// Synchronize, labeled, review_requested and friends.
		event.Kind = core.EventIgnored
	}
	return event, nil
}

func (n *Normalizer) normalizeIssueComment(body []byte, deliveryID string) (core.NormalizedEvent, error) {
	var payload issueCommentPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return core.NormalizedEvent{}, core.MalformedPayloadError{Reason: "issue_comment payload is not valid JSON", Cause: err}
	}
	if !strings.EqualFold(strings.TrimSpace(payload.Action), "created") {
		return core.NormalizedEvent{Kind: core.EventIgnored, DeliveryID: deliveryID}, nil
	}
	if payload.Issue.PullRequest == nil {
		// Plain issue comment; the relay only mirrors pull requests.
		return core.NormalizedEvent{Kind: core.EventIgnored, DeliveryID: deliveryID}, nil
	}
	repo := strings.TrimSpace(payload.Repository.FullName)
	if repo == "" {
		return core.NormalizedEvent{}, core.MalformedPayloadError{Reason: "issue_comment payload missing repository.full_name"}
	}
	if payload.Issue.Number <= 0 {
		return core.NormalizedEvent{}, core.MalformedPayloadError{Reason: "issue_comment payload missing issue number"}
	}

	return core.NormalizedEvent{
		Kind:       core.EventPRCommented,
		DeliveryID: deliveryID,
		Repo:       repo,
		Number:     payload.Issue.Number,
		Title:      strings.TrimSpace(payload.Issue.Title),
		Author:     strings.TrimSpace(payload.Comment.User.Login),
		Body:       payload.Comment.Body,
	}, nil
}

func (n *Normalizer) normalizePush(body []byte, deliveryID string) (core.NormalizedEvent, error) {
	var payload pushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return core.NormalizedEvent{}, core.MalformedPayloadError{Reason: "push payload is not valid JSON", Cause: err}
	}
	repo := strings.TrimSpace(payload.Repository.FullName)
	if repo == "" {
		return core.NormalizedEvent{}, core.MalformedPayloadError{Reason: "push payload missing repository.full_name"}
	}
	branch, ok := branchFromRef(payload.Ref)
	if !ok {
		// Tag pushes and other refs carry no branch to watch.
		return core.NormalizedEvent{Kind: core.EventIgnored, DeliveryID: deliveryID}, nil
	}

	event := core.NormalizedEvent{
		Kind:       core.EventBranchPushed,
		DeliveryID: deliveryID,
		Repo:       repo,
		Branch:     branch,
		Pusher:     strings.TrimSpace(payload.Pusher.Name),
	}
	if payload.HeadCommit != nil {
		event.Summary = firstLine(payload.HeadCommit.Message)
	}
	return event, nil
}

func branchFromRef(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	const prefix = "refs/heads/"
	if !strings.HasPrefix(ref, prefix) {
		return "", false
	}
	branch := strings.TrimPrefix(ref, prefix)
	if branch == "" {
		return "", false
	}
	return branch, true
}

func firstLine(message string) string {
	message = strings.TrimSpace(message)
	if idx := strings.IndexByte(message, '\n'); idx >= 0 {
		message = message[:idx]
	}
	return strings.TrimSpace(message)
}

func headerValue(headers map[string]string, name string) string {
	if len(headers) == 0 {
		return ""
	}
	if value, ok := headers[name]; ok {
		return strings.TrimSpace(value)
	}
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

var _ core.Normalizer = (*Normalizer)(nil)
