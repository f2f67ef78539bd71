package audience

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/go-querystring/query"
	"golang.org/x/time/rate"

	"github.com/mailchimp/Firebase/internal/config"
	"github.com/mailchimp/Firebase/internal/delta"
	"github.com/mailchimp/Firebase/internal/metrics"
)

// Operation names, used as metric labels.
const (
	OpAddMember         = "add_member"
	OpDeleteMember      = "delete_member"
	OpUpdateMemberTags  = "update_member_tags"
	OpSetMember         = "set_member"
	OpCreateMemberEvent = "create_member_event"
)

// Client is the subset of the audience API the sync engine uses.
type Client interface {
	AddMember(ctx context.Context, listID string, req AddMemberRequest) (Member, error)
	DeleteMember(ctx context.Context, listID, subscriberHash string) error
	UpdateMemberTags(ctx context.Context, listID, subscriberHash string, tags []delta.TagChange) error
	SetMember(ctx context.Context, listID, subscriberHash string, req SetMemberRequest) error
	CreateMemberEvent(ctx context.Context, listID, subscriberHash, name string) error
}

// Member is the part of a member record the engine reads back.
type Member struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
	Status       string `json:"status"`
}

// AddMemberRequest creates a member.
type AddMemberRequest struct {
	EmailAddress string `json:"email_address"`
	Status       string `json:"status"`
}

// SetMemberRequest upserts a member. Status is only sent when it changes.
type SetMemberRequest struct {
	EmailAddress string         `json:"email_address,omitempty"`
	StatusIfNew  string         `json:"status_if_new,omitempty"`
	Status       string         `json:"status,omitempty"`
	MergeFields  map[string]any `json:"merge_fields,omitempty"`
}

// memberParams are the query parameters accepted by member writes.
type memberParams struct {
	SkipMergeValidation bool `url:"skip_merge_validation,omitempty"`
}

// HTTPClient implements Client over HTTPS.
type HTTPClient struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	metrics *metrics.Collector
	params  memberParams
}

var _ Client = (*HTTPClient)(nil)

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithBaseURL overrides the data-center URL derived from the credentials.
func WithBaseURL(u string) Option {
	return func(c *HTTPClient) {
		if parsed, err := url.Parse(u); err == nil {
			c.baseURL = parsed
		}
	}
}

// WithHTTPClient sets the underlying transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *HTTPClient) { c.http = h }
}

// WithRateLimit bounds outgoing requests. A zero limit disables limiting.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *HTTPClient) {
		if limit == 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithMetrics counts every call by operation and outcome.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *HTTPClient) { c.metrics = m }
}

// WithSkipMergeValidation lets writes succeed when required merge fields
// are missing.
func WithSkipMergeValidation(skip bool) Option {
	return func(c *HTTPClient) { c.params.SkipMergeValidation = skip }
}

// NewClient returns a client for the data center named in creds.
func NewClient(creds config.Credentials, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: &url.URL{Scheme: "https", Host: creds.Server + ".api.mailchimp.com", Path: "/3.0"},
		apiKey:  creds.Key + "-" + creds.Server,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddMember creates a member. It fails with an AlreadyExists error when the
// address is already in the audience.
func (c *HTTPClient) AddMember(ctx context.Context, listID string, req AddMemberRequest) (Member, error) {
	var m Member
	err := c.do(ctx, OpAddMember, http.MethodPost, memberPath(listID, ""), c.params, req, &m)
	return m, err
}

// DeleteMember archives a member.
func (c *HTTPClient) DeleteMember(ctx context.Context, listID, subscriberHash string) error {
	return c.do(ctx, OpDeleteMember, http.MethodDelete, memberPath(listID, subscriberHash), nil, nil, nil)
}

// UpdateMemberTags activates and deactivates tags.
func (c *HTTPClient) UpdateMemberTags(ctx context.Context, listID, subscriberHash string, tags []delta.TagChange) error {
	body := struct {
		Tags []delta.TagChange `json:"tags"`
	}{Tags: tags}
	return c.do(ctx, OpUpdateMemberTags, http.MethodPost, memberPath(listID, subscriberHash)+"/tags", nil, body, nil)
}

// SetMember adds or updates a member.
func (c *HTTPClient) SetMember(ctx context.Context, listID, subscriberHash string, req SetMemberRequest) error {
	return c.do(ctx, OpSetMember, http.MethodPut, memberPath(listID, subscriberHash), c.params, req, nil)
}

// CreateMemberEvent records a named event on a member.
func (c *HTTPClient) CreateMemberEvent(ctx context.Context, listID, subscriberHash, name string) error {
	body := struct {
		Name string `json:"name"`
	}{Name: name}
	return c.do(ctx, OpCreateMemberEvent, http.MethodPost, memberPath(listID, subscriberHash)+"/events", nil, body, nil)
}

func memberPath(listID, subscriberHash string) string {
	p := "/lists/" + listID + "/members"
	if subscriberHash != "" {
		p += "/" + subscriberHash
	}
	return p
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, params, body, out any) (err error) {
	defer func() {
		c.metrics.RemoteCall(op, outcome(err))
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if params != nil {
		v, err := query.Values(params)
		if err != nil {
			return fmt.Errorf("%s: encode query: %w", op, err)
		}
		u.RawQuery = v.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.SetBasicAuth("mcsync", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if len(data) > 0 {
		_ = json.Unmarshal(data, apiErr)
	}
	if apiErr.Status == 0 {
		apiErr.Status = resp.StatusCode
	}
	if apiErr.Title == "" {
		apiErr.Title = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case IsMemberExists(err), IsMethodNotAllowed(err):
		return metrics.OutcomeIgnored
	default:
		return metrics.OutcomeError
	}
}
