package osf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/dmitrijs2005/osfrelay/internal/common"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultRequestTimeout = 15 * time.Second
	defaultRateLimit      = 5.0
	maxBodyBytes          = 1 << 20
	mediaType             = "application/vnd.api+json"
)

var guidPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Client talks to one OSF API root. Safe for concurrent use.
type Client struct {
	baseURL        *url.URL
	httpClient     *http.Client
	limiter        *rate.Limiter
	requestTimeout time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the underlying client (its transport, timeout and
// cookie jar are kept; redirects are always restricted to the API host).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		copied := *hc
		c.httpClient = &copied
	}
}

// WithRequestTimeout bounds every single request.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// WithRateLimit caps outgoing requests per second. Non-positive disables it.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
}

// NewClient builds a client for baseURL, e.g. "https://api.osf.io/v2".
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid osf base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid osf base url %q", baseURL)
	}

	c := &Client{
		baseURL:        u,
		httpClient:     &http.Client{Timeout: 2 * defaultRequestTimeout},
		limiter:        rate.NewLimiter(rate.Limit(defaultRateLimit), int(defaultRateLimit)),
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.CheckRedirect = c.checkRedirect

	return c, nil
}

// checkRedirect refuses to follow OSF off its own host so the bearer token,
// which the oauth2 transport attaches to every hop, never leaves it.
func (c *Client) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 5 {
		return errors.New("stopped after 5 redirects")
	}
	if !c.sameHost(req.URL) {
		return fmt.Errorf("refusing redirect to %s", req.URL.Host)
	}
	return nil
}

func (c *Client) sameHost(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, c.baseURL.Scheme) && strings.EqualFold(u.Host, c.baseURL.Host)
}

// authorized returns an http.Client carrying token. An empty token yields an
// anonymous client, and OSF answers protected endpoints with 401.
func (c *Client) authorized(token string) *http.Client {
	if token == "" {
		return c.httpClient
	}
	return &http.Client{
		Transport: &oauth2.Transport{
			Base:   c.httpClient.Transport,
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
		},
		CheckRedirect: c.httpClient.CheckRedirect,
		Jar:           c.httpClient.Jar,
		Timeout:       c.httpClient.Timeout,
	}
}

func (c *Client) endpoint(elem ...string) string {
	return c.baseURL.JoinPath(elem...).String()
}

// do sends one request and decodes a 2xx JSON body into out (if non-nil).
func (c *Client) do(ctx context.Context, token, method, rawURL string, body any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &transportError{err: err}
		}
	}

	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", mediaType)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.authorized(token).Do(req)
	if err != nil {
		return &transportError{err: fmt.Errorf("osf %s %s: %w", method, rawURL, err)}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &transportError{err: fmt.Errorf("osf %s %s: reading body: %w", method, rawURL, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Method: method, URL: rawURL, StatusCode: resp.StatusCode}
		var doc errorDocument
		if json.Unmarshal(payload, &doc) == nil && len(doc.Errors) > 0 {
			apiErr.Detail = doc.Errors[0].Detail
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return malformed("osf %s %s: %v", method, rawURL, err)
		}
	}

	return nil
}

func validGUID(kind, id string) error {
	if !guidPattern.MatchString(id) {
		return fmt.Errorf("%w: invalid %s id %q", common.ErrorValidation, kind, id)
	}
	return nil
}

// CreateChildNode creates a child node under parentID.
// It is not idempotent: repeating it creates another node.
func (c *Client) CreateChildNode(ctx context.Context, token, parentID string, attrs NodeAttributes) (*Node, error) {
	if err := validGUID("parent node", parentID); err != nil {
		return nil, err
	}

	var req createNodeRequest
	req.Data.Type = "nodes"
	req.Data.Attributes = attrs

	var doc nodeDocument
	if err := c.do(ctx, token, http.MethodPost, c.endpoint("nodes", parentID, "children/"), req, &doc); err != nil {
		return nil, err
	}
	if doc.Data.ID == "" {
		return nil, malformed("created node has no id")
	}

	return &Node{
		ID:        doc.Data.ID,
		Title:     doc.Data.Attributes.Title,
		FilesLink: doc.Data.Relationships.Files.Links.Related.Href,
	}, nil
}

// ListFiles fetches a node's storage providers from its files link. The link
// must point at the configured API host.
func (c *Client) ListFiles(ctx context.Context, token, filesLink string) ([]StorageProvider, error) {
	u, err := url.Parse(filesLink)
	if err != nil || !c.sameHost(u) {
		return nil, malformed("files link %q is not on %s", filesLink, c.baseURL.Host)
	}

	var doc filesDocument
	if err := c.do(ctx, token, http.MethodGet, u.String(), nil, &doc); err != nil {
		return nil, err
	}

	providers := make([]StorageProvider, 0, len(doc.Data))
	for _, d := range doc.Data {
		providers = append(providers, StorageProvider{
			ID:         d.ID,
			Name:       d.Attributes.Name,
			Provider:   d.Attributes.Provider,
			UploadLink: d.Links.Upload.Href,
		})
	}
	return providers, nil
}

// DeleteNode removes nodeID. A node that is already gone counts as deleted.
func (c *Client) DeleteNode(ctx context.Context, token, nodeID string) error {
	if err := validGUID("node", nodeID); err != nil {
		return err
	}

	err := c.do(ctx, token, http.MethodDelete, c.endpoint("nodes", nodeID+"/"), nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusGone) {
		return nil
	}
	return err
}

// CurrentUser returns the owner of token.
func (c *Client) CurrentUser(ctx context.Context, token string) (*User, error) {
	var doc userDocument
	if err := c.do(ctx, token, http.MethodGet, c.endpoint("users", "me/"), nil, &doc); err != nil {
		return nil, err
	}
	if doc.Data.ID == "" {
		return nil, malformed("user document has no id")
	}
	return &User{ID: doc.Data.ID, FullName: doc.Data.Attributes.FullName}, nil
}
