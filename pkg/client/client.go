package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public Temeva service root.
	DefaultBaseURL = "https://temeva.com"

	// DefaultTimeout bounds every HTTP round trip unless overridden.
	DefaultTimeout = 30 * time.Second

	// maxBodyBytes caps how much of a response body is read.
	maxBodyBytes = 32 << 20

	// maxLoginBodyBytes caps the organization and token replies.
	maxLoginBodyBytes = 1 << 16
)

// Client is an authenticated session against the licensing service.
//
// A Client holds one bearer token for its whole life; there is no refresh.
// It is not safe for concurrent use: callers that share a Client across
// goroutines must serialize their calls.
type Client struct {
	baseURL    string
	orgID      string
	timeout    time.Duration
	jsonParams bool

	// anonHTTP is used before login; httpClient carries the bearer token.
	anonHTTP   *http.Client
	httpClient *http.Client
	headers    http.Header
	token      *oauth2.Token

	logger     *zap.Logger
	registerer prometheus.Registerer
	metrics    *clientMetrics
	limiter    *rate.Limiter

	call handler
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithBaseURL points the client at a service root other than DefaultBaseURL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) error {
		if baseURL != "" {
			c.baseURL = baseURL
		}
		return nil
	}
}

// WithOrganizationID skips the default-organization lookup.
func WithOrganizationID(id string) Option {
	return func(c *Client) error {
		c.orgID = id
		return nil
	}
}

// WithHTTPClient sets the underlying http.Client. Its transport is wrapped to
// add the Authorization header after login.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.anonHTTP = hc
		return nil
	}
}

// WithTimeout sets the round-trip timeout of the default http.Client.
// Zero disables the timeout. It has no effect together with WithHTTPClient.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

// WithLogger sets the structured logger. Calls are logged on entry, exit and
// failure. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) error {
		if l != nil {
			c.logger = l
		}
		return nil
	}
}

// WithMetrics registers request counters and latency histograms on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) error {
		c.registerer = reg
		return nil
	}
}

// WithRateLimit paces outbound calls to rps per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) error {
		if rps <= 0 || burst <= 0 {
			return fmt.Errorf("rate limit needs positive rps and burst, got %v/%d", rps, burst)
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

// WithJSONQueryParams sends RequestOptions.Params as a single JSON document
// in the query string instead of key=value pairs. Some older service
// deployments only understand this form.
func WithJSONQueryParams() Option {
	return func(c *Client) error {
		c.jsonParams = true
		return nil
	}
}

// New logs in to the licensing service and returns a ready Client.
//
//	c, err := client.New(ctx, "user@example.com", secret,
//	    client.WithOrganizationID(orgID),
//	    client.WithLogger(logger),
//	)
//
// When no organization ID is given it is looked up first. Login failures
// return *LookupError or *AuthError, network failures *TransportError.
func New(ctx context.Context, username, password string, opts ...Option) (*Client, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password are required")
	}

	c := &Client{
		baseURL: DefaultBaseURL,
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
		headers: http.Header{
			"Content-Type": {"application/json"},
			"Accept":       {"application/json"},
		},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")
	if c.anonHTTP == nil {
		c.anonHTTP = &http.Client{Timeout: c.timeout}
	}
	if c.registerer != nil {
		m, err := newClientMetrics(c.registerer)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		c.metrics = m
	}
	c.call = withCallLogging(c.execute)

	c.logger.Info("temeva client starting", zap.String("url", c.baseURL))

	if c.orgID == "" {
		id, err := c.lookupOrganization(ctx)
		if err != nil {
			return nil, err
		}
		c.orgID = id
	}

	c.logger.Info("authorizing",
		zap.String("username", username),
		zap.String("organization_id", c.orgID),
	)
	token, err := c.exchangeToken(ctx, username, password)
	if err != nil {
		return nil, err
	}
	c.setToken(token)
	c.logger.Info("authorized", zap.Time("token_expiry", token.Expiry))

	if build, err := c.Version(ctx); err != nil {
		c.logger.Warn("platform version check failed", zap.Error(err))
	} else {
		c.logger.Info("platform version", zap.String("build_number", build))
	}
	return c, nil
}

// setToken stores token and wraps the transport so every later request
// carries it.
func (c *Client) setToken(token *oauth2.Token) {
	c.token = token
	c.httpClient = &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(token),
			Base:   c.anonHTTP.Transport,
		},
		CheckRedirect: c.anonHTTP.CheckRedirect,
		Jar:           c.anonHTTP.Jar,
		Timeout:       c.anonHTTP.Timeout,
	}
}

// BaseURL returns the service root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// OrganizationID returns the organization the token is scoped to.
func (c *Client) OrganizationID() string { return c.orgID }

// Token returns the bearer token obtained at login.
func (c *Client) Token() string { return c.token.AccessToken }

// TokenExpiry returns when the token expires, or the zero time when the
// service did not say.
func (c *Client) TokenExpiry() time.Time { return c.token.Expiry }

// Execute sends verb (get, put, post or delete, any case) to endpointPath and
// decodes the reply. endpointPath is normalized with NormalizePath.
//
// A non-2xx reply returns *HTTPError; the client stays usable.
func (c *Client) Execute(ctx context.Context, verb, endpointPath string, opts RequestOptions) (*Response, error) {
	return c.call(ctx, c.logger, verb, endpointPath, opts)
}

// CallOption sets one field of RequestOptions for Get, Put, Post and Delete.
type CallOption func(*RequestOptions)

// WithParams sets the query parameters.
func WithParams(params map[string]any) CallOption {
	return func(o *RequestOptions) { o.Params = params }
}

// WithPayload sets the JSON request body.
func WithPayload(payload any) CallOption {
	return func(o *RequestOptions) { o.Payload = payload }
}

// WithFile attaches a local file as multipart form data.
func WithFile(path string) CallOption {
	return func(o *RequestOptions) { o.File = path }
}

func collect(opts []CallOption) RequestOptions {
	var ro RequestOptions
	for _, o := range opts {
		o(&ro)
	}
	return ro
}

// Get issues a GET.
//
//	resp, err := c.Get(ctx, "/lic/checkouts", client.WithParams(map[string]any{
//	    "organization_id": c.OrganizationID(),
//	    "application_id":  "stc",
//	}))
func (c *Client) Get(ctx context.Context, endpointPath string, opts ...CallOption) (*Response, error) {
	return c.Execute(ctx, http.MethodGet, endpointPath, collect(opts))
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, endpointPath string, opts ...CallOption) (*Response, error) {
	return c.Execute(ctx, http.MethodPut, endpointPath, collect(opts))
}

// Post issues a POST with a JSON body and/or a file attachment.
func (c *Client) Post(ctx context.Context, endpointPath string, opts ...CallOption) (*Response, error) {
	return c.Execute(ctx, http.MethodPost, endpointPath, collect(opts))
}

// Delete issues a DELETE. Payload and File are ignored.
func (c *Client) Delete(ctx context.Context, endpointPath string, opts ...CallOption) (*Response, error) {
	return c.Execute(ctx, http.MethodDelete, endpointPath, collect(opts))
}

// Version returns the licensing platform build number.
func (c *Client) Version(ctx context.Context) (string, error) {
	resp, err := c.Get(ctx, "/lic/version")
	if err != nil {
		return "", err
	}
	var v struct {
		BuildNumber string `json:"build_number"`
	}
	if err := resp.Decode(&v); err != nil {
		return "", err
	}
	return v.BuildNumber, nil
}

// execute is the undecorated request path behind Execute.
func (c *Client) execute(ctx context.Context, log *zap.Logger, verb, endpointPath string, opts RequestOptions) (*Response, error) {
	method, err := verbMethod(verb)
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	target := c.baseURL + NormalizePath(endpointPath)
	req, err := c.buildRequest(ctx, method, target, opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.observe(method, 0, time.Since(start))
		terr := newTransportError(method, target, err)
		log.Error("request failed", zap.String("url", target), zap.Error(err))
		return nil, terr
	}
	defer resp.Body.Close()

	body, err := readBody(resp.Body, maxBodyBytes)
	c.metrics.observe(method, resp.StatusCode, time.Since(start))
	if err != nil {
		terr := newTransportError(method, target, err)
		log.Error("request failed", zap.String("url", target), zap.Error(err))
		return nil, terr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		herr := newHTTPError(method, target, resp.StatusCode, resp.Status, body)
		log.Error("request failed",
			zap.String("url", target),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
		return nil, herr
	}

	return decodeResponse(resp.StatusCode, resp.Header.Get("Content-Type"), body)
}

// buildRequest assembles the HTTP request for one call.
func (c *Client) buildRequest(ctx context.Context, method, target string, opts RequestOptions) (*http.Request, error) {
	var (
		body        io.Reader
		contentType string
	)
	if method == http.MethodPut || method == http.MethodPost {
		payload, err := encodePayload(opts.Payload)
		if err != nil {
			return nil, err
		}
		switch {
		case method == http.MethodPost && opts.File != "":
			body, contentType, err = encodeMultipart(opts.File, payload)
			if err != nil {
				return nil, err
			}
		case payload != nil:
			body = bytes.NewReader(payload)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	query, err := encodeQuery(opts.Params, c.jsonParams)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = query

	for k, vs := range c.headers {
		req.Header[k] = append([]string(nil), vs...)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}
