// Package rest implements the orthanc service interfaces against the REST API
// of an Orthanc server.
package rest

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	orthanc "gitlab.com/medical-research/orthanc-client"
)

// Ensure client implements the capability the InstancesSet consumes.
var _ orthanc.ResourceDirectory = (*Client)(nil)

// DefaultTimeout bounds a single request round trip unless overridden.
const DefaultTimeout = 60 * time.Second

// Client talks to one Orthanc server. All services share its transport.
type Client struct {
	http *resty.Client
	log  *zap.Logger

	// Services for the three resource levels.
	Studies   *StudyService
	Series    *SeriesService
	Instances *InstanceService
}

type options struct {
	timeout     time.Duration
	username    string
	password    string
	tokenSource oauth2.TokenSource
	httpClient  *http.Client
	logger      *zap.Logger
}

// Option configures a Client.
type Option func(*options)

// WithBasicAuth authenticates every request with HTTP basic auth.
func WithBasicAuth(username, password string) Option {
	return func(o *options) {
		o.username = username
		o.password = password
	}
}

// WithTokenSource authenticates every request with a bearer token from ts,
// e.g. an OAuth2 client-credentials source when Orthanc sits behind an
// authenticating proxy.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(o *options) {
		o.tokenSource = ts
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithHTTPClient supplies the underlying HTTP transport. Connection pooling,
// retries and TLS configuration belong to this transport, not to the client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.logger = log
	}
}

// NewClient returns a client for the Orthanc server at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	o := options{
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.tokenSource != nil && o.httpClient == nil {
		o.httpClient = oauth2.NewClient(context.Background(), o.tokenSource)
	}

	var hc *resty.Client
	if o.httpClient != nil {
		hc = resty.NewWithClient(o.httpClient)
	} else {
		hc = resty.New()
	}

	hc.SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(o.timeout).
		SetHeader("Accept", "application/json")

	if o.username != "" {
		hc.SetBasicAuth(o.username, o.password)
	}

	c := &Client{
		http: hc,
		log:  o.logger,
	}
	hc.OnAfterResponse(c.afterResponse)

	c.Studies = &StudyService{resourceService{client: c, segment: "studies"}}
	c.Series = &SeriesService{resourceService{client: c, segment: "series"}}
	c.Instances = &InstanceService{resourceService{client: c, segment: "instances"}}

	return c
}

func (c *Client) afterResponse(_ *resty.Client, resp *resty.Response) error {
	trackMetrics(resp)
	c.log.Debug("request completed",
		zap.String("method", resp.Request.Method),
		zap.String("url", resp.Request.URL),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("duration", resp.Time()))
	return nil
}

// lookup of HTTP status codes to application error codes.
var codes = map[int]string{
	http.StatusBadRequest:   orthanc.EINVALID,
	http.StatusUnauthorized: orthanc.EUNAUTHORIZED,
	http.StatusForbidden:    orthanc.EUNAUTHORIZED,
	http.StatusNotFound:     orthanc.ENOTFOUND,
	http.StatusConflict:     orthanc.ECONFLICT,
}

// fromStatusCode returns the associated application error code for an HTTP
// status code.
func fromStatusCode(status int) string {
	if code, ok := codes[status]; ok {
		return code
	}
	return orthanc.EINTERNAL
}

// responseError converts a non-2xx response into an application error, using
// the response body as the message when the server sent one.
func responseError(resp *resty.Response) error {
	message := strings.TrimSpace(string(resp.Body()))
	if message == "" {
		message = "Empty response from server."
	}
	return orthanc.Errorf(fromStatusCode(resp.StatusCode()),
		"%s %s: %s", resp.Request.Method, resp.Request.URL, message)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := c.http.R().SetContext(ctx).SetResult(out).Get(path)
	if err != nil {
		return orthanc.Errorf(orthanc.EINTERNAL, "GET %s: %v", path, err)
	}
	if resp.IsError() {
		return responseError(resp)
	}
	return nil
}

func (c *Client) getBinary(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.http.R().SetContext(ctx).Get(path)
	if err != nil {
		return nil, orthanc.Errorf(orthanc.EINTERNAL, "GET %s: %v", path, err)
	}
	if resp.IsError() {
		return nil, responseError(resp)
	}
	return resp.Body(), nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	req := c.http.R().SetContext(ctx).SetBody(body)
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Post(path)
	if err != nil {
		return orthanc.Errorf(orthanc.EINTERNAL, "POST %s: %v", path, err)
	}
	if resp.IsError() {
		return responseError(resp)
	}
	return nil
}

func (c *Client) put(ctx context.Context, path string, body []byte, headers map[string]string) error {
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetBody(body).Put(path)
	if err != nil {
		return orthanc.Errorf(orthanc.EINTERNAL, "PUT %s: %v", path, err)
	}
	if resp.IsError() {
		return responseError(resp)
	}
	return nil
}

func (c *Client) delete(ctx context.Context, path string) error {
	resp, err := c.http.R().SetContext(ctx).Delete(path)
	if err != nil {
		return orthanc.Errorf(orthanc.EINTERNAL, "DELETE %s: %v", path, err)
	}
	if resp.IsError() {
		return responseError(resp)
	}
	return nil
}

// GetStudy implements orthanc.ResourceDirectory.
func (c *Client) GetStudy(ctx context.Context, studyID string) (*orthanc.Study, error) {
	return c.Studies.Get(ctx, studyID)
}

// GetSeries implements orthanc.ResourceDirectory.
func (c *Client) GetSeries(ctx context.Context, seriesID string) (*orthanc.Series, error) {
	return c.Series.Get(ctx, seriesID)
}

// GetInstance implements orthanc.ResourceDirectory.
func (c *Client) GetInstance(ctx context.Context, instanceID string) (*orthanc.Instance, error) {
	return c.Instances.Get(ctx, instanceID)
}

// GetSeriesInstanceIDs implements orthanc.ResourceDirectory.
func (c *Client) GetSeriesInstanceIDs(ctx context.Context, seriesID string) ([]string, error) {
	return c.Series.GetInstanceIDs(ctx, seriesID)
}

// BulkDelete deletes every named resource in one tools/bulk-delete request.
func (c *Client) BulkDelete(ctx context.Context, resourceIDs []string) error {
	body := map[string]interface{}{
		"Resources": resourceIDs,
	}

	resp, err := c.http.R().SetContext(ctx).SetBody(body).Post("/tools/bulk-delete")
	if err != nil {
		return orthanc.Errorf(orthanc.EBULKFAILED, "bulk delete: %v", err)
	}
	if resp.IsError() {
		return orthanc.Errorf(orthanc.EBULKFAILED,
			"bulk delete: status %d: %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}

	c.log.Info("bulk delete completed", zap.Int("resources", len(resourceIDs)))
	return nil
}

// BulkModify modifies every named resource in one tools/bulk-modify request,
// at instance granularity, and returns the resources the server reports as
// the result of the modification.
func (c *Client) BulkModify(ctx context.Context, resourceIDs []string, req orthanc.ModifyRequest) (*orthanc.BulkModifyResult, error) {
	body := map[string]interface{}{
		"Force":      req.Force,
		"Resources":  resourceIDs,
		"KeepSource": req.KeepSource,
		"Level":      string(orthanc.ResourceInstance),
	}
	if len(req.Replace) > 0 {
		body["Replace"] = req.Replace
	}
	if len(req.Remove) > 0 {
		body["Remove"] = req.Remove
	}
	if len(req.Keep) > 0 {
		body["Keep"] = req.Keep
	}

	var result orthanc.BulkModifyResult
	if err := c.postJSON(ctx, "/tools/bulk-modify", body, &result); err != nil {
		return nil, err
	}

	c.log.Info("bulk modify completed",
		zap.Int("resources", len(resourceIDs)),
		zap.Int("modified", len(result.Resources)))
	return &result, nil
}
