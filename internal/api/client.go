package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"tafkit/internal/config"
	"tafkit/internal/logging"
	"tafkit/internal/services"
)

const (
	userAgent    = "tafkit/0.1.0"
	maxErrorBody = 2048
	component    = "api"
)

// ErrNotConfigured is returned when the client has no server base URL.
var ErrNotConfigured = errors.New("server base URL not configured")

// Client talks to the server's JSON and form endpoints.
type Client struct {
	base   *url.URL
	http   *http.Client
	upload *http.Client
	stream *http.Client
	logger *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the client used for short requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithUploadClient overrides the client used for uploads and encode calls.
func WithUploadClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.upload = c
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logging.NewComponentLogger(logger, component)
	}
}

// NewClient builds a client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, ErrNotConfigured
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	base.Path = strings.TrimRight(base.Path, "/")
	base.RawQuery = ""
	base.Fragment = ""

	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: 30 * time.Second},
		upload: &http.Client{Timeout: 30 * time.Minute},
		// No timeout: the event stream stays open until the caller cancels.
		stream: &http.Client{},
		logger: logging.NewComponentLogger(nil, component),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewFromConfig builds a client from the [server] section.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		return nil, ErrNotConfigured
	}
	return NewClient(cfg.Server.BaseURL,
		WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout()}),
		WithUploadClient(&http.Client{Timeout: cfg.UploadTimeout()}),
		WithLogger(logger),
	)
}

// BaseURL returns the server root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// URLInfo asks the server for metadata about a remote media URL.
func (c *Client) URLInfo(ctx context.Context, mediaURL string) (URLInfoResponse, error) {
	form := url.Values{}
	form.Set("url", mediaURL)

	var resp URLInfoResponse
	if err := c.postForm(ctx, c.http, "urlInfo", "/api/urlInfo", nil, form, &resp); err != nil {
		return URLInfoResponse{}, err
	}
	return resp, nil
}

// URLFetch asks the server to download mediaURL at the given quality. fetchID
// is echoed back on url-fetch-progress events.
func (c *Client) URLFetch(ctx context.Context, mediaURL, quality, fetchID string) (URLFetchResponse, error) {
	form := url.Values{}
	form.Set("url", mediaURL)
	form.Set("quality", quality)
	form.Set("fetchId", fetchID)

	var resp URLFetchResponse
	if err := c.postForm(ctx, c.upload, "urlFetch", "/api/urlFetch", nil, form, &resp); err != nil {
		return URLFetchResponse{}, err
	}
	return resp, nil
}

// UploadFiles streams local files as one multipart request into dir.
func (c *Client) UploadFiles(ctx context.Context, dir string, files []UploadFile) error {
	if len(files) == 0 {
		return nil
	}
	for _, f := range files {
		if _, err := os.Stat(f.Path); err != nil {
			return services.Wrap(services.ErrValidation, component, "fileUpload", "local file unavailable", err)
		}
	}
	query := url.Values{}
	query.Set("path", dir)

	body, contentType := multipartBody(func(mw *multipart.Writer) error {
		for _, f := range files {
			if err := copyFilePart(mw, f); err != nil {
				return err
			}
		}
		return nil
	})
	return c.send(ctx, c.upload, "fileUpload", http.MethodPost, "/api/fileUpload", query, body, contentType, nil)
}

// EncodeFiles asks the server to encode sources, in order, into target.
func (c *Client) EncodeFiles(ctx context.Context, sources []string, target string) error {
	form := url.Values{}
	for _, source := range sources {
		form.Add("source", source)
	}
	form.Set("target", target)

	query := url.Values{}
	query.Set("special", "library")
	return c.postForm(ctx, c.upload, "fileEncode", "/api/fileEncode", query, form, nil)
}

// UploadTAF uploads an encoded container named name into dir.
func (c *Client) UploadTAF(ctx context.Context, name, dir string, content io.Reader) error {
	query := url.Values{}
	query.Set("name", name)
	query.Set("path", dir)
	query.Set("special", "library")

	body, contentType := multipartBody(func(mw *multipart.Writer) error {
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			return err
		}
		_, err = io.Copy(part, content)
		return err
	})
	return c.send(ctx, c.upload, "tafUpload", http.MethodPost, "/api/tafUpload", query, body, contentType, nil)
}

// ListQueues returns the server's encode queues.
func (c *Client) ListQueues(ctx context.Context) ([]Queue, error) {
	var resp queueListResponse
	if err := c.send(ctx, c.http, "listQueues", http.MethodGet, "/api/encodeQueue/list", nil, nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Queues, nil
}

// CreateQueue creates a named queue and returns its ID.
func (c *Client) CreateQueue(ctx context.Context, name string) (string, error) {
	form := url.Values{}
	form.Set("name", name)

	var resp queueCreateResponse
	if err := c.postForm(ctx, c.http, "createQueue", "/api/encodeQueue/create", nil, form, &resp); err != nil {
		return "", err
	}
	id := strings.TrimSpace(resp.QueueID)
	if id == "" {
		return "", services.Wrap(services.ErrRemote, component, "createQueue", rejection(resp.Error, "queue rejected"), nil)
	}
	return id, nil
}

// AddToQueue appends a server file path to a queue.
func (c *Client) AddToQueue(ctx context.Context, queueID, filePath string) error {
	form := url.Values{}
	form.Set("queueId", queueID)
	form.Set("filePath", filePath)
	return c.postSuccess(ctx, "addToQueue", "/api/encodeQueue/add", form)
}

// StartQueue starts processing a queue.
func (c *Client) StartQueue(ctx context.Context, queueID string) error {
	form := url.Values{}
	form.Set("queueId", queueID)
	return c.postSuccess(ctx, "startQueue", "/api/encodeQueue/start", form)
}

// RemoveFromQueue removes a whole queue, or a single entry when index is set.
func (c *Client) RemoveFromQueue(ctx context.Context, queueID string, index *int) error {
	form := url.Values{}
	form.Set("queueId", queueID)
	if index != nil {
		form.Set("index", strconv.Itoa(*index))
	}
	return c.postSuccess(ctx, "removeFromQueue", "/api/encodeQueue/remove", form)
}

// Setting reads a server setting such as "encode.bitrate".
func (c *Client) Setting(ctx context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", services.Wrap(services.ErrValidation, component, "setting", "setting key is empty", nil)
	}
	var raw json.RawMessage
	if err := c.send(ctx, c.http, "setting", http.MethodGet, "/api/settings/get/"+url.PathEscape(key), nil, nil, "", &raw); err != nil {
		return "", err
	}
	return settingValue(raw), nil
}

// OpenEventStream opens the Server-Sent Events channel. The caller owns the
// returned body and must close it.
func (c *Client) OpenEventStream(ctx context.Context, path, lastEventID string) (io.ReadCloser, error) {
	if strings.TrimSpace(path) == "" {
		path = "/api/sse"
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransport, component, "events", "", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError("events", resp)
	}
	return resp.Body, nil
}

func (c *Client) postSuccess(ctx context.Context, operation, path string, form url.Values) error {
	var resp successResponse
	if err := c.postForm(ctx, c.http, operation, path, nil, form, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return services.Wrap(services.ErrRemote, component, operation, rejection(resp.Error, "request rejected"), nil)
	}
	return nil
}

func (c *Client) postForm(ctx context.Context, client *http.Client, operation, path string, query, form url.Values, out any) error {
	body := strings.NewReader(form.Encode())
	return c.send(ctx, client, operation, http.MethodPost, path, query, body, "application/x-www-form-urlencoded", out)
}

func (c *Client) send(ctx context.Context, client *http.Client, operation, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		c.logger.Debug("request failed",
			logging.String("operation", operation),
			logging.String("path", path),
			logging.Error(err),
		)
		return services.Wrap(services.ErrTransport, component, operation, "", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("request completed",
		logging.String("operation", operation),
		logging.String("path", path),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode >= 300 {
		return statusError(operation, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrRemote, component, operation, "invalid response body", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	endpoint := *c.base
	endpoint.Path = c.base.Path + path
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, component, "request", "build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		req.Header.Set("X-Request-ID", rid)
	}
	return req, nil
}

// statusError turns a non-2xx response into a remote error whose reason is
// the server's error field, its body text, or the status text.
func statusError(operation string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload successResponse
	reason := ""
	if json.Unmarshal(raw, &payload) == nil {
		reason = strings.TrimSpace(payload.Error)
	}
	if reason == "" {
		reason = strings.TrimSpace(string(raw))
	}
	if reason == "" || strings.HasPrefix(reason, "{") {
		reason = http.StatusText(resp.StatusCode)
	}
	return services.Wrap(services.ErrRemote, component, operation,
		fmt.Sprintf("%s (status %d)", reason, resp.StatusCode), nil)
}

func rejection(serverMessage, fallback string) string {
	if msg := strings.TrimSpace(serverMessage); msg != "" {
		return msg
	}
	return fallback
}

// multipartBody streams parts produced by write through a pipe so large
// uploads never sit in memory.
func multipartBody(write func(*multipart.Writer) error) (io.Reader, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := write(mw)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()
	return pr, mw.FormDataContentType()
}

func copyFilePart(mw *multipart.Writer, f UploadFile) error {
	src, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer src.Close()

	part, err := mw.CreateFormFile("file", f.Name)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, src)
	return err
}
