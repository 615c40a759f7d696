// Package analysis provides a client for the external audio analysis provider.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/soundguard-ai/soundguard/internal/apperr"
	"github.com/soundguard-ai/soundguard/internal/model"
	"github.com/soundguard-ai/soundguard/internal/resilience"
)

// Operation names carried by normalized errors.
const (
	OpEnhance   = "enhance"
	OpExplain   = "explain"
	OpQuality   = "aqi"
	OpForensics = "forensics"
	OpDownload  = "download"
	OpHealth    = "health"
)

// Client defines the provider operations. Every error it returns is an
// *apperr.Error of kind service_unavailable, upstream or timeout.
type Client interface {
	// Enhance denoises audio and reports where the provider wrote the result.
	Enhance(ctx context.Context, audio File, modelName string, settings model.EnhancementSettings) (*model.EnhancementResult, error)
	// Explain detects noise components. enhanced may be nil.
	Explain(ctx context.Context, original File, enhanced *File) (*model.ExplainabilityResult, error)
	// ScoreQuality computes the audio quality index.
	ScoreQuality(ctx context.Context, audio File) (*model.QualityResult, error)
	// DetectTampering runs the forensics analysis.
	DetectTampering(ctx context.Context, audio File) (*model.ForensicsResult, error)
	// Download fetches a file the provider produced. ref may be relative to
	// the base URL. The caller must close the returned reader.
	Download(ctx context.Context, ref string) (io.ReadCloser, error)
	// Health checks that the provider is up.
	Health(ctx context.Context) error
	// BaseURL returns the provider root the client talks to.
	BaseURL() string
}

// File is an upload part. Open is called once per request.
type File struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// PathFile returns a File reading from the local filesystem.
func PathFile(path string) File {
	return File{
		Name: filepath.Base(path),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// Timeouts bounds each operation. Zero keeps the default.
type Timeouts struct {
	Enhance   time.Duration
	Explain   time.Duration
	Quality   time.Duration
	Forensics time.Duration
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets the provider root URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeouts overrides per-operation timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(c *httpClient) {
		if t.Enhance > 0 {
			c.timeouts.Enhance = t.Enhance
		}
		if t.Explain > 0 {
			c.timeouts.Explain = t.Explain
		}
		if t.Quality > 0 {
			c.timeouts.Quality = t.Quality
		}
		if t.Forensics > 0 {
			c.timeouts.Forensics = t.Forensics
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero or less disables it.
func WithRateLimit(perSecond float64) Option {
	return func(c *httpClient) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
	}
}

// WithBreaker guards calls with b. Rejected calls fail as service_unavailable.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *httpClient) {
		c.breaker = b
	}
}

type httpClient struct {
	baseURL  string
	http     *http.Client
	timeouts Timeouts
	limiter  *rate.Limiter
	breaker  *resilience.Breaker
}

// NewClient creates a provider client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: "http://localhost:5001",
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		timeouts: Timeouts{
			Enhance:   5 * time.Minute,
			Explain:   5 * time.Minute,
			Quality:   2 * time.Minute,
			Forensics: 2 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewBreaker returns a breaker that trips only on failures a later attempt
// could fix.
func NewBreaker(threshold int, cooldown time.Duration, onChange func(from, to resilience.State)) *resilience.Breaker {
	return resilience.NewBreaker(resilience.BreakerConfig{
		Threshold:     threshold,
		Cooldown:      cooldown,
		ShouldTrip:    apperr.Retryable,
		OnStateChange: onChange,
	})
}

func (c *httpClient) BaseURL() string { return c.baseURL }

func (c *httpClient) Enhance(ctx context.Context, audio File, modelName string, settings model.EnhancementSettings) (*model.EnhancementResult, error) {
	fields := map[string]string{
		"model":                  modelName,
		"noiseReductionStrength": strconv.Itoa(settings.NoiseReductionStrength),
		"preserveSpeech":         strconv.FormatBool(settings.PreserveSpeech),
		"processingMode":         settings.ProcessingMode,
	}
	var out model.EnhancementResult
	if err := c.post(ctx, OpEnhance, "/enhance", c.timeouts.Enhance, fields, []part{{"audio", audio}}, &out); err != nil {
		return nil, err
	}
	out.Model = modelName
	out.Settings = settings
	return &out, nil
}

func (c *httpClient) Explain(ctx context.Context, original File, enhanced *File) (*model.ExplainabilityResult, error) {
	parts := []part{{"original", original}}
	if enhanced != nil {
		parts = append(parts, part{"enhanced", *enhanced})
	}
	var out model.ExplainabilityResult
	if err := c.post(ctx, OpExplain, "/explain", c.timeouts.Explain, nil, parts, &out); err != nil {
		return nil, err
	}
	if out.NoiseDetections == nil {
		out.NoiseDetections = []model.NoiseDetection{}
	}
	return &out, nil
}

func (c *httpClient) ScoreQuality(ctx context.Context, audio File) (*model.QualityResult, error) {
	var out model.QualityResult
	if err := c.post(ctx, OpQuality, "/aqi", c.timeouts.Quality, nil, []part{{"audio", audio}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) DetectTampering(ctx context.Context, audio File) (*model.ForensicsResult, error) {
	var out model.ForensicsResult
	if err := c.post(ctx, OpForensics, "/forensics", c.timeouts.Forensics, nil, []part{{"audio", audio}}, &out); err != nil {
		return nil, err
	}
	if out.Detections == nil {
		out.Detections = []model.ForensicDetection{}
	}
	return &out, nil
}

func (c *httpClient) Download(ctx context.Context, ref string) (io.ReadCloser, error) {
	target, err := c.resolve(ref)
	if err != nil {
		return nil, apperr.Upstream(OpDownload, http.StatusBadGateway, "unusable file reference "+strconv.Quote(ref))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Enhance)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		cancel()
		return nil, eris.Wrap(err, "analysis: create download request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, c.transportError(ctx, OpDownload, target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
		cancel()
		return nil, apperr.Upstream(OpDownload, resp.StatusCode, envelopeMessage(body))
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

func (c *httpClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	target := c.baseURL + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return eris.Wrap(err, "analysis: create health request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(ctx, OpHealth, target, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperr.Upstream(OpHealth, resp.StatusCode, envelopeMessage(body))
	}
	return nil
}

type part struct {
	field string
	file  File
}

// post sends a multipart request and decodes the envelope payload into out.
func (c *httpClient) post(ctx context.Context, op, path string, timeout time.Duration, fields map[string]string, parts []part, out any) (err error) {
	target := c.baseURL + path

	if berr := c.breaker.Allow(); berr != nil {
		return apperr.ServiceUnavailable(op, target, berr)
	}
	defer func() { c.breaker.Record(err) }()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.limiter != nil {
		if werr := c.limiter.Wait(ctx); werr != nil {
			return apperr.Timeout(op, werr)
		}
	}

	body, contentType := multipartBody(fields, parts)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		_ = body.Close()
		return eris.Wrapf(err, "analysis: create %s request", op)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(ctx, op, target, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.transportError(ctx, op, target, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperr.Upstream(op, resp.StatusCode, envelopeMessage(raw))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return apperr.Upstream(op, resp.StatusCode, "malformed response: "+err.Error())
	}
	if env.Success != nil && !*env.Success {
		return apperr.Upstream(op, resp.StatusCode, env.message())
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Upstream(op, resp.StatusCode, "malformed response: "+err.Error())
	}
	return nil
}

// transportError maps a failed round trip onto the error taxonomy.
func (c *httpClient) transportError(ctx context.Context, op, target string, err error) error {
	if resilience.IsTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Timeout(op, err)
	}
	return apperr.ServiceUnavailable(op, target, err)
}

func (c *httpClient) resolve(ref string) (string, error) {
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return "", err
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return "", eris.Errorf("unsupported scheme %q", u.Scheme)
	}
	return base.ResolveReference(u).String(), nil
}

// multipartBody streams the form so large audio files are never buffered.
func multipartBody(fields map[string]string, parts []part) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeForm(mw, fields, parts)
		if cerr := mw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	return pr, mw.FormDataContentType()
}

func writeForm(mw *multipart.Writer, fields map[string]string, parts []part) error {
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	for _, p := range parts {
		if err := writeFile(mw, p); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(mw *multipart.Writer, p part) error {
	src, err := p.file.Open()
	if err != nil {
		return eris.Wrapf(err, "analysis: open %s", p.file.Name)
	}
	defer src.Close() //nolint:errcheck

	w, err := mw.CreateFormFile(p.field, p.file.Name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

type envelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (e envelope) message() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// envelopeMessage extracts the provider's message from an error body, falling
// back to the raw text.
func envelopeMessage(body []byte) string {
	var env envelope
	if json.Unmarshal(body, &env) == nil && env.message() != "" {
		return env.message()
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelOnClose) Close() error {
	err := r.ReadCloser.Close()
	r.cancel()
	return err
}
