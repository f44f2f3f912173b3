package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/r254650549/rural-demo/internal/config"
)

// CredentialProvider yields the bearer token attached to every request
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// Client talks to the imagery processing server
type Client struct {
	baseURL   string
	creds     CredentialProvider
	endpoints config.Endpoints
	http      *resty.Client // JSON calls, retried
	upload    *resty.Client // multipart streams, never retried
	paths     *pathCache
}

// NewClient creates a new imagery server client
func NewClient(baseURL string, creds CredentialProvider, cfg *config.Config) *Client {
	if cfg == nil {
		cfg = config.Default()
	}

	client := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		creds:     creds,
		endpoints: cfg.Endpoints,
		paths:     newPathCache(cfg.History.PathCacheSize, cfg.History.PathCheckTTL),
	}

	client.http = resty.New().
		SetHeader("User-Agent", "rural-demo/1.0").
		SetTimeout(cfg.HTTP.Timeout).
		SetRetryCount(cfg.HTTP.RetryCount).
		SetRetryWaitTime(cfg.HTTP.RetryWait).
		SetRetryMaxWaitTime(cfg.HTTP.RetryMaxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Retry on 429 (Too Many Requests) and 5xx server errors
			if r == nil {
				return false
			}
			return r.StatusCode() == 429 || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		})

	client.upload = resty.New().
		SetHeader("User-Agent", "rural-demo/1.0").
		SetTimeout(cfg.HTTP.Timeout)

	return client
}

// BaseURL returns the server root this client targets
func (c *Client) BaseURL() string {
	return c.baseURL
}

// UploadImages sends the files as one multipart request and returns their server paths
func (c *Client) UploadImages(ctx context.Context, files []File, opts UploadOptions) (*UploadResponse, error) {
	form := map[string]string{}
	if opts.GroundImage {
		form["is_ground_image"] = "true"
	}
	return c.uploadFiles(ctx, "upload images", c.endpoints.UploadImage, files, form)
}

// UploadVideos sends video files as one multipart request
func (c *Client) UploadVideos(ctx context.Context, files []File) (*UploadResponse, error) {
	return c.uploadFiles(ctx, "upload videos", c.endpoints.UploadVideo, files, nil)
}

func (c *Client) uploadFiles(ctx context.Context, op, endpoint string, files []File, form map[string]string) (*UploadResponse, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: no files", op)
	}

	req, err := c.request(ctx, c.upload, op)
	if err != nil {
		return nil, err
	}

	var opened []*os.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()

	for _, file := range files {
		reader := file.Reader
		name := file.Name
		if file.Path != "" {
			f, err := os.Open(file.Path)
			if err != nil {
				return nil, fmt.Errorf("%s: failed to open %s: %w", op, file.Path, err)
			}
			opened = append(opened, f)
			reader = f
			if name == "" {
				name = filepath.Base(file.Path)
			}
		}
		if reader == nil {
			return nil, fmt.Errorf("%s: file %q has no content", op, name)
		}
		req.SetFileReader("file", name, reader)
	}
	if len(form) > 0 {
		req.SetFormData(form)
	}

	resp, err := req.Post(c.buildURL(endpoint))
	if err := checkResponse(op, resp, err); err != nil {
		return nil, err
	}

	var result struct {
		Paths     []string `json:"paths"`
		FilePaths []string `json:"file_paths"`
	}
	if err := decodePayload(op, resp.Body(), &result); err != nil {
		return nil, err
	}

	paths := result.Paths
	if len(paths) == 0 {
		paths = result.FilePaths
	}
	return &UploadResponse{Paths: paths}, nil
}

// ProcessGroundImages stitches the uploaded images into one panorama
func (c *Client) ProcessGroundImages(ctx context.Context, in StitchRequest) (*StitchResponse, error) {
	const op = "process ground images"

	var result struct {
		TaskName      string `json:"task_name"`
		StitchedImage string `json:"stitched_image"`
		ResultPath    string `json:"result_path"`
	}
	if err := c.postJSON(ctx, op, c.endpoints.GroundImages, in, &result); err != nil {
		return nil, err
	}

	if result.TaskName == "" {
		return nil, &ServerLogicError{Op: op, Message: "No task name in response"}
	}
	ref := result.StitchedImage
	if ref == "" {
		ref = result.ResultPath
	}
	if ref == "" {
		return nil, &ServerLogicError{Op: op, Message: "No stitched image in response"}
	}
	return &StitchResponse{TaskName: result.TaskName, StitchedImageRef: ref}, nil
}

// ProcessGroundVideo runs the video processor over one uploaded video
func (c *Client) ProcessGroundVideo(ctx context.Context, in VideoRequest) (*VideoResponse, error) {
	const op = "process ground video"

	payload := videoPayload{
		VideoPaths:      []string{in.VideoPath},
		LineCoordinates: in.Line,
		TaskName:        valueOr(in.TaskName, DefaultVideoTaskName),
		ExtractionType:  valueOr(in.ExtractionType, DefaultVideoExtractionType),
		AlgorithmType:   valueOr(in.Parameters, DefaultVideoAlgorithm),
	}

	var result struct {
		TaskName string   `json:"task_name"`
		Results  []Target `json:"results"`
	}
	if err := c.postJSON(ctx, op, c.endpoints.GroundVideo, payload, &result); err != nil {
		return nil, err
	}

	if result.TaskName == "" {
		return nil, &ServerLogicError{Op: op, Message: "No task name in response"}
	}
	if result.Results == nil {
		result.Results = []Target{}
	}
	return &VideoResponse{TaskName: result.TaskName, Results: result.Results}, nil
}

// ExtractTargets runs the detector over one image reference
func (c *Client) ExtractTargets(ctx context.Context, in ExtractRequest) (*ExtractResponse, error) {
	const op = "extract targets"

	var result struct {
		TaskName string   `json:"task_name"`
		Targets  []Target `json:"targets"`
	}
	if err := c.postJSON(ctx, op, c.endpoints.ExtractTargets, in, &result); err != nil {
		return nil, err
	}

	if result.TaskName == "" {
		return nil, &ServerLogicError{Op: op, Message: "No task name in response"}
	}
	if result.Targets == nil {
		result.Targets = []Target{}
	}
	return &ExtractResponse{TaskName: result.TaskName, Targets: result.Targets}, nil
}

// PathExists reports whether a server artifact is still reachable.
// Positive answers are cached for the configured TTL.
func (c *Client) PathExists(ctx context.Context, ref string) (bool, error) {
	const op = "check path"

	if ref == "" {
		return false, nil
	}
	if c.paths.Fresh(ref) {
		return true, nil
	}

	req, err := c.request(ctx, c.http, op)
	if err != nil {
		return false, err
	}

	target := ref
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		target = c.buildURL(ref)
	}

	resp, err := req.Head(target)
	if err == nil && (resp.StatusCode() == http.StatusNotFound || resp.StatusCode() == http.StatusGone) {
		c.paths.Forget(ref)
		return false, nil
	}
	if err := checkResponse(op, resp, err); err != nil {
		return false, err
	}

	c.paths.Confirm(ref)
	return true, nil
}

func (c *Client) postJSON(ctx context.Context, op, endpoint string, payload, out interface{}) error {
	req, err := c.request(ctx, c.http, op)
	if err != nil {
		return err
	}

	resp, err := req.
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(c.buildURL(endpoint))
	if err := checkResponse(op, resp, err); err != nil {
		return err
	}
	return decodePayload(op, resp.Body(), out)
}

// request prepares an authenticated request bound to ctx
func (c *Client) request(ctx context.Context, hc *resty.Client, op string) (*resty.Request, error) {
	if c.creds == nil {
		return nil, &AuthError{Op: op, Err: fmt.Errorf("no credential provider")}
	}
	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, &AuthError{Op: op, Err: err}
	}
	return hc.R().SetContext(ctx).SetAuthToken(token), nil
}

// buildURL constructs the full URL for an endpoint
func (c *Client) buildURL(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "/")
	return fmt.Sprintf("%s/%s", c.baseURL, endpoint)
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
