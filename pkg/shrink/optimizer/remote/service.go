// Package remote implements backends that upload images to web
// optimization services and report where the result can be downloaded.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jamesainslie/shrink/pkg/shrink/logging"
	"github.com/jamesainslie/shrink/pkg/shrink/optimizer"
)

// DefaultTimeout applies when no <NAME>_TIMEOUT variable is set.
const DefaultTimeout = 60 * time.Second

// Failure messages reported by remote services.
const (
	MsgUnknownError    = "Unknown Error"
	MsgInvalidURL      = "Invalid Url"
	MsgInvalidResponse = "Invalid Response"
)

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 1 << 20

var extensions = []string{".png", ".jpg", ".jpeg", ".gif"}

var logger = logging.Get("remote")

// protocol is the per-service part of a remote backend: its credentials,
// extra form fields and response format.
type protocol interface {
	configure(env optimizer.Environment)
	fields(filename string) (map[string]string, error)
	decode(body []byte) optimizer.Outcome
	clone() protocol
}

// Service is a backend that posts the image as multipart/form-data.
type Service struct {
	name      string
	envPrefix string
	endpoint  string
	fileField string
	proto     protocol

	client      optimizer.HTTPDoer
	timeout     time.Duration
	maxFileSize int64
}

// Option configures a Service.
type Option func(*Service)

// WithClient sets the HTTP transport.
func WithClient(client optimizer.HTTPDoer) Option {
	return func(s *Service) {
		s.client = client
	}
}

// WithEndpoint overrides the upload URL.
func WithEndpoint(endpoint string) Option {
	return func(s *Service) {
		s.endpoint = endpoint
	}
}

func newService(name, envPrefix, endpoint, fileField string, proto protocol, opts []Option) *Service {
	s := &Service{
		name:      name,
		envPrefix: envPrefix,
		endpoint:  endpoint,
		fileField: fileField,
		proto:     proto,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = http.DefaultClient
	}
	return s
}

// Name implements optimizer.Backend.
func (s *Service) Name() string { return s.name }

// Extensions implements optimizer.Backend.
func (s *Service) Extensions() []string {
	out := make([]string, len(extensions))
	copy(out, extensions)
	return out
}

// MaxFileSize implements optimizer.Backend.
func (s *Service) MaxFileSize() int64 { return s.maxFileSize }

// Timeout returns the per-request timeout.
func (s *Service) Timeout() time.Duration { return s.timeout }

// Endpoint returns the upload URL.
func (s *Service) Endpoint() string { return s.endpoint }

// Supports implements optimizer.Backend.
func (s *Service) Supports(ext string) bool {
	return optimizer.SupportsExtension(extensions, ext)
}

// Configure reads <PREFIX>_TIMEOUT, <PREFIX>_FILESIZE and the
// service-specific variables.
func (s *Service) Configure(env optimizer.Environment) {
	s.timeout = optimizer.EnvDuration(env, s.envPrefix+"_TIMEOUT", DefaultTimeout)
	s.maxFileSize = optimizer.EnvSize(env, s.envPrefix+"_FILESIZE")
	s.proto.configure(env)
}

// Clone implements optimizer.Backend.
func (s *Service) Clone() optimizer.Backend {
	c := *s
	c.proto = s.proto.clone()
	return &c
}

// Optimize uploads sourcePath and decodes the service's answer.
func (s *Service) Optimize(ctx context.Context, sourcePath string) optimizer.Outcome {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fields, err := s.proto.fields(filepath.Base(sourcePath))
	if err != nil {
		return optimizer.Failed(s.name, sourcePath, err.Error())
	}

	body, contentType, err := s.buildForm(sourcePath, fields)
	if err != nil {
		return optimizer.Failed(s.name, sourcePath, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, body)
	if err != nil {
		return optimizer.Failed(s.name, sourcePath, err.Error())
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	logger.Debug("uploading", "service", s.name, "path", sourcePath, "endpoint", s.endpoint)

	resp, err := s.client.Do(req)
	if err != nil {
		logger.Warn("upload failed", "service", s.name, "path", sourcePath, "error", err)
		return optimizer.Failed(s.name, sourcePath, err.Error())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return optimizer.Failed(s.name, sourcePath, err.Error())
	}
	if len(bytes.TrimSpace(data)) == 0 {
		if resp.StatusCode >= http.StatusBadRequest {
			return optimizer.Failed(s.name, sourcePath, resp.Status)
		}
		return optimizer.Failed(s.name, sourcePath, MsgInvalidResponse)
	}

	out := s.proto.decode(data)
	out.Service = s.name
	out.SourcePath = sourcePath
	return out
}

func (s *Service) buildForm(sourcePath string, fields map[string]string) (io.Reader, string, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile(s.fileField, filepath.Base(sourcePath))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("failed to read source: %w", err)
	}

	for key, value := range fields {
		if err := w.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write form field: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// resultOutcome validates the download URL and builds a success outcome.
func resultOutcome(location string, before, after float64) optimizer.Outcome {
	u, err := url.Parse(location)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return optimizer.Outcome{Error: MsgInvalidURL}
	}
	return optimizer.Outcome{
		SizeBefore: before,
		SizeAfter:  after,
		Location:   u.String(),
	}
}
