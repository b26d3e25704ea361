// Package gateway runs one image edit end to end: normalize and upload the
// input, invoke the model, locate the result in whatever the model returned,
// persist it to owned storage and record the project.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/lumen/pkg/extract"
	"github.com/platinummonkey/lumen/pkg/imaging"
	"github.com/platinummonkey/lumen/pkg/inference"
	"github.com/platinummonkey/lumen/pkg/observability"
	"github.com/platinummonkey/lumen/pkg/projects"
	"github.com/platinummonkey/lumen/pkg/storage/objects"
)

var (
	ErrMissingInput    = errors.New("image and prompt are required")
	ErrNotConfigured   = errors.New("generation is not configured")
	ErrInputUpload     = errors.New("failed to upload input image")
	ErrEmptyOutput     = errors.New("provider returned no output")
	ErrNoImageURL      = errors.New("provider output contains no image")
	ErrOutputUpload    = errors.New("failed to upload generated image")
	ErrProjectNotSaved = errors.New("failed to save project")
)

// TargetSize is the longer output side requested from sized models
const TargetSize = 1024

// Request is one generation request
type Request struct {
	UserID      string
	Prompt      string
	Model       string
	Image       []byte
	Filename    string
	ContentType string
}

// Response is returned to the client on success
type Response struct {
	Success        bool   `json:"success"`
	OutputImageURL string `json:"outputImageUrl"`
	InputImageURL  string `json:"inputImageUrl"`
	ModelUsed      string `json:"modelUsed"`
}

// UsageRecorder counts successful generations against the user's quota
type UsageRecorder interface {
	IncrementQuotaUsed(ctx context.Context, userID string) error
}

// Config holds gateway settings
type Config struct {
	InputBucket  string
	OutputBucket string
	// TrackUsage enables quota accounting after each success
	TrackUsage bool
	// MaxOutputBytes bounds a fetched or streamed result
	MaxOutputBytes int64
}

// Gateway implements the generation flow
type Gateway struct {
	config     Config
	predictor  inference.Predictor
	objects    objects.Store
	projects   projects.Store
	usage      UsageRecorder
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *observability.Logger
	now        func() time.Time
}

// Option configures a Gateway
type Option func(*Gateway)

// WithHTTPClient sets the client used to fetch provider result URLs
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) { g.httpClient = client }
}

// WithUsageRecorder enables quota accounting through recorder when
// Config.TrackUsage is set
func WithUsageRecorder(recorder UsageRecorder) Option {
	return func(g *Gateway) { g.usage = recorder }
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics *observability.Metrics) Option {
	return func(g *Gateway) { g.metrics = metrics }
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithClock overrides time.Now for object keys
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New creates a Gateway. objectStore may be nil when storage is not
// configured; Generate then fails with ErrNotConfigured.
func New(config Config, predictor inference.Predictor, objectStore objects.Store, projectStore projects.Store, opts ...Option) *Gateway {
	if config.MaxOutputBytes <= 0 {
		config.MaxOutputBytes = 50 << 20
	}
	g := &Gateway{
		config:     config,
		predictor:  predictor,
		objects:    objectStore,
		projects:   projectStore,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport), Timeout: 60 * time.Second},
		logger:     observability.NopLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.WithComponent("gateway")
	return g
}

type configurable interface {
	Configured() bool
}

// Validate checks a request before any side effect
func (g *Gateway) Validate(req *Request) error {
	if len(req.Image) == 0 || strings.TrimSpace(req.Prompt) == "" {
		return ErrMissingInput
	}
	if _, ok := inference.LookupModel(req.Model); !ok {
		return inference.ErrUnsupportedModel
	}
	if c, ok := g.predictor.(configurable); ok && !c.Configured() {
		return fmt.Errorf("%w: %v", ErrNotConfigured, inference.ErrNotConfigured)
	}
	if g.objects == nil {
		return fmt.Errorf("%w: %v", ErrNotConfigured, objects.ErrNotConfigured)
	}
	return nil
}

// Generate runs the whole flow for req
func (g *Gateway) Generate(ctx context.Context, req *Request) (*Response, error) {
	if err := g.Validate(req); err != nil {
		return nil, err
	}

	ctx, span := observability.Tracer().Start(ctx, "gateway.Generate")
	defer span.End()

	logger := g.logger.WithFields(map[string]interface{}{"user_id": req.UserID, "model": req.Model})

	normalized := imaging.Normalize(req.Image, req.ContentType)
	logger.Debugf("Normalized input: %s", normalized.Describe())

	inputKey := fmt.Sprintf("input/%d-%s", g.now().UnixMilli(), inputFilename(req.Filename, normalized))
	inputURL, err := g.objects.Put(ctx, g.config.InputBucket, inputKey, normalized.Data, normalized.ContentType)
	if err != nil {
		g.metrics.RecordGeneration(req.Model, "input_upload_failed")
		return nil, fmt.Errorf("%w: %v", ErrInputUpload, err)
	}

	width, height := imaging.FitDimensions(normalized.Width, normalized.Height, TargetSize)
	input, err := inference.BuildInput(req.Model, inference.Params{
		Prompt:   req.Prompt,
		ImageURL: inputURL,
		Width:    width,
		Height:   height,
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	output, err := g.predictor.Run(ctx, req.Model, input)
	g.metrics.ObserveInference(req.Model, start)
	if err != nil {
		if errors.Is(err, inference.ErrBillingRequired) {
			g.metrics.RecordGeneration(req.Model, "billing_required")
		} else {
			g.metrics.RecordGeneration(req.Model, "provider_error")
		}
		logger.WithError(err).Error("Inference provider call failed")
		return nil, err
	}

	outputURL, err := g.resolveOutput(ctx, output)
	if err != nil {
		g.metrics.RecordGeneration(req.Model, "no_output")
		logger.WithError(err).Error("Could not resolve generated image")
		return nil, err
	}

	project := &projects.ProjectRecord{
		UserID:         req.UserID,
		InputImageURL:  inputURL,
		OutputImageURL: outputURL,
		Prompt:         req.Prompt,
		Model:          req.Model,
		Status:         projects.StatusCompleted,
	}
	if err := g.projects.Create(ctx, project); err != nil {
		g.metrics.RecordGeneration(req.Model, "save_failed")
		logger.WithError(err).Error("Failed to save project")
		return nil, fmt.Errorf("%w: %v", ErrProjectNotSaved, err)
	}

	if g.config.TrackUsage && g.usage != nil {
		if err := g.usage.IncrementQuotaUsed(ctx, req.UserID); err != nil {
			logger.WithError(err).Warn("Failed to record quota usage")
		}
	}

	g.metrics.RecordGeneration(req.Model, "success")
	logger.WithField("project_id", project.ID).Info("Generation completed")

	return &Response{
		Success:        true,
		OutputImageURL: outputURL,
		InputImageURL:  inputURL,
		ModelUsed:      req.Model,
	}, nil
}

// resolveOutput turns raw provider output into a durable URL
func (g *Gateway) resolveOutput(ctx context.Context, output interface{}) (string, error) {
	if stream, ok := extract.Stream(output); ok {
		data, err := readLimited(stream, g.config.MaxOutputBytes)
		if closer, ok := stream.(io.Closer); ok {
			closer.Close()
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrOutputUpload, err)
		}
		url, err := g.storeOutput(ctx, data, imaging.DetectContentType(data, defaultOutputType))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrOutputUpload, err)
		}
		return url, nil
	}

	value := extract.FromAny(output)
	if value.IsEmpty() {
		return "", ErrEmptyOutput
	}

	ref, ok := extract.FindURL(value, extract.DefaultMaxDepth)
	if !ok {
		return "", ErrNoImageURL
	}

	return g.persist(ctx, ref), nil
}

// inputFilename slugifies the uploaded name and keeps a matching extension
func inputFilename(name string, normalized imaging.Result) string {
	ext := strings.ToLower(filepath.Ext(name))
	base := slug.Make(strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)))
	if base == "" {
		base = "image"
	}
	if ext == "" || normalized.Normalized {
		ext = "." + imaging.Extension(normalized.ContentType)
	}
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	return base + ext
}
