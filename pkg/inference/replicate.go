// Package inference runs image edits on Replicate.
package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/replicate/replicate-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/lumen/pkg/observability"
)

var (
	// ErrNotConfigured is returned when no API token is set
	ErrNotConfigured = errors.New("inference is not configured")

	// ErrBillingRequired is returned when the provider refuses the run for
	// lack of credits
	ErrBillingRequired = errors.New("inference provider requires credits")
)

// ProviderError is any other provider failure
type ProviderError struct {
	Status  int
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Predictor runs a model to completion and returns its raw output
type Predictor interface {
	Run(ctx context.Context, model string, input map[string]interface{}) (interface{}, error)
}

// ReplicateConfig configures the Replicate client
type ReplicateConfig struct {
	APIToken string
	// Timeout bounds a single run, zero means no bound beyond the request
	Timeout time.Duration
	// BaseURL overrides the API endpoint
	BaseURL string
}

// ReplicateClient is a Predictor backed by replicate-go. The underlying
// client is built on the first run.
type ReplicateClient struct {
	config ReplicateConfig

	once   sync.Once
	client *replicate.Client
	err    error
}

// NewReplicateClient creates a new ReplicateClient
func NewReplicateClient(config ReplicateConfig) *ReplicateClient {
	return &ReplicateClient{config: config}
}

// Configured reports whether an API token is present
func (c *ReplicateClient) Configured() bool {
	return c.config.APIToken != ""
}

func (c *ReplicateClient) get() (*replicate.Client, error) {
	c.once.Do(func() {
		if !c.Configured() {
			c.err = ErrNotConfigured
			return
		}
		opts := []replicate.ClientOption{
			replicate.WithToken(c.config.APIToken),
			replicate.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
		}
		if c.config.BaseURL != "" {
			opts = append(opts, replicate.WithBaseURL(c.config.BaseURL))
		}
		c.client, c.err = replicate.NewClient(opts...)
		if c.err != nil {
			c.err = fmt.Errorf("failed to create replicate client: %w", c.err)
		}
	})
	return c.client, c.err
}

// Run starts a prediction for model and waits for its output
func (c *ReplicateClient) Run(ctx context.Context, model string, input map[string]interface{}) (interface{}, error) {
	client, err := c.get()
	if err != nil {
		return nil, err
	}

	ctx, span := observability.Tracer().Start(ctx, "inference.Run")
	defer span.End()
	span.SetAttributes(attribute.String("inference.model", model))

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	output, err := client.Run(ctx, model, replicate.PredictionInput(input), nil)
	if err != nil {
		err = classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return output, nil
}

// classify maps provider errors onto ErrBillingRequired or *ProviderError
func classify(err error) error {
	var apiErr *replicate.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusPaymentRequired || apiErr.Status == http.StatusUnprocessableEntity {
			return fmt.Errorf("%w: %s", ErrBillingRequired, apiErr.Error())
		}
		return &ProviderError{Status: apiErr.Status, Message: apiErr.Error(), Err: err}
	}
	return &ProviderError{Message: err.Error(), Err: err}
}
