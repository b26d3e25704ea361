package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/platinummonkey/lumen/pkg/imaging"
)

const defaultOutputType = "image/png"

// Output destinations reported to metrics
const (
	destOutputBucket = "output_bucket"
	destInputBucket  = "input_bucket"
	destProviderURL  = "provider_url"
)

// ErrOutputTooLarge is returned when a generated image exceeds MaxOutputBytes
var ErrOutputTooLarge = errors.New("generated image exceeds size limit")

var dataURLPattern = regexp.MustCompile(`(?s)^data:(.*?);base64,(.*)$`)

// persist copies the image at ref into owned storage. Every failure falls
// back to returning ref itself.
func (g *Gateway) persist(ctx context.Context, ref string) string {
	data, contentType, err := g.load(ctx, ref)
	if err != nil {
		g.logger.WithError(err).Warn("Keeping provider URL for generated image")
		g.metrics.RecordPersistence(destProviderURL)
		return ref
	}

	url, err := g.storeOutput(ctx, data, contentType)
	if err != nil {
		g.logger.WithError(err).Warn("Keeping provider URL for generated image")
		g.metrics.RecordPersistence(destProviderURL)
		return ref
	}
	return url
}

// load fetches an http(s) URL or decodes a data URL
func (g *Gateway) load(ctx context.Context, ref string) ([]byte, string, error) {
	if m := dataURLPattern.FindStringSubmatch(ref); m != nil {
		data, err := readLimited(base64.NewDecoder(base64.StdEncoding, strings.NewReader(m[2])), g.config.MaxOutputBytes)
		if err != nil {
			return nil, "", fmt.Errorf("failed to decode data URL: %w", err)
		}
		contentType := m[1]
		if contentType == "" {
			contentType = defaultOutputType
		}
		return data, contentType, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build fetch request: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch generated image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("failed to fetch generated image: status %d", resp.StatusCode)
	}

	data, err := readLimited(resp.Body, g.config.MaxOutputBytes)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read generated image: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultOutputType
	}
	return data, contentType, nil
}

// storeOutput uploads to the output bucket and falls back to the input bucket
func (g *Gateway) storeOutput(ctx context.Context, data []byte, contentType string) (string, error) {
	key := fmt.Sprintf("output/%d-generated.%s", g.now().UnixMilli(), imaging.Extension(contentType))

	url, err := g.objects.Put(ctx, g.config.OutputBucket, key, data, contentType)
	if err == nil {
		g.metrics.RecordPersistence(destOutputBucket)
		return url, nil
	}
	g.logger.WithError(err).Warnf("Output bucket upload failed, trying %s", g.config.InputBucket)

	url, err = g.objects.Put(ctx, g.config.InputBucket, key, data, contentType)
	if err != nil {
		return "", err
	}
	g.metrics.RecordPersistence(destInputBucket)
	return url, nil
}

// readLimited reads all of r, failing rather than truncating past max bytes
func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrOutputTooLarge, max)
	}
	return data, nil
}
