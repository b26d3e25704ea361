package projects

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/lumen/pkg/contextkeys"
	"github.com/platinummonkey/lumen/pkg/observability"
	"github.com/platinummonkey/lumen/pkg/storage/objects"
)

// ErrDeleteFailed is returned when the project row could not be removed
var ErrDeleteFailed = errors.New("failed to delete project")

// Deleter removes a project row and then, best effort, its stored images
type Deleter struct {
	store        Store
	objects      objects.Store
	inputBucket  string
	outputBucket string
	logger       *observability.Logger
}

// NewDeleter creates a new Deleter. objectStore may be nil, in which case
// only the row is removed.
func NewDeleter(store Store, objectStore objects.Store, inputBucket, outputBucket string, logger *observability.Logger) *Deleter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Deleter{
		store:        store,
		objects:      objectStore,
		inputBucket:  inputBucket,
		outputBucket: outputBucket,
		logger:       logger.WithComponent("projects"),
	}
}

// Delete removes the project id owned by userID. It returns ErrNotFound when
// there is no such project and ErrDeleteFailed when the row survives. Storage
// failures are logged and never returned.
func (d *Deleter) Delete(ctx context.Context, userID, id string) error {
	project, err := d.store.Get(ctx, id, userID)
	if err != nil {
		return err
	}

	if err := d.store.Delete(ctx, project.ID, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}

	if d.objects == nil {
		return nil
	}

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	for _, rawURL := range []string{project.InputImageURL, project.OutputImageURL} {
		g.Go(func() error {
			d.tryRemove(gctx, rawURL)
			return nil
		})
	}
	_ = g.Wait()

	return nil
}

// tryRemove deletes rawURL from whichever owned bucket its path names. Outputs
// that fell back to the input bucket are matched there too.
func (d *Deleter) tryRemove(ctx context.Context, rawURL string) {
	defer observability.RecoverPanic(d.logger, "project image cleanup")

	bucket, key, ok := d.locate(rawURL)
	if !ok {
		return
	}

	if err := d.objects.Delete(ctx, bucket, key); err != nil {
		d.logger.WithError(err).WithFields(map[string]interface{}{
			"request_id": contextkeys.GetRequestID(ctx),
			"bucket":     bucket,
			"key":        key,
		}).Warn("Failed to remove project image")
	}
}

func (d *Deleter) locate(rawURL string) (string, string, bool) {
	for _, bucket := range []string{d.inputBucket, d.outputBucket} {
		if key, ok := objects.KeyFromURL(rawURL, bucket); ok {
			return bucket, key, true
		}
	}
	return "", "", false
}
