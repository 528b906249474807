// Package upload implements the upload-and-detect form: pick an image, send
// it to the prediction service, show the label or the error.
package upload

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "github.com/anime-shed/emotion-detect-go/internal/errors"
	"github.com/anime-shed/emotion-detect-go/internal/logger"
	"github.com/anime-shed/emotion-detect-go/internal/observer"
	"github.com/anime-shed/emotion-detect-go/internal/predictor"
	"github.com/anime-shed/emotion-detect-go/internal/preview"

	"github.com/sirupsen/logrus"
)

// Messages shown to the user. Causes are logged, never displayed.
const (
	MsgSelectImageFirst = "Please select an image first"
	MsgUnknownError     = "Unknown error"
	MsgUploadFailed     = "An error occurred while uploading the image."
)

var (
	// ErrDetectionInProgress is returned by Submit while a request is in flight
	ErrDetectionInProgress = apperrors.NewConflictError("detection already in progress", nil)
	// ErrStaleResult is returned when the form was reset or given a new image
	// before the reply arrived; the reply is dropped.
	ErrStaleResult = errors.New("detection result discarded: form changed while request was in flight")
	// ErrClosed is returned by operations on a torn down controller
	ErrClosed = apperrors.NewExpiredError("upload form closed", nil)
)

// Image is a selected file
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

// Previews acquires and releases the preview shown for the selected image
type Previews interface {
	Acquire(ctx context.Context, contentType string, data []byte) (preview.Handle, error)
	Release(ctx context.Context, h preview.Handle) error
}

// Publisher receives lifecycle events
type Publisher interface {
	NotifyObservers(ctx context.Context, event observer.DetectionEvent)
}

// View is a snapshot of everything the form renders
type View struct {
	ShowUploadPrompt bool
	ImageName        string
	PreviewURL       string
	DetectDisabled   bool
	ShowSpinner      bool
	Prediction       string
	Error            string
}

// Controller owns the form state. All methods are safe for concurrent use;
// the lock is never held across network or storage calls.
type Controller struct {
	predictor predictor.Predictor
	previews  Previews
	events    Publisher

	mu         sync.Mutex
	image      *Image
	preview    preview.Handle
	prediction string
	errMsg     string
	loading    bool
	generation uint64
	closed     bool
}

// Option configures a Controller
type Option func(*Controller)

// WithPublisher sends lifecycle events to p
func WithPublisher(p Publisher) Option {
	return func(c *Controller) {
		c.events = p
	}
}

// NewController creates an empty form
func NewController(p predictor.Predictor, previews Previews, opts ...Option) *Controller {
	c := &Controller{
		predictor: p,
		previews:  previews,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SelectImage makes img the current selection and clears any earlier result.
// A nil or empty img is ignored. If no preview can be made the selection still
// takes effect without one and the preview error is returned.
func (c *Controller) SelectImage(ctx context.Context, img *Image) error {
	if img == nil || len(img.Data) == 0 {
		return nil
	}
	if c.isClosed() {
		return ErrClosed
	}

	selected := *img
	h, previewErr := c.previews.Acquire(ctx, selected.ContentType, selected.Data)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.release(ctx, h)
		return ErrClosed
	}
	old := c.preview
	c.image = &selected
	c.preview = h
	c.prediction = ""
	c.errMsg = ""
	c.generation++
	c.mu.Unlock()

	c.release(ctx, old)
	c.notify(ctx, observer.DetectionEvent{
		EventType: observer.ImageSelected,
		ImageName: selected.Name,
		Metadata:  map[string]interface{}{"size_bytes": len(selected.Data)},
	})

	switch {
	case previewErr == nil:
		return nil
	case errors.Is(previewErr, preview.ErrNotImage), errors.Is(previewErr, preview.ErrTooLarge):
		logger.WithError(previewErr).WithField("image_name", selected.Name).Info("Image selected without preview")
		return apperrors.NewValidationError("no preview for this file", previewErr)
	default:
		logger.WithError(previewErr).WithField("image_name", selected.Name).Warn("Failed to store preview")
		return apperrors.NewInternalError("failed to store preview", previewErr)
	}
}

// Submit sends the selected image for detection and blocks until the reply
// is applied. The outcome is always reflected in View; the returned error
// classifies it for callers that need more than the rendered state.
func (c *Controller) Submit(ctx context.Context) error {
	req, err := c.begin(ctx)
	if err != nil {
		return err
	}
	return c.complete(ctx, req)
}

// SubmitAsync is Submit with the request running on its own goroutine. Errors
// that prevent a request (no image, already loading) are returned directly;
// the request outcome is delivered on the channel.
func (c *Controller) SubmitAsync(ctx context.Context) (<-chan error, error) {
	req, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() {
		done <- c.complete(ctx, req)
		close(done)
	}()
	return done, nil
}

type request struct {
	image      *Image
	generation uint64
	started    time.Time
}

func (c *Controller) begin(ctx context.Context) (request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return request{}, ErrClosed
	}
	if c.loading {
		return request{}, ErrDetectionInProgress
	}
	if c.image == nil {
		c.prediction = ""
		c.errMsg = MsgSelectImageFirst
		return request{}, apperrors.NewValidationError(MsgSelectImageFirst, nil)
	}

	c.prediction = ""
	c.errMsg = ""
	c.loading = true
	req := request{image: c.image, generation: c.generation, started: time.Now()}

	c.notify(ctx, observer.DetectionEvent{
		EventType: observer.DetectionStarted,
		ImageName: req.image.Name,
	})
	return req, nil
}

func (c *Controller) complete(ctx context.Context, req request) error {
	resp, callErr := c.predictor.Predict(ctx, req.image.Name, req.image.ContentType, req.image.Data)
	elapsed := time.Since(req.started)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() { c.loading = false }()

	event := observer.DetectionEvent{ImageName: req.image.Name, Duration: elapsed}

	if c.closed || req.generation != c.generation {
		event.EventType = observer.DetectionDiscarded
		c.notify(ctx, event)
		return ErrStaleResult
	}

	switch {
	case callErr != nil:
		logger.WithError(callErr).WithFields(logrus.Fields{
			"image_name":  req.image.Name,
			"duration_ms": elapsed.Milliseconds(),
		}).Error("Prediction request failed")
		c.errMsg = MsgUploadFailed
		event.EventType = observer.DetectionFailed
		event.ErrorMessage = callErr.Error()
		c.notify(ctx, event)
		return callErr

	case resp != nil && resp.Prediction != "":
		c.prediction = resp.Prediction
		c.errMsg = ""
		event.EventType = observer.DetectionCompleted
		event.Prediction = resp.Prediction
		c.notify(ctx, event)
		return nil

	default:
		msg := MsgUnknownError
		if resp != nil && resp.Error != "" {
			msg = resp.Error
		}
		c.errMsg = msg
		event.EventType = observer.DetectionFailed
		event.ErrorMessage = msg
		c.notify(ctx, event)
		return apperrors.NewPredictionError(msg, nil)
	}
}

// Reset clears the selection and any result. It is safe to call repeatedly.
// A request still in flight keeps the form loading until it returns, and its
// reply is then dropped.
func (c *Controller) Reset(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	old := c.preview
	c.image = nil
	c.preview = preview.Handle{}
	c.prediction = ""
	c.errMsg = ""
	c.generation++
	c.mu.Unlock()

	c.release(ctx, old)
	c.notify(ctx, observer.DetectionEvent{EventType: observer.FormReset})
}

// Close releases the preview. Later calls on the controller return ErrClosed
// or do nothing.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	old := c.preview
	c.preview = preview.Handle{}
	c.mu.Unlock()

	c.release(ctx, old)
}

// View returns the current render state
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		ShowUploadPrompt: c.image == nil,
		PreviewURL:       c.preview.URL,
		DetectDisabled:   c.loading,
		ShowSpinner:      c.loading,
		Prediction:       c.prediction,
		Error:            c.errMsg,
	}
	if c.image != nil {
		v.ImageName = c.image.Name
	}
	return v
}

// Loading reports whether a request is in flight
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) release(ctx context.Context, h preview.Handle) {
	if h.ID == "" {
		return
	}
	if err := c.previews.Release(ctx, h); err != nil {
		logger.WithError(err).WithField("preview_id", h.ID).Warn("Failed to release preview")
	}
}

func (c *Controller) notify(ctx context.Context, event observer.DetectionEvent) {
	if c.events == nil {
		return
	}
	c.events.NotifyObservers(ctx, event)
}
