package transport

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/anime-shed/emotion-detect-go/internal/config"
	apperrors "github.com/anime-shed/emotion-detect-go/internal/errors"
	"github.com/anime-shed/emotion-detect-go/internal/logger"
	"github.com/anime-shed/emotion-detect-go/internal/predictor"
	"github.com/anime-shed/emotion-detect-go/internal/preview"
	"github.com/anime-shed/emotion-detect-go/internal/session"
	"github.com/anime-shed/emotion-detect-go/internal/upload"
	"github.com/anime-shed/emotion-detect-go/pkg/models"
	"github.com/anime-shed/emotion-detect-go/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	sessionCookie = "emodetect_session"
	formKey       = "upload_form"

	// PreviewPath is the route prefix previews are served from
	PreviewPath = "/previews"
)

//go:embed templates/*.html
var templateFS embed.FS

// PreviewSource serves stored previews
type PreviewSource interface {
	Open(ctx context.Context, id string) (*preview.Object, error)
}

// MetricsSource exposes detection counters
type MetricsSource interface {
	GetMetrics() map[string]interface{}
}

type page struct {
	upload.View
	Accept string
}

func NewHandler(forms *session.Registry, previews PreviewSource, metrics MetricsSource, cfg *config.Config) http.Handler {
	r := gin.Default()
	r.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/*.html")))

	// Add middleware
	r.Use(
		requestSizeLimiter(cfg.MaxUploadSize),
		errorHandler(),
	)

	r.GET("/health", healthCheck)
	r.GET("/metrics", metricsReport(metrics))
	r.GET(PreviewPath+"/:id", servePreview(previews))

	web := r.Group("/", sessionMiddleware(forms))
	web.GET("", renderForm)
	web.POST("select", selectImage(false))
	web.POST("detect", detect)
	web.POST("clear", clearForm(false))

	api := r.Group("/api", sessionMiddleware(forms))
	api.GET("/state", state)
	api.POST("/select", selectImage(true))
	api.POST("/detect", detectAndWait)
	api.POST("/clear", clearForm(true))

	return r
}

func sessionMiddleware(forms *session.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(sessionCookie)
		if err != nil || !session.ValidID(id) {
			id = session.NewID()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(sessionCookie, id, 0, "/", "", false, true)
		}
		c.Set(formKey, forms.Get(id))
		c.Next()
	}
}

func formFrom(c *gin.Context) *upload.Controller {
	return c.MustGet(formKey).(*upload.Controller)
}

func renderForm(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", page{
		View:   formFrom(c).View(),
		Accept: validation.ImageAccept,
	})
}

func selectImage(asJSON bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		img, err := readUpload(c)
		if err != nil {
			c.Error(err)
			return
		}

		form := formFrom(c)
		if err := form.SelectImage(c.Request.Context(), img); err != nil {
			if errors.Is(err, upload.ErrClosed) {
				c.Error(err)
				return
			}
			// The selection stands without a preview; the form stays usable.
			logger.WithError(err).Warn("Image selected without preview")
		}

		if img != nil {
			logger.WithFields(logrus.Fields{
				"image_name":   img.Name,
				"content_type": img.ContentType,
				"size_bytes":   len(img.Data),
				"ip":           c.ClientIP(),
			}).Info("Image selected")
		}
		finish(c, form, asJSON)
	}
}

// detect starts the request and returns straight away; the page polls while
// the spinner is showing.
func detect(c *gin.Context) {
	form := formFrom(c)
	ctx := context.WithoutCancel(c.Request.Context())

	// Validation and in-progress outcomes are already part of the rendered state.
	if _, err := form.SubmitAsync(ctx); errors.Is(err, upload.ErrClosed) {
		c.Error(err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

// detectAndWait answers with the final state. A client that disconnects does
// not cancel the request; its outcome stays on the form.
func detectAndWait(c *gin.Context) {
	form := formFrom(c)
	startTime := time.Now()

	err := form.Submit(context.WithoutCancel(c.Request.Context()))
	if errors.Is(err, upload.ErrDetectionInProgress) || errors.Is(err, upload.ErrClosed) {
		c.Error(err)
		return
	}

	logger.WithFields(logrus.Fields{
		"processing_time_ms": time.Since(startTime).Milliseconds(),
		"ip":                 c.ClientIP(),
		"outcome":            outcome(err),
	}).Info("Detection request finished")

	c.JSON(http.StatusOK, stateResponse(form.View()))
}

func clearForm(asJSON bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		form := formFrom(c)
		form.Reset(c.Request.Context())
		finish(c, form, asJSON)
	}
}

func state(c *gin.Context) {
	c.JSON(http.StatusOK, stateResponse(formFrom(c).View()))
}

func finish(c *gin.Context, form *upload.Controller, asJSON bool) {
	if asJSON {
		c.JSON(http.StatusOK, stateResponse(form.View()))
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func servePreview(previews PreviewSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")

		obj, err := previews.Open(c.Request.Context(), c.Param("id"))
		if err != nil {
			if !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
				err = apperrors.NewInternalError("failed to load preview", err)
			}
			c.Error(err)
			return
		}

		// Stored objects are only ever rendered as images
		contentType := obj.ContentType
		if !validation.MatchesAccept(validation.ImageAccept, contentType) {
			contentType = "application/octet-stream"
		}
		c.Header("Cache-Control", "private, max-age=300")
		c.Data(http.StatusOK, contentType, obj.Data)
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "available",
		"version": "1.0.0",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func metricsReport(metrics MetricsSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, metrics.GetMetrics())
	}
}

// readUpload returns nil when the form carries no file
func readUpload(c *gin.Context) (*upload.Image, error) {
	fh, err := c.FormFile(predictor.FormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, http.ErrMissingFile):
			return nil, nil
		case errors.As(err, &tooLarge):
			return nil, &apperrors.AppError{
				Type:       apperrors.ErrorTypeValidation,
				Message:    fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit),
				StatusCode: http.StatusRequestEntityTooLarge,
				Cause:      err,
			}
		default:
			return nil, apperrors.NewValidationError("invalid multipart form", err)
		}
	}

	f, err := fh.Open()
	if err != nil {
		return nil, apperrors.NewValidationError("open file failed", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperrors.NewValidationError("read file failed", err)
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	return &upload.Image{
		Name:        filepath.Base(fh.Filename),
		ContentType: contentType,
		Data:        data,
	}, nil
}

func stateResponse(v upload.View) models.StateResponse {
	return models.StateResponse{
		ShowUploadPrompt: v.ShowUploadPrompt,
		ImageName:        v.ImageName,
		PreviewURL:       v.PreviewURL,
		DetectDisabled:   v.DetectDisabled,
		Loading:          v.ShowSpinner,
		Prediction:       v.Prediction,
		Error:            v.Error,
	}
}

func outcome(err error) string {
	var appErr *apperrors.AppError
	switch {
	case err == nil:
		return "prediction"
	case errors.Is(err, upload.ErrStaleResult):
		return "discarded"
	case errors.As(err, &appErr):
		return string(appErr.Type)
	default:
		return "network"
	}
}

// Middleware and helper functions
func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		respondError(c, determineStatusCode(err), errorMessage(err), err)
	}
}

func determineStatusCode(err error) int {
	// Check if it's a custom app error first
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func errorMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "request processing failed"
}

// respondError logs the cause and shows only message to the client
func respondError(c *gin.Context, code int, message string, err error) {
	// Log the error with context
	logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	}).Error("Request failed")

	c.AbortWithStatusJSON(code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
	})
}
