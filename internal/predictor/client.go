package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	apperrors "github.com/anime-shed/emotion-detect-go/internal/errors"
	"github.com/anime-shed/emotion-detect-go/pkg/models"
)

// FormField is the multipart field the prediction service reads the image from.
const FormField = "file"

const maxResponseBytes = 1 << 20

// Predictor sends one image to the prediction service.
type Predictor interface {
	Predict(ctx context.Context, filename, contentType string, data []byte) (*models.PredictResponse, error)
}

// Client implements Predictor over HTTP. Every call is a single attempt.
type Client struct {
	endpoint string
	client   *http.Client
}

// NewClient creates a prediction client for endpoint. A zero timeout keeps the
// transport defaults, so a request may wait as long as the service does.
func NewClient(endpoint string, timeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		MaxResponseHeaderBytes: 4096,
	}

	return &Client{
		endpoint: endpoint,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// Endpoint returns the configured prediction URL
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Predict posts data as a multipart upload and decodes the reply. Non-2xx
// replies and transport failures come back as network or timeout AppErrors.
// A 2xx reply that is not a JSON object decodes to an empty response.
func (c *Client) Predict(ctx context.Context, filename, contentType string, data []byte) (*models.PredictResponse, error) {
	body, formContentType, err := encodeForm(filename, contentType, data)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode upload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, apperrors.NewInternalError("invalid prediction endpoint", err)
	}
	req.Header.Set("Content-Type", formContentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.NewTimeoutError("prediction request timed out", err)
		}
		return nil, apperrors.NewNetworkError("prediction request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperrors.NewNetworkError("failed to read prediction response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.NewNetworkError(
			fmt.Sprintf("unexpected status code: %d", resp.StatusCode), nil,
		).WithDetails(strings.TrimSpace(string(raw)))
	}

	return decodeResponse(raw), nil
}

func encodeForm(filename, contentType string, data []byte) (*bytes.Buffer, string, error) {
	if filename == "" {
		filename = "image"
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		FormField, escapeQuotes(filename)))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

type rawResponse struct {
	Prediction json.RawMessage `json:"prediction"`
	Error      json.RawMessage `json:"error"`
}

func decodeResponse(raw []byte) *models.PredictResponse {
	var r rawResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return &models.PredictResponse{}
	}
	return &models.PredictResponse{
		Prediction: truthyText(r.Prediction),
		Error:      truthyText(r.Error),
	}
}

// truthyText renders a JSON value as display text, returning "" for values
// that count as missing: absent, null, false, any zero number and the empty
// string.
func truthyText(v json.RawMessage) string {
	if len(v) == 0 {
		return ""
	}

	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return ""
	}

	switch x := value.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if !x {
			return ""
		}
		return "true"
	case json.Number:
		if f, err := x.Float64(); err == nil && f == 0 {
			return ""
		}
		return x.String()
	default:
		return strings.TrimSpace(string(v))
	}
}
