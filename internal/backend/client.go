package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/stockflow-api/internal/config"
	"github.com/stanstork/stockflow-api/internal/models"
)

var (
	ErrNotFound = errors.New("resource not found")
	ErrConflict = errors.New("conflicting resource state")
)

// APIError is a non-2xx answer from the import backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("import backend returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

// Transient reports whether retrying on the next natural tick may succeed.
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client talks to the import/allocation backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	signer     *tokenSigner
	logger     zerolog.Logger
}

func NewClient(cfg config.BackendConfig, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		signer:     newTokenSigner(cfg.ServiceSecret, cfg.ServiceName),
		logger:     logger.With().Str("component", "backend_client").Logger(),
	}
}

type SubmitRequest struct {
	Type     models.ImportType
	FileName string
	Content  io.Reader
}

// SubmitImport uploads a spreadsheet and returns the initial snapshot.
func (c *Client) SubmitImport(ctx context.Context, req SubmitRequest) (models.ImportJob, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("type", string(req.Type)); err != nil {
		return models.ImportJob{}, errors.Wrap(err, "write type field")
	}
	part, err := mw.CreateFormFile("file", req.FileName)
	if err != nil {
		return models.ImportJob{}, errors.Wrap(err, "create file part")
	}
	if _, err := io.Copy(part, req.Content); err != nil {
		return models.ImportJob{}, errors.Wrap(err, "copy upload")
	}
	if err := mw.Close(); err != nil {
		return models.ImportJob{}, errors.Wrap(err, "close multipart body")
	}

	var job models.ImportJob
	if err := c.do(ctx, http.MethodPost, "/imports", nil, &body, mw.FormDataContentType(), &job); err != nil {
		return models.ImportJob{}, errors.Wrap(err, "submit import")
	}
	return job, nil
}

type ListImportsParams struct {
	OnlyActive bool
	Type       models.ImportType
	SortBy     string
	SortOrder  string
	Page       int
	Limit      int
}

func (p ListImportsParams) query() url.Values {
	q := url.Values{}
	if p.OnlyActive {
		q.Set("onlyActive", "true")
	}
	if p.Type != models.ImportTypeUnknown {
		q.Set("type", string(p.Type))
	}
	sortBy := p.SortBy
	if sortBy == "" {
		sortBy = "createdAt"
	}
	sortOrder := p.SortOrder
	if sortOrder == "" {
		sortOrder = "desc"
	}
	q.Set("sortBy", sortBy)
	q.Set("sortOrder", sortOrder)
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	return q
}

func (c *Client) ListImports(ctx context.Context, params ListImportsParams) (models.ImportPage, error) {
	var page models.ImportPage
	if err := c.do(ctx, http.MethodGet, "/imports", params.query(), nil, "", &page); err != nil {
		return models.ImportPage{}, errors.Wrap(err, "list imports")
	}
	return page, nil
}

// CancelImport requests cancellation. The backend answers either with the
// updated snapshot or with a bare acknowledgement, in which case nil is
// returned alongside a nil error.
func (c *Client) CancelImport(ctx context.Context, jobID string) (*models.ImportJob, error) {
	var raw json.RawMessage
	path := "/imports/" + url.PathEscape(jobID) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, nil, nil, "", &raw); err != nil {
		return nil, errors.Wrapf(err, "cancel import %s", jobID)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var job models.ImportJob
	if err := json.Unmarshal(raw, &job); err != nil || job.JobID == "" {
		return nil, nil
	}
	return &job, nil
}

func (c *Client) ListReceipts(ctx context.Context, orderID string, page, limit int) (models.ReceiptPage, error) {
	q := url.Values{}
	q.Set("orderId", orderID)
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var out models.ReceiptPage
	if err := c.do(ctx, http.MethodGet, "/receipts", q, nil, "", &out); err != nil {
		return models.ReceiptPage{}, errors.Wrapf(err, "list receipts for order %s page %d", orderID, page)
	}
	return out, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (models.Order, error) {
	var order models.Order
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, nil, "", &order); err != nil {
		return models.Order{}, errors.Wrapf(err, "get order %s", orderID)
	}
	return order, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.signer != nil {
		token, err := c.signer.sign(time.Now())
		if err != nil {
			return errors.Wrap(err, "sign service token")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("request_id", requestID).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("backend request")

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(payload, resp.Status)}
	}

	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], payload...)
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func errorMessage(payload []byte, fallback string) string {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(payload, &envelope); err == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		if envelope.Error != "" {
			return envelope.Error
		}
	}
	if text := strings.TrimSpace(string(payload)); text != "" && len(text) < 512 {
		return text
	}
	return fallback
}
