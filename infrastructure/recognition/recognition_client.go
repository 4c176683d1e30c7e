package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"retreat-photos/domain/services"
	"retreat-photos/pkg/logger"
	"retreat-photos/pkg/metrics"
	"retreat-photos/pkg/retry"
)

const (
	providerName = "recognition"

	// DefaultMaxImageBytes is the provider's per-request image limit.
	DefaultMaxImageBytes = 15 * 1024 * 1024
	// MaxDeleteBatch is the largest id list DeleteFaces accepts in one call.
	MaxDeleteBatch = 4096
)

// Client talks to the face collection service over its JSON API. Every call
// runs under the shared retry policy and a circuit breaker.
type Client struct {
	baseURL       string
	apiKey        string
	httpClient    *http.Client
	policy        retry.Policy
	breaker       *gobreaker.CircuitBreaker[any]
	maxImageBytes int64
}

type Config struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	MaxImageBytes int64
	Policy        retry.Policy
}

type boundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type faceRecord struct {
	FaceID      string      `json:"face_id"`
	Confidence  float64     `json:"confidence"`
	BoundingBox boundingBox `json:"bounding_box"`
}

type indexFacesRequest struct {
	Image           []byte `json:"image"`
	ExternalImageID string `json:"external_image_id"`
	MaxFaces        int    `json:"max_faces"`
}

type indexFacesResponse struct {
	FaceRecords []faceRecord `json:"face_records"`
}

type searchFacesRequest struct {
	Image              []byte  `json:"image"`
	FaceMatchThreshold float64 `json:"face_match_threshold"`
	MaxFaces           int     `json:"max_faces"`
}

type faceMatch struct {
	Similarity float64    `json:"similarity"`
	Face       faceRecord `json:"face"`
}

type searchFacesResponse struct {
	FaceMatches []faceMatch `json:"face_matches"`
}

type deleteFacesRequest struct {
	FaceIDs []string `json:"face_ids"`
}

type deleteFacesResponse struct {
	DeletedFaces []string `json:"deleted_faces"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errNoFaceInImage is what the provider answers when a search image has no detectable face.
var errNoFaceInImage = errors.New("no face detected in the reference image")

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBytes := cfg.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}

	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		httpClient:    &http.Client{Timeout: timeout},
		policy:        cfg.Policy,
		breaker:       newBreaker("recognition-api"),
		maxImageBytes: maxBytes,
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker[any] {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
		// Client-side mistakes (404, 409, bad image) say nothing about provider health.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			switch retry.OutcomeOf(err) {
			case retry.Retryable, retry.RetryAfter:
				return false
			}
			return true
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.IndexWarn("circuit_state_change", "Recognition circuit breaker changed state", map[string]interface{}{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			})
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func (c *Client) MaxImageBytes() int64 {
	return c.maxImageBytes
}

func (c *Client) DescribeCollection(ctx context.Context, collectionID string) error {
	_, err := call(ctx, c, "describe_collection", http.MethodGet, "/collections/"+url.PathEscape(collectionID), nil, func(status int, apiErr apiError) error {
		if status == http.StatusNotFound {
			return services.ErrCollectionNotFound
		}
		return nil
	}, &struct{}{})
	return err
}

func (c *Client) CreateCollection(ctx context.Context, collectionID string) error {
	body := map[string]string{"collection_id": collectionID}
	_, err := call(ctx, c, "create_collection", http.MethodPost, "/collections", body, func(status int, apiErr apiError) error {
		if status == http.StatusConflict {
			return services.ErrCollectionExists
		}
		return nil
	}, &struct{}{})
	return err
}

func (c *Client) IndexFaces(ctx context.Context, collectionID string, image []byte, externalID string, maxFaces int) ([]services.DetectedFace, error) {
	if int64(len(image)) > c.maxImageBytes {
		return nil, services.ErrImageTooLarge
	}

	req := indexFacesRequest{Image: image, ExternalImageID: externalID, MaxFaces: maxFaces}
	resp, err := call(ctx, c, "index_faces", http.MethodPost, "/collections/"+url.PathEscape(collectionID)+"/faces/index", req, collectionErrors, &indexFacesResponse{})
	if err != nil {
		return nil, err
	}

	faces := make([]services.DetectedFace, 0, len(resp.FaceRecords))
	for _, rec := range resp.FaceRecords {
		faces = append(faces, services.DetectedFace{
			ProviderFaceID: rec.FaceID,
			Confidence:     rec.Confidence,
			Left:           rec.BoundingBox.Left,
			Top:            rec.BoundingBox.Top,
			Width:          rec.BoundingBox.Width,
			Height:         rec.BoundingBox.Height,
		})
	}
	return faces, nil
}

// SearchFacesByImage returns no matches, not an error, when the reference image has no face.
func (c *Client) SearchFacesByImage(ctx context.Context, collectionID string, image []byte, threshold float64, maxResults int) ([]services.FaceMatch, error) {
	if int64(len(image)) > c.maxImageBytes {
		return nil, services.ErrImageTooLarge
	}

	req := searchFacesRequest{Image: image, FaceMatchThreshold: threshold, MaxFaces: maxResults}
	resp, err := call(ctx, c, "search_faces", http.MethodPost, "/collections/"+url.PathEscape(collectionID)+"/faces/search", req, collectionErrors, &searchFacesResponse{})
	if errors.Is(err, errNoFaceInImage) {
		return []services.FaceMatch{}, nil
	}
	if err != nil {
		return nil, err
	}

	matches := make([]services.FaceMatch, 0, len(resp.FaceMatches))
	for _, m := range resp.FaceMatches {
		matches = append(matches, services.FaceMatch{ProviderFaceID: m.Face.FaceID, Similarity: m.Similarity})
	}
	return matches, nil
}

// DeleteFaces removes faceIDs in chunks of MaxDeleteBatch and returns how many the provider confirmed.
func (c *Client) DeleteFaces(ctx context.Context, collectionID string, faceIDs []string) (int, error) {
	deleted := 0
	for start := 0; start < len(faceIDs); start += MaxDeleteBatch {
		end := min(start+MaxDeleteBatch, len(faceIDs))

		req := deleteFacesRequest{FaceIDs: faceIDs[start:end]}
		resp, err := call(ctx, c, "delete_faces", http.MethodPost, "/collections/"+url.PathEscape(collectionID)+"/faces/delete", req, collectionErrors, &deleteFacesResponse{})
		if err != nil {
			return deleted, err
		}
		deleted += len(resp.DeletedFaces)
	}
	return deleted, nil
}

func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call health API: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) IsAvailable(ctx context.Context) bool {
	return c.Health(ctx) == nil
}

func collectionErrors(status int, apiErr apiError) error {
	if status == http.StatusNotFound {
		return services.ErrCollectionNotFound
	}
	if status == http.StatusBadRequest && apiErr.Code == "no_face_detected" {
		return errNoFaceInImage
	}
	if status == http.StatusRequestEntityTooLarge {
		return services.ErrImageTooLarge
	}
	return nil
}

// call runs one JSON request under the retry policy and breaker. special
// maps known statuses to domain errors before generic classification.
func call[T any](ctx context.Context, c *Client, op, method, path string, body interface{}, special func(int, apiError) error, out *T) (*T, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	return retry.Do(ctx, c.policy, func(ctx context.Context) (*T, error) {
		start := time.Now()
		res, err := c.breaker.Execute(func() (any, error) {
			return c.do(ctx, method, path, payload, special, out)
		})
		metrics.ObserveProvider(providerName, op, start, err)

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, retry.Permanent(fmt.Errorf("%w: %v", services.ErrCollectionUnavailable, err))
		}
		if err != nil {
			return nil, err
		}
		return res.(*T), nil
	})
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, special func(int, apiError) error, out any) (any, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retry.Transient(fmt.Errorf("failed to call recognition API: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				return nil, retry.Permanent(fmt.Errorf("failed to parse response: %w", err))
			}
		}
		return out, nil
	}

	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)
	if special != nil {
		if mapped := special(resp.StatusCode, apiErr); mapped != nil {
			return nil, retry.Permanent(mapped)
		}
	}

	return nil, classifyStatus(resp, apiErr, body)
}

func classifyStatus(resp *http.Response, apiErr apiError, body []byte) error {
	msg := apiErr.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	err := fmt.Errorf("recognition API error (status %d): %s", resp.StatusCode, msg)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && secs > 0 {
			return retry.After(time.Duration(secs)*time.Second, err)
		}
		return retry.Transient(err)
	case resp.StatusCode >= 500:
		return retry.Transient(err)
	default:
		return retry.Permanent(err)
	}
}
