package recognition

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retreat-photos/domain/services"
	"retreat-photos/pkg/logger"
	"retreat-photos/pkg/retry"
)

func TestMain(m *testing.M) {
	logger.SetDefault(logger.Nop())
	m.Run()
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		BaseURL:       srv.URL,
		APIKey:        "secret",
		Timeout:       2 * time.Second,
		MaxImageBytes: 1024,
		Policy:        retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
}

func TestIndexFaces_MapsFaceRecords(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/event-1/faces/index", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req indexFacesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "img-42", req.ExternalImageID)
		assert.Equal(t, 15, req.MaxFaces)
		assert.Equal(t, []byte("jpeg"), req.Image)

		_ = json.NewEncoder(w).Encode(indexFacesResponse{FaceRecords: []faceRecord{
			{FaceID: "f1", Confidence: 99.1, BoundingBox: boundingBox{Left: 0.1, Top: 0.2, Width: 0.3, Height: 0.4}},
			{FaceID: "f2", Confidence: 97.5},
		}})
	})

	faces, err := client.IndexFaces(t.Context(), "event-1", []byte("jpeg"), "img-42", 15)
	require.NoError(t, err)
	require.Len(t, faces, 2)
	assert.Equal(t, "f1", faces[0].ProviderFaceID)
	assert.InDelta(t, 0.3, faces[0].Width, 1e-9)
	assert.InDelta(t, 97.5, faces[1].Confidence, 1e-9)
}

func TestIndexFaces_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(indexFacesResponse{})
	})

	faces, err := client.IndexFaces(t.Context(), "event-1", []byte("x"), "img", 15)
	require.NoError(t, err)
	assert.Empty(t, faces)
	assert.Equal(t, int32(3), calls.Load())
}

func TestIndexFaces_RejectsOversizedImageLocally(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := client.IndexFaces(t.Context(), "event-1", make([]byte, 2048), "img", 15)
	assert.ErrorIs(t, err, services.ErrImageTooLarge)
	assert.Zero(t, calls.Load())
}

func TestDescribeCollection_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"collection_not_found","message":"no such collection"}`))
	})

	err := client.DescribeCollection(t.Context(), "event-404")
	assert.ErrorIs(t, err, services.ErrCollectionNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCreateCollection_ConflictMapsToExists(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	err := client.CreateCollection(t.Context(), "event-1")
	assert.ErrorIs(t, err, services.ErrCollectionExists)
}

func TestSearchFaces_NoFaceInReferenceIsEmptyResult(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"no_face_detected","message":"no face"}`))
	})

	matches, err := client.SearchFacesByImage(t.Context(), "event-1", []byte("selfie"), 80, 100)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchFaces_MapsMatches(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req searchFacesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.InDelta(t, 85.0, req.FaceMatchThreshold, 1e-9)
		assert.Equal(t, 10, req.MaxFaces)

		_ = json.NewEncoder(w).Encode(searchFacesResponse{FaceMatches: []faceMatch{
			{Similarity: 93.2, Face: faceRecord{FaceID: "a"}},
		}})
	})

	matches, err := client.SearchFacesByImage(t.Context(), "event-1", []byte("selfie"), 85, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, services.FaceMatch{ProviderFaceID: "a", Similarity: 93.2}, matches[0])
}

func TestDeleteFaces_ChunksLargeRequests(t *testing.T) {
	var sizes []int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req deleteFacesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		sizes = append(sizes, len(req.FaceIDs))
		_ = json.NewEncoder(w).Encode(deleteFacesResponse{DeletedFaces: req.FaceIDs})
	})

	ids := make([]string, MaxDeleteBatch+10)
	for i := range ids {
		ids[i] = "face"
	}

	deleted, err := client.DeleteFaces(t.Context(), "event-1", ids)
	require.NoError(t, err)
	assert.Equal(t, len(ids), deleted)
	assert.Equal(t, []int{MaxDeleteBatch, 10}, sizes)
}

func TestTooManyRequests_HonoursRetryAfterHeader(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(deleteFacesResponse{DeletedFaces: []string{"x"}})
	})

	start := time.Now()
	deleted, err := client.DeleteFaces(t.Context(), "event-1", []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}
