package serviceimpl

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retreat-photos/domain/models"
	"retreat-photos/domain/services"
)

type deletionFixture struct {
	eventID   uuid.UUID
	images    *fakeImageRepo
	faces     *fakeFaceRepo
	tags      *fakeTagRepo
	provider  *fakeProvider
	storage   *fakeStorage
	publisher *fakePublisher
}

func newDeletionFixture() *deletionFixture {
	f := &deletionFixture{
		eventID:   uuid.New(),
		images:    newFakeImageRepo(),
		tags:      newFakeTagRepo(),
		provider:  newFakeProvider(),
		storage:   newFakeStorage(),
		publisher: &fakePublisher{},
	}
	f.faces = &fakeFaceRepo{tags: f.tags}
	return f
}

func (f *deletionFixture) service(batchSize int) services.DeletionService {
	return NewDeletionService(f.images, f.faces, NewCollectionService(f.provider, "test-"), f.provider, f.storage, f.publisher, batchSize)
}

// indexedImage adds an indexed image with its blobs, n faces and one tag.
func (f *deletionFixture) indexedImage(n int) *models.EventImage {
	img := f.images.add(f.eventID, models.IndexStatusIndexed)
	f.storage.objects[img.OriginalPath] = []byte("o")
	f.storage.objects[img.ThumbnailPath] = []byte("t")
	for i := 0; i < n; i++ {
		f.faces.faces = append(f.faces.faces, models.Face{ID: uuid.New(), ImageID: img.ID, EventID: f.eventID, ProviderFaceID: fmt.Sprintf("%s-%d", img.ID, i)})
	}
	_ = f.tags.Upsert(context.Background(), []*models.FaceTag{{ImageID: img.ID, PersonID: uuid.New(), EventID: f.eventID, Confidence: 90}})
	return img
}

func TestDeleteImages_RemovesEverything(t *testing.T) {
	f := newDeletionFixture()
	a := f.indexedImage(2)
	b := f.indexedImage(3)
	keep := f.indexedImage(1)

	res, err := f.service(0).DeleteImages(context.Background(), admin, f.eventID, []uuid.UUID{a.ID, b.ID, a.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ImagesRemoved)
	assert.Equal(t, 5, res.ProviderFacesRemoved)
	assert.False(t, res.ProviderCleanupFailed)

	assert.Len(t, f.images.images, 1)
	assert.Contains(t, f.images.images, keep.ID)
	assert.Len(t, f.faces.faces, 1)
	assert.Len(t, f.tags.tags, 1)
	assert.Len(t, f.storage.objects, 2)
	assert.Contains(t, f.publisher.types(), "images:deleted")
}

func TestDeleteImages_IsIdempotent(t *testing.T) {
	f := newDeletionFixture()
	a := f.indexedImage(1)
	svc := f.service(0)

	_, err := svc.DeleteImages(context.Background(), admin, f.eventID, []uuid.UUID{a.ID})
	require.NoError(t, err)

	res, err := svc.DeleteImages(context.Background(), admin, f.eventID, []uuid.UUID{a.ID})
	require.NoError(t, err)
	assert.Equal(t, &services.DeleteImagesResult{}, res)
}

func TestDeleteImages_IgnoresImagesOfOtherEvents(t *testing.T) {
	f := newDeletionFixture()
	other := f.images.add(uuid.New(), models.IndexStatusIndexed)

	res, err := f.service(0).DeleteImages(context.Background(), admin, f.eventID, []uuid.UUID{other.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ImagesRemoved)
	assert.Contains(t, f.images.images, other.ID)
}

func TestDeleteImages_BlobFailureKeepsRows(t *testing.T) {
	f := newDeletionFixture()
	a := f.indexedImage(2)
	f.storage.removeErr = errors.New("storage unavailable")

	_, err := f.service(0).DeleteImages(context.Background(), admin, f.eventID, []uuid.UUID{a.ID})
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrBlobDeleteFailed)

	assert.Contains(t, f.images.images, a.ID)
	assert.Len(t, f.faces.faces, 2)
	assert.Len(t, f.tags.tags, 1)
}

func TestDeleteImages_ProviderFailureIsBestEffort(t *testing.T) {
	f := newDeletionFixture()
	a := f.indexedImage(2)
	f.provider.deleteErr = errors.New("provider 500")

	res, err := f.service(0).DeleteImages(context.Background(), admin, f.eventID, []uuid.UUID{a.ID})
	require.NoError(t, err)
	assert.True(t, res.ProviderCleanupFailed)
	assert.Equal(t, 1, res.ImagesRemoved)
	assert.Empty(t, f.images.images)
}

func TestDeleteImages_ProviderDeletesInBatches(t *testing.T) {
	f := newDeletionFixture()
	a := f.indexedImage(5)

	res, err := f.service(2).DeleteImages(context.Background(), admin, f.eventID, []uuid.UUID{a.ID})
	require.NoError(t, err)
	assert.Equal(t, 5, res.ProviderFacesRemoved)
	require.Len(t, f.provider.deleted, 3)
	assert.Len(t, f.provider.deleted[0], 2)
	assert.Len(t, f.provider.deleted[2], 1)
}

func TestDeleteImages_Validation(t *testing.T) {
	f := newDeletionFixture()

	_, err := f.service(0).DeleteImages(context.Background(), services.Caller{}, f.eventID, []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, services.ErrForbidden)

	_, err = f.service(0).DeleteImages(context.Background(), admin, f.eventID, nil)
	assert.ErrorIs(t, err, services.ErrValidation)
}
