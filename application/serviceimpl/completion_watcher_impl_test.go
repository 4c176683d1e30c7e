package serviceimpl

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retreat-photos/domain/models"
)

func newWatcherFixture() (*fakeImageRepo, *fakeLedger, *recordingNotifier, *models.Event) {
	return newFakeImageRepo(), newFakeLedger(), &recordingNotifier{}, &models.Event{ID: uuid.New(), Name: "Camp <North>"}
}

func markIndexed(t *testing.T, images *fakeImageRepo, eventID uuid.UUID) *models.EventImage {
	t.Helper()
	img := images.add(eventID, models.IndexStatusPending)
	claimID := uuid.New()
	_, err := images.ClaimForProcessing(context.Background(), []uuid.UUID{img.ID}, claimID)
	require.NoError(t, err)
	face := &models.Face{ImageID: img.ID, EventID: eventID, ProviderFaceID: "face-" + img.ID.String()}
	require.NoError(t, images.MarkIndexed(context.Background(), img.ID, claimID, []*models.Face{face}))
	return img
}

func TestCheckAndNotify_IncompleteEventDoesNothing(t *testing.T) {
	images, ledger, notifier, event := newWatcherFixture()
	w := NewCompletionWatcher(images, newFakeEventRepo(event), ledger, notifier, "")

	markIndexed(t, images, event.ID)
	images.add(event.ID, models.IndexStatusPending)

	res, err := w.CheckAndNotify(context.Background(), event.ID)
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.Equal(t, 0, notifier.broadcastCount())
}

func TestCheckAndNotify_ConcurrentCallersNotifyOnce(t *testing.T) {
	images, ledger, notifier, event := newWatcherFixture()
	w := NewCompletionWatcher(images, newFakeEventRepo(event), ledger, notifier, "")
	for i := 0; i < 3; i++ {
		markIndexed(t, images, event.ID)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.CheckAndNotify(context.Background(), event.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, notifier.broadcastCount())
	assert.Contains(t, notifier.broadcasts[0], "3 new photos")
	assert.Contains(t, notifier.broadcasts[0], "Camp &lt;North&gt;")
}

func TestCheckAndNotify_NewImagesAfterCompletionNotifyDelta(t *testing.T) {
	images, ledger, notifier, event := newWatcherFixture()
	w := NewCompletionWatcher(images, newFakeEventRepo(event), ledger, notifier, "%d new from %s")
	for i := 0; i < 3; i++ {
		markIndexed(t, images, event.ID)
	}
	_, err := w.CheckAndNotify(context.Background(), event.ID)
	require.NoError(t, err)

	markIndexed(t, images, event.ID)
	markIndexed(t, images, event.ID)
	res, err := w.CheckAndNotify(context.Background(), event.ID)
	require.NoError(t, err)
	assert.True(t, res.Notified)

	require.Equal(t, 2, notifier.broadcastCount())
	assert.Equal(t, "2 new from Camp &lt;North&gt;", notifier.broadcasts[1])
}

func TestCheckAndNotify_FailedBroadcastReleasesLedger(t *testing.T) {
	images, ledger, notifier, event := newWatcherFixture()
	w := NewCompletionWatcher(images, newFakeEventRepo(event), ledger, notifier, "")
	markIndexed(t, images, event.ID)

	notifier.err = errBoom
	_, err := w.CheckAndNotify(context.Background(), event.ID)
	require.ErrorIs(t, err, errBoom)
	assert.Empty(t, ledger.entries)

	notifier.err = nil
	res, err := w.CheckAndNotify(context.Background(), event.ID)
	require.NoError(t, err)
	assert.True(t, res.Notified)
	assert.Equal(t, 1, notifier.broadcastCount())
}
