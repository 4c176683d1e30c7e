package serviceimpl

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retreat-photos/domain/models"
)

func TestSendDailyDigest(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	persons := newFakePersonRepo()
	tags := newFakeTagRepo()
	ledger := newFakeLedger()
	sender := newFakeSender()
	notifier := NewNotificationService(persons, sender, NotificationConfig{})
	svc := NewDigestService(tags, persons, ledger, notifier, loc)

	alice := persons.add("Alice", "1")
	bob := persons.add("Bob", "2")
	silent := persons.add("Silent", "")
	eventID := uuid.New()

	now := time.Now()
	var fresh []*models.FaceTag
	for i := 0; i < 3; i++ {
		fresh = append(fresh, &models.FaceTag{ImageID: uuid.New(), PersonID: alice.ID, EventID: eventID})
	}
	fresh = append(fresh,
		&models.FaceTag{ImageID: uuid.New(), PersonID: bob.ID, EventID: eventID},
		&models.FaceTag{ImageID: uuid.New(), PersonID: silent.ID, EventID: eventID},
	)
	require.NoError(t, tags.Upsert(context.Background(), fresh))

	res, err := svc.SendDailyDigest(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.Sent)

	texts := map[string]string{}
	for _, m := range sender.messages() {
		texts[m.ChatID] = m.Text
	}
	assert.Contains(t, texts["1"], "<b>3</b> new photos")
	assert.Contains(t, texts["2"], "<b>1</b> new photo.")

	day := now.In(loc).Format("2006-01-02")
	assert.Contains(t, ledger.entries, "digest:"+day)

	// A second trigger on the same local day sends nothing.
	again, err := svc.SendDailyDigest(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Total)
	assert.Len(t, sender.messages(), 2)
}

func TestSendDailyDigest_NothingNew(t *testing.T) {
	ledger := newFakeLedger()
	svc := NewDigestService(newFakeTagRepo(), newFakePersonRepo(), ledger, &recordingNotifier{}, nil)

	res, err := svc.SendDailyDigest(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)
	assert.Empty(t, ledger.entries)
}
