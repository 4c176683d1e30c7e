package serviceimpl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retreat-photos/domain/services"
	"retreat-photos/pkg/retry"
)

// gaugeSender records the highest number of sends in flight at once.
type gaugeSender struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	count    atomic.Int32
	hold     time.Duration
}

func (s *gaugeSender) SendMessage(ctx context.Context, chatID, text, format string) error {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(s.hold)
	s.count.Add(1)
	return nil
}

func TestBroadcast_BatchesWithDelay(t *testing.T) {
	persons := newFakePersonRepo()
	eventID := uuid.New()
	for i := 0; i < 130; i++ {
		p := persons.add(fmt.Sprintf("guest-%d", i), fmt.Sprintf("%d", 1000+i))
		persons.register(eventID, p.ID)
	}

	sender := &gaugeSender{hold: 5 * time.Millisecond}
	delay := 100 * time.Millisecond
	svc := NewNotificationService(persons, sender, NotificationConfig{BatchSize: 25, BatchDelay: delay})

	start := time.Now()
	res, err := svc.Broadcast(context.Background(), admin, eventID, "hello", "HTML")
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Equal(t, 130, res.Total)
	assert.Equal(t, 130, res.Sent)
	assert.Equal(t, int32(130), sender.count.Load())
	assert.LessOrEqual(t, sender.peak.Load(), int32(25))
	// 130 recipients make 6 batches and 5 pauses.
	assert.GreaterOrEqual(t, elapsed, 5*delay)
}

func TestBroadcast_PrunesBlockedRecipients(t *testing.T) {
	persons := newFakePersonRepo()
	eventID := uuid.New()
	ok := persons.add("ok", "1")
	blocked := persons.add("blocked", "2")
	broken := persons.add("broken", "3")
	persons.register(eventID, ok.ID, blocked.ID, broken.ID)

	sender := newFakeSender()
	sender.errs["2"] = retry.Refused(errors.New("Forbidden: bot was blocked by the user"))
	sender.errs["3"] = retry.Permanent(errors.New("Bad Request: message is too long"))

	svc := NewNotificationService(persons, sender, NotificationConfig{})
	res, err := svc.Broadcast(context.Background(), admin, eventID, "hello", "HTML")
	require.NoError(t, err)

	assert.Equal(t, &services.BroadcastResult{Total: 3, Sent: 1, Failed: 1, Blocked: 1}, res)
	assert.Nil(t, persons.chatOf(blocked.ID))
	assert.NotNil(t, persons.chatOf(broken.ID))

	// The unlinked recipient is skipped next time.
	res, err = svc.Broadcast(context.Background(), admin, eventID, "again", "HTML")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
}

func TestBroadcast_CancelledContextCountsRemainingAsFailed(t *testing.T) {
	persons := newFakePersonRepo()
	eventID := uuid.New()
	for i := 0; i < 30; i++ {
		p := persons.add("g", fmt.Sprintf("%d", i))
		persons.register(eventID, p.ID)
	}

	svc := NewNotificationService(persons, newFakeSender(), NotificationConfig{BatchSize: 25, BatchDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := svc.Broadcast(ctx, admin, eventID, "hello", "")
	require.NoError(t, err)
	assert.Equal(t, 25, res.Sent)
	assert.Equal(t, 5, res.Failed)
}

func TestSendSingle(t *testing.T) {
	persons := newFakePersonRepo()
	linked := persons.add("linked", "1")
	unlinked := persons.add("unlinked", "")
	blocked := persons.add("blocked", "2")
	failing := persons.add("failing", "3")

	sender := newFakeSender()
	sender.errs["2"] = retry.Refused(errors.New("Forbidden: user is deactivated"))
	sender.errs["3"] = retry.Transient(errors.New("Internal Server Error"))
	svc := NewNotificationService(persons, sender, NotificationConfig{})
	ctx := context.Background()

	res, err := svc.SendSingle(ctx, admin, linked.ID, "hi", "")
	require.NoError(t, err)
	assert.True(t, res.Sent)

	res, err = svc.SendSingle(ctx, admin, unlinked.ID, "hi", "")
	require.NoError(t, err)
	assert.True(t, res.NotSubscribed)

	res, err = svc.SendSingle(ctx, admin, blocked.ID, "hi", "")
	require.NoError(t, err)
	assert.True(t, res.Blocked)
	assert.Nil(t, persons.chatOf(blocked.ID))

	_, err = svc.SendSingle(ctx, admin, failing.ID, "hi", "")
	assert.Error(t, err)

	_, err = svc.SendSingle(ctx, admin, uuid.New(), "hi", "")
	assert.ErrorIs(t, err, services.ErrNotFound)

	_, err = svc.SendSingle(ctx, services.Caller{CanManagePhotos: true}, linked.ID, "hi", "")
	assert.ErrorIs(t, err, services.ErrForbidden)

	_, err = svc.SendSingle(ctx, admin, linked.ID, "   ", "")
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestSendSingleAsync_OutlivesCaller(t *testing.T) {
	persons := newFakePersonRepo()
	p := persons.add("Alice", "1")
	sender := newFakeSender()
	sender.delay = 50 * time.Millisecond
	svc := NewNotificationService(persons, sender, NotificationConfig{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.SendSingleAsync(p.ID, "found you", "HTML")
	}()
	wg.Wait()

	assert.Empty(t, sender.messages())
	svc.Wait()
	require.Len(t, sender.messages(), 1)
	assert.Equal(t, "found you", sender.messages()[0].Text)
}
