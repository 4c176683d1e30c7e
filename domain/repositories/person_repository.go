package repositories

import (
	"context"

	"github.com/google/uuid"

	"retreat-photos/domain/models"
)

type PersonRepository interface {
	Create(ctx context.Context, person *models.Person) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Person, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Person, error)
	GetByChatID(ctx context.Context, chatID string) (*models.Person, error)
	ClearChatID(ctx context.Context, personID uuid.UUID) error
	// SubscribersForEvent returns persons with an active registration and a chat handle.
	SubscribersForEvent(ctx context.Context, eventID uuid.UUID) ([]models.Person, error)
}

type EventRepository interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	Register(ctx context.Context, eventID, personID uuid.UUID) error
}

type LinkTokenRepository interface {
	Create(ctx context.Context, token *models.LinkToken) error
	GetByToken(ctx context.Context, token string) (*models.LinkToken, error)
	// Redeem marks the token used and binds chatID to its owner atomically.
	// Returns ErrTokenUsed when another redemption won.
	Redeem(ctx context.Context, token string, chatID string) (*models.Person, error)
}

type NotificationLedgerRepository interface {
	// Reserve inserts the key. Returns ErrLedgerTaken if it already exists.
	Reserve(ctx context.Context, entry *models.NotificationLedger) error
	Complete(ctx context.Context, key string, sent, failed, blocked int) error
	Release(ctx context.Context, key string) error
	// LatestIndexed is the indexed count recorded by the newest entry of kind for the event, or 0.
	LatestIndexed(ctx context.Context, eventID uuid.UUID, kind string) (int64, error)
}

// PollSessionRepository keeps poller state between polls.
type PollSessionRepository interface {
	Load(ctx context.Context, key string) (*models.PollSession, error)
	Save(ctx context.Context, key string, session *models.PollSession) error
}
