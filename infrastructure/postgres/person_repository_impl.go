package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"retreat-photos/domain/models"
	"retreat-photos/domain/repositories"
)

type PersonRepositoryImpl struct {
	db *gorm.DB
}

func NewPersonRepository(db *gorm.DB) repositories.PersonRepository {
	return &PersonRepositoryImpl{db: db}
}

func (r *PersonRepositoryImpl) Create(ctx context.Context, person *models.Person) error {
	return r.db.WithContext(ctx).Create(person).Error
}

func (r *PersonRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	var person models.Person
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&person).Error; err != nil {
		return nil, notFound(err)
	}
	return &person, nil
}

func (r *PersonRepositoryImpl) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Person, error) {
	var persons []models.Person
	if len(ids) == 0 {
		return persons, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&persons).Error
	return persons, err
}

func (r *PersonRepositoryImpl) GetByChatID(ctx context.Context, chatID string) (*models.Person, error) {
	var person models.Person
	if err := r.db.WithContext(ctx).Where("telegram_chat_id = ?", chatID).First(&person).Error; err != nil {
		return nil, notFound(err)
	}
	return &person, nil
}

func (r *PersonRepositoryImpl) ClearChatID(ctx context.Context, personID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Person{}).
		Where("id = ?", personID).
		Updates(map[string]interface{}{
			"telegram_chat_id": nil,
			"updated_at":       time.Now().UTC(),
		}).Error
}

func (r *PersonRepositoryImpl) SubscribersForEvent(ctx context.Context, eventID uuid.UUID) ([]models.Person, error) {
	var persons []models.Person
	err := r.db.WithContext(ctx).
		Model(&models.Person{}).
		Joins("JOIN registrations ON registrations.person_id = persons.id").
		Where("registrations.event_id = ? AND registrations.status = ?", eventID, models.RegistrationActive).
		Where("persons.telegram_chat_id IS NOT NULL").
		Order("persons.created_at ASC").
		Find(&persons).Error
	return persons, err
}

type EventRepositoryImpl struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) repositories.EventRepository {
	return &EventRepositoryImpl{db: db}
}

func (r *EventRepositoryImpl) Create(ctx context.Context, event *models.Event) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *EventRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&event).Error; err != nil {
		return nil, notFound(err)
	}
	return &event, nil
}

func (r *EventRepositoryImpl) Register(ctx context.Context, eventID, personID uuid.UUID) error {
	reg := &models.Registration{
		EventID:  eventID,
		PersonID: personID,
		Status:   models.RegistrationActive,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "person_id"}, {Name: "event_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"status": models.RegistrationActive, "updated_at": time.Now().UTC()}),
		}).
		Create(reg).Error
}

type LinkTokenRepositoryImpl struct {
	db *gorm.DB
}

func NewLinkTokenRepository(db *gorm.DB) repositories.LinkTokenRepository {
	return &LinkTokenRepositoryImpl{db: db}
}

func (r *LinkTokenRepositoryImpl) Create(ctx context.Context, token *models.LinkToken) error {
	return r.db.WithContext(ctx).Create(token).Error
}

func (r *LinkTokenRepositoryImpl) GetByToken(ctx context.Context, token string) (*models.LinkToken, error) {
	var lt models.LinkToken
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&lt).Error; err != nil {
		return nil, notFound(err)
	}
	return &lt, nil
}

// Redeem flips used with a conditional update so two concurrent /start
// messages cannot both bind a chat. A chat handle belongs to one person, so
// any other person holding it is unlinked in the same transaction.
func (r *LinkTokenRepositoryImpl) Redeem(ctx context.Context, token string, chatID string) (*models.Person, error) {
	var person models.Person
	now := time.Now().UTC()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.LinkToken{}).
			Where("token = ? AND used = ?", token, false).
			Updates(map[string]interface{}{"used": true, "used_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repositories.ErrTokenUsed
		}

		var lt models.LinkToken
		if err := tx.Where("token = ?", token).First(&lt).Error; err != nil {
			return notFound(err)
		}

		if err := tx.Model(&models.Person{}).
			Where("telegram_chat_id = ? AND id <> ?", chatID, lt.PersonID).
			Update("telegram_chat_id", nil).Error; err != nil {
			return err
		}

		res = tx.Model(&models.Person{}).
			Where("id = ?", lt.PersonID).
			Updates(map[string]interface{}{"telegram_chat_id": chatID, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repositories.ErrNotFound
		}

		return tx.Where("id = ?", lt.PersonID).First(&person).Error
	})
	if err != nil {
		return nil, err
	}
	return &person, nil
}

type NotificationLedgerRepositoryImpl struct {
	db *gorm.DB
}

func NewNotificationLedgerRepository(db *gorm.DB) repositories.NotificationLedgerRepository {
	return &NotificationLedgerRepositoryImpl{db: db}
}

func (r *NotificationLedgerRepositoryImpl) Reserve(ctx context.Context, entry *models.NotificationLedger) error {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repositories.ErrLedgerTaken
	}
	return nil
}

func (r *NotificationLedgerRepositoryImpl) Complete(ctx context.Context, key string, sent, failed, blocked int) error {
	return r.db.WithContext(ctx).
		Model(&models.NotificationLedger{}).
		Where("key = ?", key).
		Updates(map[string]interface{}{"sent": sent, "failed": failed, "blocked": blocked}).Error
}

func (r *NotificationLedgerRepositoryImpl) Release(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Where("key = ?", key).Delete(&models.NotificationLedger{}).Error
}

func (r *NotificationLedgerRepositoryImpl) LatestIndexed(ctx context.Context, eventID uuid.UUID, kind string) (int64, error) {
	var entry models.NotificationLedger
	err := r.db.WithContext(ctx).
		Where("event_id = ? AND kind = ?", eventID, kind).
		Order("created_at DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return entry.Indexed, nil
}
