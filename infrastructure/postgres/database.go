package postgres

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"retreat-photos/domain/models"
	"retreat-photos/domain/repositories"
)

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	LogLevel gormlogger.LogLevel
}

func NewDatabase(config DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		config.Host, config.User, config.Password, config.DBName, config.Port, config.SSLMode)

	return Open(dsn, config.LogLevel)
}

// Open connects with a raw DSN. Integration tests use it with a container DSN.
func Open(dsn string, level gormlogger.LogLevel) (*gorm.DB, error) {
	if level == 0 {
		level = gormlogger.Warn
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(level),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Event{},
		&models.Person{},
		&models.Registration{},
		&models.LinkToken{},
		&models.EventImage{},
		&models.Face{},
		&models.FaceTag{},
		&models.NotificationLedger{},
	); err != nil {
		return fmt.Errorf("failed to run auto migrations: %w", err)
	}

	return runPipelineMigrations(db)
}

// runPipelineMigrations adds what AutoMigrate cannot express.
func runPipelineMigrations(db *gorm.DB) error {
	migrations := []string{
		`DO $$ BEGIN
			ALTER TABLE event_images ADD CONSTRAINT chk_event_images_index_status
				CHECK (index_status IN ('pending', 'processing', 'indexed', 'failed'));
		EXCEPTION WHEN duplicate_object THEN NULL; END $$`,

		// Claim candidates are read oldest-updated first per event
		`CREATE INDEX IF NOT EXISTS idx_event_images_claimable
			ON event_images(event_id, updated_at)
			WHERE index_status IN ('pending', 'failed')`,

		`DO $$ BEGIN
			ALTER TABLE faces ADD CONSTRAINT fk_faces_event_image
				FOREIGN KEY (image_id) REFERENCES event_images(id) ON DELETE CASCADE;
		EXCEPTION WHEN duplicate_object THEN NULL; END $$`,

		`DO $$ BEGIN
			ALTER TABLE face_tags ADD CONSTRAINT fk_face_tags_event_image
				FOREIGN KEY (image_id) REFERENCES event_images(id) ON DELETE CASCADE;
		EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	}

	for _, sql := range migrations {
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("migration failed: %.60s: %w", sql, err)
		}
	}

	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repositories.ErrNotFound
	}
	return err
}
