package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"blendrates/services/lending/store"
)

const defaultListLimit = 100

// ModifierUpdate is one persisted reactive modifier transition.
type ModifierUpdate struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	ReserveID        string    `gorm:"index;not null"`
	Utilization      string    `gorm:"not null"`
	PreviousModifier string    `gorm:"not null"`
	NextModifier     string    `gorm:"not null"`
	Created          bool
	ObservedAt       time.Time `gorm:"index"`
	CreatedAt        time.Time
}

// AutoMigrate performs the schema migrations for the history tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&ModifierUpdate{})
}

// Open connects to the history database. Supported drivers are "postgres"
// and "sqlite".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("history: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return db, nil
}

// Recorder appends modifier updates to the history table. It satisfies
// store.Recorder.
type Recorder struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRecorder wraps an open database handle.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db, now: time.Now}
}

// Record persists update.
func (r *Recorder) Record(ctx context.Context, update store.Update) error {
	row := ModifierUpdate{
		ID:               uuid.New(),
		ReserveID:        update.ReserveID,
		Utilization:      update.Utilization.String(),
		PreviousModifier: update.Previous.CurrentModifier.String(),
		NextModifier:     update.Next.CurrentModifier.String(),
		Created:          update.Created,
		ObservedAt:       update.ObservedAt.UTC(),
		CreatedAt:        r.now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("history: record %s: %w", update.ReserveID, err)
	}
	return nil
}

// List returns the most recent updates for reserveID, newest first. A
// non-positive limit falls back to 100.
func (r *Recorder) List(ctx context.Context, reserveID string, limit int) ([]ModifierUpdate, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var rows []ModifierUpdate
	err := r.db.WithContext(ctx).
		Where("reserve_id = ?", strings.TrimSpace(reserveID)).
		Order("observed_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("history: list %s: %w", reserveID, err)
	}
	return rows, nil
}
