package profilestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/okian/rentrank/internal/domain/model"
	"github.com/okian/rentrank/pkg/logger"
)

// Supported SQL drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// profileRow is the SQL layout of a profile.
type profileRow struct {
	ID             string    `gorm:"primaryKey;size:128"`
	Name           string    `gorm:"size:256"`
	Email          string    `gorm:"size:256"`
	RatingAverage  float64   `gorm:"not null;default:0"`
	RentalCount    int       `gorm:"not null;default:0"`
	LastActiveAt   time.Time `gorm:"not null"`
	CompositeScore float64   `gorm:"not null;default:0;index"`
	UpdatedAt      time.Time
}

func (profileRow) TableName() string { return "profiles" }

func rowFromProfile(p model.Profile) profileRow {
	return profileRow{
		ID:             p.ID,
		Name:           p.Name,
		Email:          p.Email,
		RatingAverage:  p.RatingAverage,
		RentalCount:    p.RentalCount,
		LastActiveAt:   p.LastActiveAt.UTC(),
		CompositeScore: p.CompositeScore,
	}
}

func (r profileRow) profile() model.Profile {
	return model.Profile{
		ID:             r.ID,
		Name:           r.Name,
		Email:          r.Email,
		RatingAverage:  r.RatingAverage,
		RentalCount:    r.RentalCount,
		LastActiveAt:   r.LastActiveAt.UTC(),
		CompositeScore: r.CompositeScore,
	}
}

// patchColumns maps the non-nil patch fields to column updates.
func patchColumns(patch model.ProfilePatch) map[string]any {
	cols := make(map[string]any, 6)
	if patch.Name != nil {
		cols["name"] = *patch.Name
	}
	if patch.Email != nil {
		cols["email"] = *patch.Email
	}
	if patch.RatingAverage != nil {
		cols["rating_average"] = *patch.RatingAverage
	}
	if patch.RentalCount != nil {
		cols["rental_count"] = *patch.RentalCount
	}
	if patch.LastActiveAt != nil {
		cols["last_active_at"] = patch.LastActiveAt.UTC()
	}
	if patch.CompositeScore != nil {
		cols["composite_score"] = *patch.CompositeScore
	}
	return cols
}

// GormStore is a Store on top of a SQL database.
type GormStore struct {
	db     *gorm.DB
	logger logger.Logger

	logLevel      gormlogger.LogLevel
	slowThreshold time.Duration
	maxOpenConns  int
	maxIdleConns  int
	autoMigrate   bool
}

var _ Store = (*GormStore)(nil)

// NewGormStore opens a SQL profile store. driver is "sqlite" or "postgres";
// for sqlite the dsn is a file path or ":memory:".
func NewGormStore(driver, dsn string, opts ...GormOption) (*GormStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, ErrMissingDSN
	}

	s := &GormStore{
		logLevel:      gormlogger.Silent,
		slowThreshold: 200 * time.Millisecond,
		autoMigrate:   true,
		logger:        logger.Get().Named("profile-store"),
	}
	for _, opt := range opts {
		opt(s)
	}

	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newSQLLogger(s.logger, s.logLevel, s.slowThreshold),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s profile store: %w", driver, err)
	}
	s.db = db

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("profile store pool: %w", err)
	}
	if s.maxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(s.maxOpenConns)
	}
	if s.maxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(s.maxIdleConns)
	}

	if s.autoMigrate {
		if err := db.AutoMigrate(&profileRow{}); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("migrate profiles: %w", err)
		}
	}

	return s, nil
}

// Get loads a single profile by id.
func (s *GormStore) Get(ctx context.Context, id string) (model.Profile, error) {
	var row profileRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Profile{}, model.ErrProfileNotFound
	}
	if err != nil {
		return model.Profile{}, fmt.Errorf("select profile %s: %w", id, err)
	}
	return row.profile(), nil
}

// Create inserts p, leaving an existing row with the same id untouched.
func (s *GormStore) Create(ctx context.Context, p model.Profile) (bool, error) {
	if p.ID == "" {
		return false, ErrEmptyID
	}
	row := rowFromProfile(p)
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("insert profile %s: %w", p.ID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Merge updates only the columns named by patch.
func (s *GormStore) Merge(ctx context.Context, id string, patch model.ProfilePatch) error {
	cols := patchColumns(patch)
	if len(cols) == 0 {
		_, err := s.Get(ctx, id)
		return err
	}
	res := s.db.WithContext(ctx).Model(&profileRow{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("update profile %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return model.ErrProfileNotFound
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
