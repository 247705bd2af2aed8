package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mahaj/chatcore/pkg/model"
)

type userRecord struct {
	ID        string `gorm:"column:id;primaryKey"`
	Username  string `gorm:"column:username"`
	FirstName string `gorm:"column:first_name"`
	LastName  string `gorm:"column:last_name"`
	Role      string `gorm:"column:role"`
}

func (userRecord) TableName() string { return "users" }

func (r userRecord) toModel() model.User {
	role := model.Role(r.Role)
	if role == "" {
		role = model.RoleUser
	}
	return model.User{ID: r.ID, Username: r.Username, FirstName: r.FirstName, LastName: r.LastName, Role: role}
}

// Postgres reads the shared users table.
type Postgres struct {
	db *gorm.DB
}

// OpenPostgres connects with gorm and checks the connection.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open directory db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping directory db: %w", err)
	}
	return &Postgres{db: db}, nil
}

func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Get(ctx context.Context, id string) (model.User, error) {
	var rec userRecord
	err := p.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.User{}, ErrUserNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	return rec.toModel(), nil
}

func (p *Postgres) GetMany(ctx context.Context, ids []string) (map[string]model.User, error) {
	out := make(map[string]model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var recs []userRecord
	if err := p.db.WithContext(ctx).Where("id IN ?", ids).Find(&recs).Error; err != nil {
		return nil, err
	}
	for _, r := range recs {
		out[r.ID] = r.toModel()
	}
	return out, nil
}

func (p *Postgres) ListExcept(ctx context.Context, excludeID string) ([]model.User, error) {
	var recs []userRecord
	err := p.db.WithContext(ctx).
		Where("id <> ?", excludeID).
		Order("username, id").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	users := make([]model.User, 0, len(recs))
	for _, r := range recs {
		users = append(users, r.toModel())
	}
	return users, nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
