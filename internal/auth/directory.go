package auth

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)"`
	Email     string    `gorm:"type:varchar(320);index"`
	CreatedAt time.Time `gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Directory reads accounts owned by the identity provider.
type Directory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) FindUser(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, ErrUserNotFound
	}
	var user User
	if err := d.db.WithContext(ctx).Raw(
		`SELECT id, email, created_at FROM users WHERE id = ? LIMIT 1`,
		id,
	).Scan(&user).Error; err != nil {
		return User{}, err
	}
	if user.ID == "" {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

// UpsertUser mirrors an account into the local table. An empty email never
// replaces a known one.
func (d *Directory) UpsertUser(ctx context.Context, user User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	return d.db.WithContext(ctx).Exec(
		`INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET email = CASE WHEN excluded.email = '' THEN users.email ELSE excluded.email END`,
		user.ID, user.Email, user.CreatedAt,
	).Error
}
