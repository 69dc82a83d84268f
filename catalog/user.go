package catalog

import (
	"context"
	"fmt"
	"time"
)

// User statuses.
const (
	UserStatusDisabled = 0
	UserStatusNormal   = 1
)

// User is a registered account.
type User struct {
	ID            int64      `json:"id"`
	Username      string     `json:"username"`
	Phone         string     `json:"phone"`
	Password      string     `json:"-"`
	Nickname      string     `json:"nickname"`
	Gender        int        `json:"gender"`
	UserStatus    int        `json:"user_status"`
	LastLoginTime *time.Time `json:"last_login_time,omitempty"`
	CreatedTime   time.Time  `json:"created_time"`
}

// ThirdPartyBinding links a user to an external identity provider
// account.
type ThirdPartyBinding struct {
	ID       int64
	UserID   int64
	Platform string
	OpenID   string
	UnionID  string
}

const userColumns = `id, COALESCE(username, ''), COALESCE(phone, ''),
	COALESCE(password, ''), COALESCE(nickname, ''), gender, user_status,
	last_login_time, created_time`

func scanUser(row interface{ Scan(...interface{}) error }) (User, error) {
	var u User
	var err = row.Scan(&u.ID, &u.Username, &u.Phone, &u.Password,
		&u.Nickname, &u.Gender, &u.UserStatus, &u.LastLoginTime, &u.CreatedTime)
	return u, err
}

func (s *Store) userBy(ctx context.Context, where string, arg interface{}) (*User, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var u, err = scanUser(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+userColumns+` FROM "user" WHERE `+where), arg))
	if isNoRows(err) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("querying user by %s: %w", where, err)
	}
	return &u, nil
}

// UserByID fetches one user, or ErrNotFound.
func (s *Store) UserByID(ctx context.Context, id int64) (*User, error) {
	return s.userBy(ctx, `id = ?`, id)
}

// UserByUsername fetches one user by account name, or ErrNotFound.
func (s *Store) UserByUsername(ctx context.Context, username string) (*User, error) {
	return s.userBy(ctx, `username = ?`, username)
}

// UserByPhone fetches one user by phone number, or ErrNotFound.
func (s *Store) UserByPhone(ctx context.Context, phone string) (*User, error) {
	return s.userBy(ctx, `phone = ?`, phone)
}

// CreateUser inserts a new account and fills in its generated ID.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	var id, err = s.insertReturningID(ctx, `
		INSERT INTO "user" (username, phone, password, nickname, gender, user_status, last_login_time, created_time, updated_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Phone, u.Password, u.Nickname, u.Gender, u.UserStatus,
		u.LastLoginTime, time.Now(), time.Now())
	if err != nil {
		return fmt.Errorf("inserting user %q: %w", u.Username, err)
	}
	u.ID = id
	return nil
}

// TouchLastLogin stamps the user's last login time.
func (s *Store) TouchLastLogin(ctx context.Context, userID int64) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var _, err = s.db.ExecContext(ctx,
		s.rebind(`UPDATE "user" SET last_login_time = ?, updated_time = ? WHERE id = ?`),
		time.Now(), time.Now(), userID)
	if err != nil {
		return fmt.Errorf("touching last login of user %d: %w", userID, err)
	}
	return nil
}

// BindingByOpenID resolves a third-party identity to its binding, or
// ErrNotFound.
func (s *Store) BindingByOpenID(ctx context.Context, platform, openID string) (*ThirdPartyBinding, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var b ThirdPartyBinding
	var err = s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, user_id, third_platform, third_openid, COALESCE(third_unionid, '')
		FROM user_third_party WHERE third_platform = ? AND third_openid = ?`),
		platform, openID).
		Scan(&b.ID, &b.UserID, &b.Platform, &b.OpenID, &b.UnionID)
	if isNoRows(err) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("querying %s binding: %w", platform, err)
	}
	return &b, nil
}

// CreateBinding records a new third-party identity binding.
func (s *Store) CreateBinding(ctx context.Context, b *ThirdPartyBinding) error {
	var id, err = s.insertReturningID(ctx, `
		INSERT INTO user_third_party (user_id, third_platform, third_openid, third_unionid, created_time)
		VALUES (?, ?, ?, ?, ?)`,
		b.UserID, b.Platform, b.OpenID, b.UnionID, time.Now())
	if err != nil {
		return fmt.Errorf("inserting %s binding for user %d: %w", b.Platform, b.UserID, err)
	}
	b.ID = id
	return nil
}
