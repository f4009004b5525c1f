package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
)

type User struct {
	ID           uint64
	Username     string
	PasswordHash []byte
}

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUsernameTaken = errors.New("username already taken")
)

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 3*time.Second)
}

// UserSource 是核心需要的最小用户查询面，测试里可以注入内存实现
type UserSource interface {
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// SQLUserStore 基于 users 表的实现
type SQLUserStore struct{ db *sql.DB }

func NewSQLUserStore(db *sql.DB) *SQLUserStore {
	return &SQLUserStore{db: db}
}

func (s *SQLUserStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	const q = `SELECT id, username, password_hash FROM users WHERE username = ?;`
	var u User
	err := s.db.QueryRowContext(ctx, q, username).Scan(&u.ID, &u.Username, &u.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateUser 注册用户（add-user 子命令用）
func (s *SQLUserStore) CreateUser(ctx context.Context, username string, passwordHash []byte) (uint64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const q = `INSERT INTO users (username, password_hash, created_at, updated_at) VALUES (?, ?, NOW(), NOW());`
	res, err := s.db.ExecContext(ctx, q, username, passwordHash)
	if err != nil {
		// 1062 = duplicate key
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return 0, ErrUsernameTaken
		}
		return 0, err
	}
	id, _ := res.LastInsertId()
	return uint64(id), nil
}
