// Package auth 是注入给会话协调器的鉴权协作方。
// 核心只知道 Approve(name, credentials) → 确认后的用户名 | 拒绝。
package auth

import (
	"bytes"
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrRejected = errors.New("auth: credentials rejected")

// 凭据里以这个前缀开头的按 JWT 处理，其余按密码处理
var tokenPrefix = []byte("token:")

type Authenticator interface {
	Approve(ctx context.Context, name string, credentials []byte) (string, error)
}

// Open 不校验任何凭据，直接放行（未配置用户库时的默认）
type Open struct{}

func (Open) Approve(_ context.Context, name string, _ []byte) (string, error) {
	if name == "" {
		return "", ErrRejected
	}
	return name, nil
}

// UserDB 基于用户库的鉴权：密码走 bcrypt，令牌走 JWT
type UserDB struct {
	users UserSource
}

func NewUserDB(users UserSource) *UserDB {
	return &UserDB{users: users}
}

func (a *UserDB) Approve(ctx context.Context, name string, credentials []byte) (string, error) {
	if len(credentials) == 0 {
		return "", ErrRejected
	}

	if rest, ok := bytes.CutPrefix(credentials, tokenPrefix); ok {
		claims, err := ParseToken(string(rest))
		if err != nil {
			return "", ErrRejected
		}
		if claims.Type != "access" || claims.Username != name {
			return "", ErrRejected
		}
		return claims.Username, nil
	}

	u, err := a.users.GetUserByUsername(ctx, name)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrRejected
		}
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, credentials); err != nil {
		return "", ErrRejected
	}
	return u.Username, nil
}

// HashPassword 注册时生成密码哈希
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}
