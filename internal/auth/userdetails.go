package auth

import (
	"context"
	"errors"
)

// ErrUserNotFound はユーザー名に該当するユーザーが存在しないことを表します。
var ErrUserNotFound = errors.New("user not found")

// UserDetails はログイン判定に必要なユーザー情報です。
type UserDetails struct {
	Username     string
	PasswordHash string
	Roles        []string
	Enabled      bool
}

// UserDetailsService はユーザー名からユーザー情報を取得します。
// 該当ユーザーがいない場合は ErrUserNotFound を返します。
type UserDetailsService interface {
	LoadUserByUsername(ctx context.Context, username string) (*UserDetails, error)
}

// UserDetailsFunc は関数を UserDetailsService として扱うためのアダプターです。
type UserDetailsFunc func(ctx context.Context, username string) (*UserDetails, error)

func (f UserDetailsFunc) LoadUserByUsername(ctx context.Context, username string) (*UserDetails, error) {
	return f(ctx, username)
}
