package auth

import (
	"context"
	"sync"
	"time"
)

// SessionRegistry はログイン中のセッション ID を保持します。
// クッキーの中身が正しくても、登録のない ID は匿名として扱います。
type SessionRegistry interface {
	// Register はセッションを ttl の間だけ有効にします。
	Register(ctx context.Context, id string, ttl time.Duration) error
	// Active はセッションが有効かを返します。
	Active(ctx context.Context, id string) (bool, error)
	// Revoke はセッションを無効にします。未登録の ID でもエラーにしません。
	Revoke(ctx context.Context, id string) error
}

// MemoryRegistry はプロセス内のマップでセッションを管理します。
type MemoryRegistry struct {
	now func() time.Time

	lock     sync.Mutex
	sessions map[string]time.Time
}

// NewMemoryRegistry は MemoryRegistry を作成します。
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		now:      time.Now,
		sessions: make(map[string]time.Time),
	}
}

func (r *MemoryRegistry) Register(_ context.Context, id string, ttl time.Duration) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	now := r.now()
	// 期限切れのエントリはここでまとめて掃除する
	for sid, expires := range r.sessions {
		if !now.Before(expires) {
			delete(r.sessions, sid)
		}
	}
	r.sessions[id] = now.Add(ttl)
	return nil
}

func (r *MemoryRegistry) Active(_ context.Context, id string) (bool, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	expires, ok := r.sessions[id]
	if !ok {
		return false, nil
	}
	if !r.now().Before(expires) {
		delete(r.sessions, id)
		return false, nil
	}
	return true, nil
}

func (r *MemoryRegistry) Revoke(_ context.Context, id string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.sessions, id)
	return nil
}
