package auth

import (
	"context"
	"sync"
	"time"
)

// LimiterSettings はログイン試行制限の設定です。
type LimiterSettings struct {
	MaxAttempts  int           // Window 内に許容する失敗回数
	Window       time.Duration // 失敗回数を数える期間
	LockDuration time.Duration // 上限到達後にロックする期間
}

// DefaultLimiterSettings は 5回/15分 で 10分ロックする設定を返します。
func DefaultLimiterSettings() LimiterSettings {
	return LimiterSettings{
		MaxAttempts:  5,
		Window:       15 * time.Minute,
		LockDuration: 10 * time.Minute,
	}
}

// AttemptLimiter はクライアント単位でログイン失敗を数えます。
type AttemptLimiter interface {
	// Check はロック中であれば残り時間を返します。
	Check(ctx context.Context, key string) (time.Duration, error)
	// RecordFailure は失敗を記録し、ロックまでの残り回数を返します。
	RecordFailure(ctx context.Context, key string) (int, error)
	// Reset は記録を消去します。
	Reset(ctx context.Context, key string) error
}

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// MemoryLimiter はプロセス内のマップで試行回数を管理します。
type MemoryLimiter struct {
	settings LimiterSettings
	now      func() time.Time

	lock     sync.Mutex
	attempts map[string]*attemptState
}

// NewMemoryLimiter は MemoryLimiter を作成します。
func NewMemoryLimiter(settings LimiterSettings) *MemoryLimiter {
	return &MemoryLimiter{
		settings: settings,
		now:      time.Now,
		attempts: make(map[string]*attemptState),
	}
}

func (l *MemoryLimiter) Check(_ context.Context, key string) (time.Duration, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	state, ok := l.attempts[key]
	if !ok {
		return 0, nil
	}
	now := l.now()
	if now.After(state.lockedUntil) {
		return 0, nil
	}
	return state.lockedUntil.Sub(now), nil
}

func (l *MemoryLimiter) RecordFailure(_ context.Context, key string) (int, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	now := l.now()
	state, ok := l.attempts[key]
	if !ok || (now.Sub(state.firstAttempt) > l.settings.Window && now.After(state.lockedUntil)) {
		state = &attemptState{firstAttempt: now}
		l.attempts[key] = state
	}

	state.count++
	if state.count >= l.settings.MaxAttempts {
		state.lockedUntil = now.Add(l.settings.LockDuration)
		state.count = l.settings.MaxAttempts
	}

	remaining := l.settings.MaxAttempts - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	delete(l.attempts, key)
	return nil
}
