// Package ratelimit はクライアントIPごとのトークンバケットで接続を制限する.
// echo向けの echomw.RateLimiterMemoryStore (golang.org/x/time/rate を
// 内部で使う) と同じ発想を、Acceptorの生ソケット accept ループ向けに
// 直接 golang.org/x/time/rate.Limiter を使って再実装したもの
// (spec.md の Non-goals に含まれない、original_source にない補助機能).
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter はIPごとに独立したトークンバケットを保持する.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// New はrequestsPerSecondとburstを共通設定として使うLimiterを作る.
// requestsPerSecond <= 0 の場合、Allowは常にtrueを返す(無効化).
func New(requestsPerSecond float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

// Allow はclientIPがこの瞬間に接続を受け付けてよいか判定する.
func (l *Limiter) Allow(clientIP string) bool {
	if l.rps <= 0 {
		return true
	}

	l.mu.Lock()
	lim, ok := l.limiters[clientIP]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[clientIP] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}
