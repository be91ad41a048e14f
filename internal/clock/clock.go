// internal/clock/clock.go

// Package clock 提供帳本使用的時間來源。
// 所有時間戳一律為 UTC，且去除 monotonic reading，
// 讓 JSON 快照 round-trip 後仍可逐欄位比對。
package clock

import (
	"sync"
	"time"
)

// Clock 回傳「目前時間」。
type Clock interface {
	Now() time.Time
}

// System 包裝系統時鐘，保證回傳值單調不遞減（系統時間回撥時沿用上一次的值）。
type System struct {
	mu   sync.Mutex
	last time.Time
}

// NewSystem 建立系統時鐘。
func NewSystem() *System {
	return &System{}
}

// Now 回傳不早於上一次呼叫結果的 UTC 時間。
func (c *System) Now() time.Time {
	t := normalize(time.Now())
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.last) {
		return c.last
	}
	c.last = t
	return t
}

// Manual 為測試用時鐘，只有呼叫 Set / Advance 時才會前進。
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual 以指定起始時間建立 Manual 時鐘。
func NewManual(start time.Time) *Manual {
	return &Manual{now: normalize(start)}
}

func (c *Manual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 將時間往前推 d；d 為負數時忽略，維持單調性。
func (c *Manual) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}

// Set 直接設定時間；早於目前值時忽略。
func (c *Manual) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t = normalize(t)
	if t.After(c.now) {
		c.now = t
	}
}

func normalize(t time.Time) time.Time {
	return t.UTC().Round(0)
}
