package ledger

import (
	"math"
	"sync/atomic"
)

// Allocator 發放唯一、遞增、不重複使用的正整數 ID。
type Allocator struct {
	last atomic.Int64
}

// NewAllocator 建立配號器，下一個發出的 ID 為 floor+1。
func NewAllocator(floor int64) *Allocator {
	a := &Allocator{}
	a.Reserve(floor)
	return a
}

// Next 回傳下一個 ID；用盡時 panic。
func (a *Allocator) Next() int64 {
	for {
		cur := a.last.Load()
		if cur == math.MaxInt64 {
			panic(ErrIDsExhausted)
		}
		if a.last.CompareAndSwap(cur, cur+1) {
			return cur + 1
		}
	}
}

// Last 回傳最後發出（或保留）的 ID。
func (a *Allocator) Last() int64 {
	return a.last.Load()
}

// Reserve 將水位提高到至少 n，之後不會發出 <= n 的 ID。
func (a *Allocator) Reserve(n int64) {
	for {
		cur := a.last.Load()
		if n <= cur || a.last.CompareAndSwap(cur, n) {
			return
		}
	}
}
