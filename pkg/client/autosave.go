// Package client 实现同步契约的客户端侧：快速编辑在本地聚合，
// 防抖窗口静默后带版本号批量提交；冲突永不静默覆盖，必须由上层显式处理。
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Patch 一批累积的本地编辑；后写的键覆盖先写的
type Patch map[string]any

// Merge 返回叠加结果，入参不变
func (p Patch) Merge(next Patch) Patch {
	out := make(Patch, len(p)+len(next))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range next {
		out[k] = v
	}
	return out
}

// FlushFunc 把累积 patch 连同客户端已知版本交给服务端；
// 成功返回提交后的新版本，版本落后返回 *Conflict
type FlushFunc func(ctx context.Context, patch Patch, version int64) (int64, error)

// Conflict 服务端拒绝过期写；Server 携带权威文档（原样 JSON 或已解码结构）
type Conflict struct {
	CurrentVersion int64
	Server         any
}

func (c *Conflict) Error() string {
	return fmt.Sprintf("save conflict: server at version %d", c.CurrentVersion)
}

type entry struct {
	patch   Patch
	inverse Patch
}

type Options struct {
	Window       time.Duration // 防抖窗口，默认 300ms
	MaxRetries   int           // 瞬态错误重试次数，默认 2
	RetryBackoff time.Duration // 重试间隔，默认 200ms
	HistoryLimit int           // undo/redo 栈深度，默认 100
	OnConflict   func(*Conflict)
	OnError      func(error)
	OnSaved      func(version int64)
}

// Autosaver 防抖批量保存 + 有界 undo/redo。
// 冲突后进入暂停态，新编辑只累积不上行，直到 Resolve 被调用。
type Autosaver struct {
	mu        sync.Mutex
	flush     FlushFunc
	opt       Options
	pending   Patch
	version   int64
	timer     *time.Timer
	paused    bool
	undoStack []entry
	redoStack []entry
	closed    bool
}

func NewAutosaver(flush FlushFunc, version int64, opt Options) *Autosaver {
	if opt.Window <= 0 {
		opt.Window = 300 * time.Millisecond
	}
	if opt.MaxRetries <= 0 {
		opt.MaxRetries = 2
	}
	if opt.RetryBackoff <= 0 {
		opt.RetryBackoff = 200 * time.Millisecond
	}
	if opt.HistoryLimit <= 0 {
		opt.HistoryLimit = 100
	}
	return &Autosaver{flush: flush, version: version, opt: opt}
}

// Record 记录一次本地编辑：patch 入待存区并重置防抖；
// inverse 是撤销该编辑所需的反向 patch，由调用方构造
func (a *Autosaver) Record(patch, inverse Patch) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.undoStack = append(a.undoStack, entry{patch: patch, inverse: inverse})
	if len(a.undoStack) > a.opt.HistoryLimit {
		a.undoStack = a.undoStack[1:]
	}
	a.redoStack = nil
	a.queueLocked(patch)
}

// Undo 弹出最近编辑并把反向 patch 排入保存队列；本地立即生效，落库等下次 flush
func (a *Autosaver) Undo() (Patch, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.undoStack) == 0 {
		return nil, false
	}
	e := a.undoStack[len(a.undoStack)-1]
	a.undoStack = a.undoStack[:len(a.undoStack)-1]
	a.redoStack = append(a.redoStack, e)
	a.queueLocked(e.inverse)
	return e.inverse, true
}

func (a *Autosaver) Redo() (Patch, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.redoStack) == 0 {
		return nil, false
	}
	e := a.redoStack[len(a.redoStack)-1]
	a.redoStack = a.redoStack[:len(a.redoStack)-1]
	a.undoStack = append(a.undoStack, e)
	a.queueLocked(e.patch)
	return e.patch, true
}

func (a *Autosaver) queueLocked(patch Patch) {
	if a.pending == nil {
		a.pending = Patch{}
	}
	a.pending = a.pending.Merge(patch)
	if a.paused {
		return
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.opt.Window, func() {
		_ = a.Flush(context.Background())
	})
}

// Flush 立即上行待存区（显式保存或防抖到点触发）
func (a *Autosaver) Flush(ctx context.Context) error {
	a.mu.Lock()
	if a.paused || a.closed || len(a.pending) == 0 {
		a.mu.Unlock()
		return nil
	}
	patch := a.pending
	version := a.version
	a.pending = nil
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= a.opt.MaxRetries; attempt++ {
		newVersion, err := a.flush(ctx, patch, version)
		if err == nil {
			a.mu.Lock()
			a.version = newVersion
			a.mu.Unlock()
			if a.opt.OnSaved != nil {
				a.opt.OnSaved(newVersion)
			}
			return nil
		}
		var conflict *Conflict
		if errors.As(err, &conflict) {
			// 过期写被拒：待存区放回、暂停上行，等上层合并或放弃
			a.mu.Lock()
			a.pending = patch.Merge(a.pending)
			a.paused = true
			a.mu.Unlock()
			if a.opt.OnConflict != nil {
				a.opt.OnConflict(conflict)
			}
			return err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = a.opt.MaxRetries
		case <-time.After(a.opt.RetryBackoff):
		}
	}

	// 重试预算用尽：编辑放回待存区，下次再试
	a.mu.Lock()
	a.pending = patch.Merge(a.pending)
	a.mu.Unlock()
	if a.opt.OnError != nil {
		a.opt.OnError(lastErr)
	}
	return lastErr
}

// Resolve 冲突后的显式决断：keepLocal=false 丢弃本地待存区，
// 否则保留待存区在新版本上重放；两种路径都恢复自动保存
func (a *Autosaver) Resolve(serverVersion int64, keepLocal bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.version = serverVersion
	a.paused = false
	if !keepLocal {
		a.pending = nil
		a.undoStack = nil
		a.redoStack = nil
		return
	}
	if len(a.pending) > 0 {
		p := a.pending
		a.pending = nil
		a.queueLocked(p)
	}
}

// Pending 测试与诊断用
func (a *Autosaver) Pending() Patch {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending.Merge(nil)
}

func (a *Autosaver) Version() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.version
}

// Close 停掉防抖计时器；已在途的 Flush 不受影响
func (a *Autosaver) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
