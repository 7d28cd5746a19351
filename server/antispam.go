package server

import (
	"time"

	"golang.org/x/time/rate"

	"minicraft/protocol"
)

// spamWindow 固定容量的时间窗口：interval 内第 limit 次事件触发。
// 只保留最近 limit-1 个被放行的时间戳；触发的那次不记录
type spamWindow struct {
	limit    int
	interval time.Duration
	times    []time.Time
}

func newSpamWindow(limit int, interval time.Duration) *spamWindow {
	w := &spamWindow{limit: limit, interval: interval}
	if limit > 1 {
		w.times = make([]time.Time, 0, limit-1)
	}
	return w
}

// Spammed 记录一次事件，返回是否超出频率。limit <= 0 表示不限制
func (w *spamWindow) Spammed(now time.Time) bool {
	if w == nil || w.limit <= 0 {
		return false
	}
	if w.limit == 1 {
		return true
	}
	if len(w.times) >= w.limit-1 {
		oldest := w.times[0]
		copy(w.times, w.times[1:])
		w.times = w.times[:len(w.times)-1]
		if now.Sub(oldest) < w.interval {
			return true
		}
	}
	w.times = append(w.times, now)
	return false
}

const (
	// 单个移动报文允许的最大水平位移（平方，1/32 单位）与最大上升
	antiSpeedMaxDistanceSquared = 1024
	antiSpeedMaxJumpDelta       = 25
	// 上升超过该值直接拉回，不等待连续违规。下落不检查
	antiSpeedGrossJumpDelta = 4 * antiSpeedMaxJumpDelta

	movementSpamCount    = 200
	movementSpamInterval = 5 * time.Second
)

type moveVerdict int

const (
	moveAccept moveVerdict = iota
	moveReject             // 静默丢弃
	moveSnapBack           // 丢弃并把客户端拉回 lastValid
)

// movementGuard 反加速检测状态，只由会话自身的循环访问
type movementGuard struct {
	lastValid protocol.Position
	streak    int
	spam      *spamWindow
	warn      *rate.Limiter
}

func newMovementGuard(start protocol.Position) *movementGuard {
	return &movementGuard{
		lastValid: start,
		spam:      newSpamWindow(movementSpamCount, movementSpamInterval),
		warn:      rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (g *movementGuard) reset(pos protocol.Position) {
	g.lastValid = pos
	g.streak = 0
}

// check 以当前已接受位置 cur 判断 next。spammed 表示移动报文频率超限
func (g *movementGuard) check(cur, next protocol.Position, bypass bool, now time.Time) (v moveVerdict, spammed bool) {
	if bypass {
		g.reset(next)
		return moveAccept, false
	}
	spammed = g.spam.Spammed(now)

	dx := int(next.X) - int(cur.X)
	dy := int(next.Y) - int(cur.Y)
	dz := int(next.Z) - int(cur.Z)
	distSq := dx*dx + dy*dy

	if !spammed && dz > antiSpeedGrossJumpDelta {
		g.lastValid = cur
		g.streak = 0
		return moveSnapBack, false
	}
	if spammed || distSq > antiSpeedMaxDistanceSquared || dz > antiSpeedMaxJumpDelta {
		g.streak++
		if g.streak == 1 {
			g.lastValid = cur
			return moveReject, spammed
		}
		g.streak = 0
		return moveSnapBack, spammed
	}
	g.streak = 0
	g.lastValid = next
	return moveAccept, false
}

// allowWarning 拉回提示每秒最多一次
func (g *movementGuard) allowWarning(now time.Time) bool {
	return g.warn.AllowN(now, 1)
}
