package server

import (
	"errors"

	"minicraft/protocol"
)

// MaxVisibleEntities 协议限制：一个客户端同时最多看到 127 个其他实体
const MaxVisibleEntities = 127

// fullPositionUpdateInterval 每隔这么多轮强制发送绝对坐标，限制增量累积误差
const fullPositionUpdateInterval = 20

// 增量节流阈值：位移平方 / 角度变化平方
const (
	skipMovementThresholdSq = 64
	skipRotationThresholdSq = 1500
)

// ErrEntityIDsExhausted 127 个实体 ID 全部占用（正常簿记下不应发生）
var ErrEntityIDsExhausted = errors.New("visibility: entity IDs exhausted")

// visibleEntity 本会话视角下的另一个会话
type visibleEntity struct {
	id          byte
	target      *Session
	lastKnown   protocol.Position
	rank        *Rank
	hidden      bool
	retained    bool
	skippedLast bool
}

// entityCandidate 一轮可见性计算中另一个会话的快照
type entityCandidate struct {
	session *Session
	name    string
	rank    *Rank
	pos     protocol.Position
	canSee  bool
}

// entityTracker 固定 127 槽的实体表 + 空闲 ID 栈。只由所属会话的循环访问
type entityTracker struct {
	slots    [MaxVisibleEntities]*visibleEntity
	free     []byte
	byTarget map[*Session]*visibleEntity
	passes   int
}

func newEntityTracker() *entityTracker {
	t := &entityTracker{
		free:     make([]byte, 0, MaxVisibleEntities),
		byTarget: make(map[*Session]*visibleEntity),
	}
	// 倒序入栈，先分配到小 ID
	for id := MaxVisibleEntities; id >= 1; id-- {
		t.free = append(t.free, byte(id))
	}
	return t
}

func (t *entityTracker) allocate(target *Session) (*visibleEntity, error) {
	if len(t.free) == 0 {
		return nil, ErrEntityIDsExhausted
	}
	id := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	e := &visibleEntity{id: id, target: target}
	t.slots[id-1] = e
	t.byTarget[target] = e
	return e, nil
}

func (t *entityTracker) release(e *visibleEntity) {
	if t.slots[e.id-1] != e {
		return
	}
	t.slots[e.id-1] = nil
	delete(t.byTarget, e.target)
	t.free = append(t.free, e.id)
}

func (t *entityTracker) Len() int { return len(t.byTarget) }

// reset 移除全部实体并返回对应的 remove-entity 报文（切换世界时使用）
func (t *entityTracker) reset() []protocol.Packet {
	out := make([]protocol.Packet, 0, len(t.byTarget))
	for _, e := range t.slots {
		if e == nil {
			continue
		}
		out = append(out, protocol.MakeRemoveEntity(e.id))
		t.release(e)
	}
	t.passes = 0
	return out
}

// update 执行一轮可见性计算，产生的报文交给 emit
func (t *entityTracker) update(self protocol.Position, candidates []entityCandidate, p bandwidthProfile, emit func(protocol.Packet)) error {
	t.passes++
	forceFull := t.passes%fullPositionUpdateInterval == 0

	for _, c := range candidates {
		dist := self.DistanceSquaredTo(c.pos)
		e := t.byTarget[c.session]
		if e == nil {
			if !c.canSee || dist > p.showDistanceSq {
				continue
			}
			var err error
			if e, err = t.allocate(c.session); err != nil {
				return err
			}
			e.retained = true
			e.rank = c.rank
			e.lastKnown = c.pos
			emit(protocol.MakeAddEntity(e.id, c.name, c.pos))
			continue
		}
		e.retained = true

		if e.rank != c.rank {
			// 显示名变化：重新生成实体
			e.rank = c.rank
			e.skippedLast = false
			pos := c.pos
			if e.hidden {
				pos = protocol.HiddenPosition
			}
			e.lastKnown = pos
			emit(protocol.MakeRemoveEntity(e.id))
			emit(protocol.MakeAddEntity(e.id, c.name, pos))
			continue
		}

		if e.hidden {
			if c.canSee && dist < p.showDistanceSq {
				e.hidden = false
				e.skippedLast = false
				e.lastKnown = c.pos
				emit(protocol.MakeTeleport(e.id, c.pos))
			}
			continue
		}
		if !c.canSee || dist > p.hideDistanceSq {
			e.hidden = true
			e.lastKnown = protocol.HiddenPosition
			emit(protocol.MakeTeleport(e.id, protocol.HiddenPosition))
			continue
		}
		t.move(e, c.pos, p, forceFull, emit)
	}

	for _, e := range t.slots {
		if e == nil {
			continue
		}
		if !e.retained {
			emit(protocol.MakeRemoveEntity(e.id))
			t.release(e)
			continue
		}
		e.retained = false
	}
	return nil
}

// move 选择位置更新的编码：跳过、增量移动+旋转、增量移动、仅旋转或绝对传送
func (t *entityTracker) move(e *visibleEntity, pos protocol.Position, p bandwidthProfile, forceFull bool, emit func(protocol.Packet)) {
	delta := e.lastKnown.Delta(pos)
	if delta.IsZero() {
		return
	}
	if forceFull || !p.partialUpdates || !delta.FitsIntoMoveRotate() {
		e.skippedLast = false
		e.lastKnown = pos
		emit(protocol.MakeTeleport(e.id, pos))
		return
	}

	if p.skipUpdates && !e.skippedLast {
		distSq := int(delta.X)*int(delta.X) + int(delta.Y)*int(delta.Y) + int(delta.Z)*int(delta.Z)
		dr, dl := int(int8(delta.R)), int(int8(delta.L))
		if distSq < skipMovementThresholdSq && dr*dr+dl*dl < skipRotationThresholdSq {
			e.skippedLast = true
			return
		}
	}
	e.skippedLast = false

	moved, rotated := delta.PositionChanged(), delta.RotationChanged()
	switch {
	case moved && rotated:
		emit(protocol.MakeMoveRotate(e.id, delta, pos.R, pos.L))
	case moved:
		emit(protocol.MakeMove(e.id, delta))
	case rotated:
		emit(protocol.MakeRotate(e.id, pos))
	}
	e.lastKnown = pos
}
