package server

import (
	"fmt"
	"time"

	"minicraft/protocol"
)

// ClickAction 客户端点击意图：放置或删除
type ClickAction int

const (
	ClickDelete ClickAction = iota
	ClickBuild
)

// 常用方块类型
const (
	BlockAir        byte = 0
	BlockStone      byte = 1
	BlockGrass      byte = 2
	BlockDirt       byte = 3
	BlockBedrock    byte = 7
	BlockWater      byte = 8
	BlockStillWater byte = 9
	BlockLava       byte = 10
	BlockStillLava  byte = 11
	BlockDoubleSlab byte = 43
	BlockSlab       byte = 44
	BlockObsidian   byte = 49

	maxBlockType = BlockObsidian
)

// ClickEvent 一次方块点击（由服务端在会话循环中解释）；
// Clicking 钩子可以改写 Action/Block 或否决
type ClickEvent struct {
	Session *Session
	Coords  protocol.Vector3
	Action  ClickAction
	Block   byte
}

// BlockUpdate 排队等待世界 Tick 应用的方块变化
type BlockUpdate struct {
	Origin *Session
	Coords protocol.Vector3
	Block  byte
}

// CanPlaceResult 放置检查结果
type CanPlaceResult int

const (
	CanPlaceAllowed CanPlaceResult = iota
	CanPlaceBlocktypeDenied
	CanPlaceRankDenied
)

// canPlace 基于等级的放置权限检查
func (s *Session) canPlace(action ClickAction, block byte) CanPlaceResult {
	if block == BlockBedrock || block == BlockWater || block == BlockStillWater ||
		block == BlockLava || block == BlockStillLava {
		if !s.Can(PermLockBypass) {
			return CanPlaceBlocktypeDenied
		}
	}
	if action == ClickBuild && !s.Can(PermBuild) {
		return CanPlaceRankDenied
	}
	if action == ClickDelete && !s.Can(PermDelete) {
		return CanPlaceRankDenied
	}
	return CanPlaceAllowed
}

// maxReachSq 可点击的最远距离（7 个方块，1/32 单位下的平方）
const maxReachSq = (7 * 32) * (7 * 32)

// processSetBlock 解释客户端的方块点击：越界忽略，非法方块类型踢出
func (s *Session) processSetBlock(sb protocol.SetBlock) {
	s.touch()
	w := s.World()
	if w == nil {
		return
	}
	m := w.Map()
	if m == nil || !m.InBounds(sb.Coords) {
		return
	}
	if sb.Block > maxBlockType {
		Suspicious().Warnf("%s tried to place invalid block type %d", s.describe(), sb.Block)
		s.Kick("Hacking detected.", LeaveProtocolViolation)
		return
	}

	e := ClickEvent{Session: s, Coords: sb.Coords, Action: ClickDelete, Block: sb.Block}
	if sb.Build {
		e.Action = ClickBuild
	} else if s.paint.Load() {
		// 涂色模式：删除操作改为用手持方块替换
		e.Action = ClickBuild
	}
	if s.server.Hooks.clicking(&e) {
		s.revertBlock(m, e.Coords)
		return
	}
	if s.detectBlockSpam(time.Now()) {
		return
	}
	s.placeBlock(w, m, e, !sb.Build)
}

// detectBlockSpam 按等级配置的防破坏阈值，触发即踢出
func (s *Session) detectBlockSpam(now time.Time) bool {
	r := s.Rank()
	if r == nil || s.console {
		return false
	}
	if s.blockWindow == nil || s.blockRank != r {
		s.blockRank = r
		s.blockWindow = newSpamWindow(r.AntiGriefBlocks, time.Duration(r.AntiGriefSeconds)*time.Second)
	}
	if !s.blockWindow.Spammed(now) {
		return false
	}
	metricAbuse.WithLabelValues(abuseBlockSpam).Inc()
	Suspicious().Warnf("%s was kicked by the antigrief system (%d blocks in %ds)",
		s.describe(), r.AntiGriefBlocks, r.AntiGriefSeconds)
	s.Kick("You were kicked by antigrief system. Slow down.", LeaveBlockSpamKick)
	s.server.Message(fmt.Sprintf("&WPlayer %s&W was kicked for suspected griefing.", s.ClassyName()), s)
	return true
}

// revertBlock 把客户端的显示恢复为服务器上的方块
func (s *Session) revertBlock(m *Map, c protocol.Vector3) {
	s.Send(protocol.MakeSetBlock(c, m.GetBlock(c)))
}

func (s *Session) inReach(c protocol.Vector3) bool {
	pos := s.Position()
	dx := c.X*32 + 16 - int(pos.X)
	dy := c.Y*32 + 16 - int(pos.Y)
	dz := c.Z*32 + 16 - int(pos.Z)
	return dx*dx+dy*dy+dz*dz <= maxReachSq
}

// placeBlock 权限与世界状态检查后，把变化排入世界的更新队列。
// clientShowsAir 为 true 时客户端本地已显示为空气（涂色模式），需要回推给自己
func (s *Session) placeBlock(w *World, m *Map, e ClickEvent, clientShowsAir bool) {
	c := e.Coords
	old := m.GetBlock(c)

	if a := s.Account(); a != nil && a.IsFrozen() {
		s.revertBlock(m, c)
		return
	}
	if !s.inReach(c) && !s.Can(PermSpeedHack) {
		Suspicious().Infof("%s clicked out of reach at %v", s.describe(), c)
		s.revertBlock(m, c)
		return
	}
	if w.IsLocked() && !s.Can(PermLockBypass) {
		s.revertBlock(m, c)
		s.Message("&WThis map is currently locked (read-only).")
		return
	}
	switch s.canPlace(e.Action, e.Block) {
	case CanPlaceBlocktypeDenied:
		s.revertBlock(m, c)
		s.Message("&WYou are not permitted to affect this block type.")
		return
	case CanPlaceRankDenied:
		s.revertBlock(m, c)
		s.Messagef("&WYour rank is not allowed to %s blocks.", map[ClickAction]string{ClickBuild: "build", ClickDelete: "delete"}[e.Action])
		return
	}

	block := e.Block
	if e.Action == ClickDelete {
		block = BlockAir
	}

	// 半砖叠放：下方也是半砖时合成双层半砖
	below := protocol.Vector3{X: c.X, Y: c.Y, Z: c.Z - 1}
	if e.Action == ClickBuild && block == BlockSlab && c.Z > 0 && m.GetBlock(below) == BlockSlab {
		s.revertBlock(m, c)
		w.QueueUpdate(BlockUpdate{Coords: below, Block: BlockDoubleSlab})
		s.finishClick(e, below, BlockSlab, BlockDoubleSlab)
		return
	}

	origin := s
	if clientShowsAir && block != BlockAir {
		origin = nil
	}
	w.QueueUpdate(BlockUpdate{Origin: origin, Coords: c, Block: block})
	s.finishClick(e, c, old, block)
}

func (s *Session) finishClick(e ClickEvent, c protocol.Vector3, old, block byte) {
	if a := s.Account(); a != nil {
		a.RecordBlock(block != BlockAir)
	}
	s.server.Hooks.placedBlock(s, c, old, block)
	s.server.Hooks.clicked(e)
}
