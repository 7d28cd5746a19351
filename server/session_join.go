package server

import (
	"errors"
	"fmt"

	"minicraft/protocol"
)

// errJoinDenied 切换世界被钩子否决
var errJoinDenied = errors.New("joining world denied")

// joinRequest 等待会话循环执行的世界切换
type joinRequest struct {
	world  *World
	pos    *protocol.Position
	reason WorldChangeReason
}

// JoinWorld 请求切换到 w 的出生点（任意协程可调用，下一轮循环执行）
func (s *Session) JoinWorld(w *World, reason WorldChangeReason) {
	s.setPendingJoin(&joinRequest{world: w, reason: reason})
}

// JoinWorldAt 请求切换到 w 的指定位置
func (s *Session) JoinWorldAt(w *World, pos protocol.Position, reason WorldChangeReason) {
	s.setPendingJoin(&joinRequest{world: w, pos: &pos, reason: reason})
}

func (s *Session) setPendingJoin(req *joinRequest) {
	if s.console || req.world == nil {
		return
	}
	s.joinMu.Lock()
	s.pendingJoin = req
	s.joinMu.Unlock()
}

func (s *Session) takePendingJoin() *joinRequest {
	s.joinMu.Lock()
	defer s.joinMu.Unlock()
	req := s.pendingJoin
	s.pendingJoin = nil
	return req
}

// joinWorldNow 在会话协程中执行入世界协议：
// 释放旧世界 → 重置可见实体 → 清空低优先队列 → 传输地图 → 生成自身并传送
func (s *Session) joinWorldNow(req joinRequest) error {
	w := req.world
	if s.server.Hooks.joiningWorld(s, w, req.reason) {
		return errJoinDenied
	}
	old := s.World()

	if old != nil && old != w {
		if !old.ReleasePlayer(s) {
			Log.Errorf("Session.joinWorldNow: %s was not in world %s", s.Name(), old.Name)
		}
	}

	for _, p := range s.vis.reset() {
		if err := s.writePacket(p); err != nil {
			return err
		}
	}
	s.out.low.Clear()

	m, err := w.AcceptPlayer(s, old != nil && old != w && s.server.cfg.ShowConnectionMessages)
	if err != nil {
		if old != nil && old != w {
			// 回到原来的世界，客户端仍持有旧地图
			if _, rerr := old.AcceptPlayer(s, false); rerr != nil {
				Log.Errorf("Session.joinWorldNow: could not return %s to %s: %v", s.Name(), old.Name, rerr)
			}
		}
		return err
	}
	s.world.Store(w)

	pos := m.Spawn
	if req.pos != nil {
		pos = *req.pos
	}
	s.setPosition(pos)
	s.movement.reset(pos)

	if old != nil {
		if err := s.writePacket(protocol.MakeHandshake(s.server.cfg.ServerName,
			"Loading world "+w.Name, s.Can(PermLockBypass))); err != nil {
			return err
		}
	}

	if err := s.transferMap(m); err != nil {
		return err
	}

	if err := s.writePacket(protocol.MakeAddEntity(protocol.SelfID, s.Name(), pos)); err != nil {
		return err
	}
	if err := s.writePacket(protocol.MakeSelfTeleport(pos)); err != nil {
		return err
	}
	if err := s.transport.Flush(); err != nil {
		return err
	}

	metricMapTransfers.Inc()
	s.Message(fmt.Sprintf("&SJoined world %s", w.ClassyName()))
	if w.Greeting != "" {
		s.Message(w.Greeting)
	}
	UserActivity().Infof("%s joined world %s", s.Name(), w.Name)
	s.server.Hooks.joinedWorld(s, old, req.reason)
	return nil
}

// transferMap map-begin → 1024 字节分块 → map-end（传输期间关闭 NoDelay 以合并小包）
func (s *Session) transferMap(m *Map) error {
	data, err := m.CompressedCopy()
	if err != nil {
		return fmt.Errorf("compressing map: %w", err)
	}
	_ = s.transport.SetNoDelay(false)
	defer func() { _ = s.transport.SetNoDelay(s.server.cfg.LowLatencyMode) }()

	if err := s.writePacket(protocol.MakeMapBegin()); err != nil {
		return err
	}
	if err := protocol.MapChunks(data, s.writePacket); err != nil {
		return err
	}
	return s.writePacket(protocol.MakeMapEnd(m.Width, m.Height, m.Length))
}
