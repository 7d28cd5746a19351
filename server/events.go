package server

import "minicraft/protocol"

// Hooks 会话生命周期中的扩展点。返回 true 的 *ing 回调表示否决，
// 否决总是在该转换产生任何副作用之前生效。未设置的回调视为放行
type Hooks struct {
	StateChanged func(s *Session, st SessionState)

	SessionConnecting   func(s *Session) (cancel bool)
	SessionConnected    func(s *Session)
	PlayerConnecting    func(s *Session) (cancel bool)
	PlayerConnected     func(s *Session, start *World) *World // 可改写起始世界
	PlayerReady         func(s *Session)
	JoiningWorld        func(s *Session, w *World, reason WorldChangeReason) (cancel bool)
	JoinedWorld         func(s *Session, from *World, reason WorldChangeReason)
	Moving              func(s *Session, from, to protocol.Position) (cancel bool)
	Moved               func(s *Session, from, to protocol.Position)
	Clicking            func(e *ClickEvent) (cancel bool)
	Clicked             func(e ClickEvent)
	PlacedBlock         func(s *Session, c protocol.Vector3, old, block byte)
	SessionDisconnected func(s *Session, reason LeaveReason)
	PlayerDisconnected  func(s *Session, reason LeaveReason)
}

func (h *Hooks) stateChanged(s *Session, st SessionState) {
	if h != nil && h.StateChanged != nil {
		h.StateChanged(s, st)
	}
}

func (h *Hooks) sessionConnecting(s *Session) bool {
	return h != nil && h.SessionConnecting != nil && h.SessionConnecting(s)
}

func (h *Hooks) sessionConnected(s *Session) {
	if h != nil && h.SessionConnected != nil {
		h.SessionConnected(s)
	}
}

func (h *Hooks) playerConnecting(s *Session) bool {
	return h != nil && h.PlayerConnecting != nil && h.PlayerConnecting(s)
}

func (h *Hooks) playerConnected(s *Session, start *World) *World {
	if h != nil && h.PlayerConnected != nil {
		if w := h.PlayerConnected(s, start); w != nil {
			return w
		}
	}
	return start
}

func (h *Hooks) playerReady(s *Session) {
	if h != nil && h.PlayerReady != nil {
		h.PlayerReady(s)
	}
}

func (h *Hooks) joiningWorld(s *Session, w *World, reason WorldChangeReason) bool {
	return h != nil && h.JoiningWorld != nil && h.JoiningWorld(s, w, reason)
}

func (h *Hooks) joinedWorld(s *Session, from *World, reason WorldChangeReason) {
	if h != nil && h.JoinedWorld != nil {
		h.JoinedWorld(s, from, reason)
	}
}

func (h *Hooks) moving(s *Session, from, to protocol.Position) bool {
	return h != nil && h.Moving != nil && h.Moving(s, from, to)
}

func (h *Hooks) moved(s *Session, from, to protocol.Position) {
	if h != nil && h.Moved != nil {
		h.Moved(s, from, to)
	}
}

func (h *Hooks) clicking(e *ClickEvent) bool {
	return h != nil && h.Clicking != nil && h.Clicking(e)
}

func (h *Hooks) clicked(e ClickEvent) {
	if h != nil && h.Clicked != nil {
		h.Clicked(e)
	}
}

func (h *Hooks) placedBlock(s *Session, c protocol.Vector3, old, block byte) {
	if h != nil && h.PlacedBlock != nil {
		h.PlacedBlock(s, c, old, block)
	}
}

func (h *Hooks) sessionDisconnected(s *Session, reason LeaveReason) {
	if h != nil && h.SessionDisconnected != nil {
		h.SessionDisconnected(s, reason)
	}
}

func (h *Hooks) playerDisconnected(s *Session, reason LeaveReason) {
	if h != nil && h.PlayerDisconnected != nil {
		h.PlayerDisconnected(s, reason)
	}
}
