package server

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"minicraft/protocol"
)

const (
	// sleepDelay 每轮循环末尾的让出间隔，也是唯一的挂起点
	sleepDelay = 5 * time.Millisecond
	// pollInterval 每隔多少轮检查一次连接存活（约 1 秒）
	pollInterval = 200
	// pingInterval 每隔多少次存活检查发送一次心跳并统计带宽（约 3 秒）
	pingInterval = 3
)

// errKicked 踢出报文已写出，循环正常结束
var errKicked = errors.New("kicked")

// panicError 把 recover 到的值转换为带调用栈的错误
func panicError(r any) error {
	return fmt.Errorf("panic: %v\n%s", r, debug.Stack())
}

// run 会话协程入口：登录，然后进入 I/O 循环；所有退出路径汇入 disconnect
func (s *Session) run() {
	defer s.disconnect()
	defer func() {
		if r := recover(); r != nil {
			s.setLeaveReason(LeaveServerError)
			LogAndReportCrash("Session.run: "+s.describe(), panicError(r))
		}
	}()
	metricSessionsStarted.Inc()

	if s.server.Hooks.sessionConnecting(s) {
		s.setLeaveReason(LeaveLoginFailed)
		return
	}
	s.server.Hooks.sessionConnected(s)

	if err := s.loginSequence(); err != nil {
		s.finish(err)
		return
	}
	s.finish(s.ioLoop())
}

// finish 按错误类型设置断开原因
func (s *Session) finish(err error) {
	switch {
	case err == nil, errors.Is(err, errLoginAborted), errors.Is(err, errKicked):
		s.setLeaveReason(LeaveClientQuit)
	case isTransportError(err):
		s.setLeaveReason(LeaveClientQuit)
	default:
		s.setLeaveReason(LeaveServerError)
		LogAndReportCrash("Session: "+s.describe(), err)
	}
}

// ioLoop 单协程协作式循环：存活检查 → 可见性 → 出站 → 世界切换 → 入站 → 休眠
func (s *Session) ioLoop() error {
	pollCounter, pingCounter := 0, 0
	maxPackets := s.server.cfg.MaxSessionPacketsPerTick

	for {
		pollCounter++
		if pollCounter >= pollInterval {
			pollCounter = 0
			if _, err := s.transport.Available(); err != nil {
				return err
			}
			pingCounter++
			if pingCounter >= pingInterval {
				pingCounter = 0
				if err := s.writePacket(protocol.MakePing()); err != nil {
					return err
				}
				sent, recv := s.meter.measure(time.Now(), s.BytesSent(), s.BytesReceived())
				s.sendRate.Store(sent)
				s.recvRate.Store(recv)
			}
		}

		if err := s.visibilityCheckpoint(); err != nil {
			return err
		}

		if err := s.drainQueues(maxPackets); err != nil {
			return err
		}

		if req := s.takePendingJoin(); req != nil {
			if err := s.drainPriority(); err != nil {
				return err
			}
			if err := s.joinWorldNow(*req); err != nil {
				if !errors.Is(err, errJoinDenied) && !errors.Is(err, ErrWorldFull) {
					return err
				}
				s.Messagef("&WCould not join %s: %v", req.world.ClassyName(), err)
			}
			if err := s.visibilityCheckpoint(); err != nil {
				return err
			}
		}

		for !s.out.isClosed() {
			n, err := s.transport.Available()
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
			if err := s.dispatch(); err != nil {
				return err
			}
			if err := s.visibilityCheckpoint(); err != nil {
				return err
			}
		}

		time.Sleep(sleepDelay)
	}
}

// drainQueues 写出最多 budget 个报文，优先队列先行；静音时丢弃非空白聊天
func (s *Session) drainQueues(budget int) error {
	sent := 0
	for sent < budget {
		p, ok := s.out.Next()
		if !ok {
			break
		}
		if err := s.writeQueued(p); err != nil {
			return err
		}
		sent++
		if err := s.visibilityCheckpoint(); err != nil {
			return err
		}
	}
	if sent > 0 {
		return s.transport.Flush()
	}
	return nil
}

// drainPriority 世界切换前写完优先队列，保证之前排队的踢出仍然送达
func (s *Session) drainPriority() error {
	for {
		p, ok := s.out.priority.Dequeue()
		if !ok {
			return s.transport.Flush()
		}
		if err := s.writeQueued(p); err != nil {
			return err
		}
	}
}

// writeQueued 写出一个出队的报文；踢出报文写出后结束循环
func (s *Session) writeQueued(p protocol.Packet) error {
	if p.OpCode() == protocol.OpMessage && s.deaf.Load() && !protocol.IsBlank(p.MessageText()) {
		return nil
	}
	if err := s.writePacket(p); err != nil {
		return err
	}
	if p.OpCode() == protocol.OpKick {
		s.setLeaveReason(LeaveKick)
		if err := s.transport.Flush(); err != nil && !isTransportError(err) {
			return err
		}
		return errKicked
	}
	return nil
}

// visibilityCheckpoint 距离上次可见性计算足够久时执行一轮
func (s *Session) visibilityCheckpoint() error {
	now := time.Now()
	profile := profileFor(s.EffectiveBandwidthMode())
	if now.Sub(s.lastVisPass) < profile.visibleInterval {
		return nil
	}
	s.lastVisPass = now
	return s.updateVisibleEntities(profile)
}

func (s *Session) updateVisibleEntities(profile bandwidthProfile) error {
	w := s.World()
	if w == nil || s.State() != StateOnline {
		return nil
	}
	start := time.Now()
	players := w.Players()
	candidates := make([]entityCandidate, 0, len(players))
	for _, o := range players {
		if o == s || o.State() != StateOnline {
			continue
		}
		candidates = append(candidates, entityCandidate{
			session: o,
			name:    o.ClassyName(),
			rank:    o.Rank(),
			pos:     o.Position(),
			canSee:  s.CanSee(o),
		})
	}
	err := s.vis.update(s.Position(), candidates, profile, s.out.Send)
	metricVisibilityPass.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("visibility pass for %s: %w", s.Name(), err)
	}
	return nil
}

// dispatch 读取并处理一个入站报文
func (s *Session) dispatch() error {
	b, err := s.reader.ReadByte()
	if err != nil {
		return err
	}
	op := protocol.OpCode(b)
	switch op {
	case protocol.OpPing:
	case protocol.OpMessage:
		if _, err := s.reader.ReadByte(); err != nil {
			return err
		}
		raw, err := s.reader.ReadBytes(protocol.StringSize)
		if err != nil {
			return err
		}
		s.handleMessage(raw)
	case protocol.OpTeleport:
		pos, err := s.reader.ReadMovement()
		if err != nil {
			return err
		}
		s.processMovement(pos)
	case protocol.OpSetBlockClient:
		sb, err := s.reader.ReadSetBlock()
		if err != nil {
			return err
		}
		s.processSetBlock(sb)
	default:
		Log.Errorf("Session.dispatch: unknown opcode %d from %s", b, s.describe())
		metricAbuse.WithLabelValues(abuseBadOpcode).Inc()
		s.Kick(fmt.Sprintf("Unknown packet opcode %d", b), LeaveInvalidOpcodeKick)
		s.bytesReceived.Add(1)
		metricBytesReceived.Add(1)
		return nil
	}
	s.bytesReceived.Add(int64(op.Size()))
	metricBytesReceived.Add(float64(op.Size()))
	return nil
}

// handleMessage 单条聊天的故障不应断开普通客户端
func (s *Session) handleMessage(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			LogAndReportCrash("Session.handleMessage: "+s.describe(), panicError(r))
			s.Message("&WError handling your message.")
		}
	}()
	for _, c := range raw {
		if c < ' ' || c > '~' {
			Suspicious().Warnf("%s sent illegal characters in chat", s.describe())
			s.Kick("Illegal characters in chat.", LeaveInvalidMessageKick)
			return
		}
	}
	s.processMessage(protocol.ParseString(raw))
}

// processMessage 聊天与命令
func (s *Session) processMessage(text string) {
	s.touch()
	if strings.TrimSpace(text) == "" {
		return
	}
	if strings.HasPrefix(text, "/") && !strings.HasPrefix(text, "//") {
		if s.server.Commands == nil {
			s.Message("&WCommands are not available.")
			return
		}
		UserActivity().Infof("%s: %s", s.Name(), text)
		if err := s.server.Commands.HandleCommand(s, text[1:]); err != nil {
			s.Message("&W" + err.Error())
		}
		return
	}
	if strings.HasPrefix(text, "//") {
		text = text[1:]
	}

	if !s.Can(PermChat) {
		s.Message("&WYou are not allowed to chat.")
		return
	}
	if a := s.Account(); a != nil && a.IsMuted(time.Now()) {
		until, _ := a.MuteInfo()
		s.Messagef("&WYou are muted for %s longer.", time.Until(until).Round(time.Second))
		return
	}
	if s.detectChatSpam(time.Now()) {
		return
	}
	if !s.Can(PermColors) {
		text = stripColors(text)
	}
	UserActivity().Infof("%s: %s", s.Name(), text)
	line := fmt.Sprintf("%s&F: %s", s.ClassyName(), text)
	s.server.Message(line, nil)
}

// detectChatSpam interval 内第 N 条消息触发：警告次数超限踢出，否则自动禁言
func (s *Session) detectChatSpam(now time.Time) bool {
	cfg := s.server.Antispam()
	if s.chatWindow == nil || cfg != s.chatCfg {
		s.chatCfg = cfg
		s.chatWindow = newSpamWindow(cfg.MessageCount, time.Duration(cfg.IntervalSeconds)*time.Second)
	}
	if !s.chatWindow.Spammed(now) {
		return false
	}
	metricAbuse.WithLabelValues(abuseChatSpam).Inc()
	s.muteWarnings++
	if s.muteWarnings > cfg.MaxWarnings {
		Suspicious().Warnf("%s was kicked for repeated chat spam", s.describe())
		s.Kick("You were kicked for repeated spamming.", LeaveMessageSpamKick)
		s.server.Message(fmt.Sprintf("&WPlayer %s&W was kicked for spamming.", s.ClassyName()), s)
		return true
	}
	if cfg.MuteSeconds <= 0 {
		s.Message("&WYou are sending messages too quickly. Slow down.")
		return true
	}
	d := time.Duration(cfg.MuteSeconds) * time.Second
	if a := s.Account(); a != nil {
		ctx, cancel := storeContext()
		if err := s.server.accounts.Mute(ctx, a, "(antispam)", d); err != nil {
			Log.Warnf("detectChatSpam: muting %s: %v", s.Name(), err)
		}
		cancel()
	}
	Suspicious().Infof("%s was auto-muted for %s (chat spam)", s.describe(), d)
	s.Messagef("&WYou have been muted for %d seconds. Slow down.", cfg.MuteSeconds)
	return true
}

// stripColors 去掉 &x 颜色码
func stripColors(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		if text[i] == '&' && i+1 < len(text) && isColorCode(text[i+1]) {
			i++
			continue
		}
		b.WriteByte(text[i])
	}
	return b.String()
}

func isColorCode(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') ||
		strings.IndexByte("SYPRHIWsyprhiw", c) >= 0
}

// processMovement 反加速检测 → Moving 钩子 → 发布新位置
func (s *Session) processMovement(next protocol.Position) {
	cur := s.Position()
	if cur == next {
		return
	}
	delta := cur.Delta(next)
	if delta.RotationChanged() {
		s.touch()
	}
	now := time.Now()

	if a := s.Account(); a != nil && a.IsFrozen() {
		// 冻结：只接受转头，位移过大时拉回
		clamped := cur.WithRotation(next.R, next.L)
		if next.X>>5 != cur.X>>5 || next.Y>>5 != cur.Y>>5 || next.Z>>5 != cur.Z>>5 {
			s.TeleportTo(clamped)
		}
		s.setPosition(clamped)
		return
	}

	verdict, spammed := s.movement.check(cur, next, s.Can(PermSpeedHack), now)
	if spammed {
		metricAbuse.WithLabelValues(abuseMovementSpam).Inc()
		Suspicious().Warnf("%s is sending movement packets too quickly", s.describe())
	}
	switch verdict {
	case moveReject:
		return
	case moveSnapBack:
		metricAbuse.WithLabelValues(abuseSpeedhack).Inc()
		target := s.movement.lastValid
		Suspicious().Infof("%s moved from %v to %v, snapped back", s.describe(), cur, next)
		s.setPosition(target)
		s.TeleportTo(target)
		if s.movement.allowWarning(now) {
			s.Message("&WYou are not allowed to speedhack.")
		}
		return
	}

	if s.server.Hooks.moving(s, cur, next) {
		s.TeleportTo(cur)
		return
	}
	s.setPosition(next)
	s.server.Hooks.moved(s, cur, next)
}
