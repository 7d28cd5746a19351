package server

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"minicraft/accounts"
	"minicraft/config"
	"minicraft/protocol"
)

var (
	// ErrSessionClosed 会话已断开
	ErrSessionClosed = errors.New("session closed")
	// ErrWaitTimeout 等待会话退出超时
	ErrWaitTimeout = errors.New("timed out waiting for session to disconnect")
)

// kickSyncTimeout 同步踢出时等待目标会话退出的上限
const kickSyncTimeout = 3 * time.Second

// Session 一个连接对应一个会话。除出站队列、待切换世界槽以及原子发布的
// 快照（状态、位置、世界）外，所有字段只由会话自己的循环协程读写
type Session struct {
	ID string

	server    *Server
	transport Transport
	reader    *protocol.Reader
	ip        net.IP
	console   bool

	state       atomic.Int32
	leaveReason atomic.Int32
	verified    atomic.Bool
	online      bool // 已计入 sessions_online
	registered  bool // 已占用玩家名额

	// 登录中写入一次，其他协程可能并发读取
	name    atomic.Pointer[string]
	account atomic.Pointer[accounts.Account]

	world atomic.Pointer[World]
	pos   atomic.Uint64

	out outputQueues

	joinMu      sync.Mutex
	pendingJoin *joinRequest

	bandwidth     atomic.Int32
	deaf          atomic.Bool
	paint         atomic.Bool
	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
	sendRate      atomic.Int64
	recvRate      atomic.Int64
	lastActive    atomic.Int64
	loginTime     time.Time

	// 以下只由会话循环访问
	vis          *entityTracker
	lastVisPass  time.Time
	meter        bandwidthMeter
	movement     *movementGuard
	chatWindow   *spamWindow
	chatCfg      config.Antispam
	muteWarnings int
	blockWindow  *spamWindow
	blockRank    *Rank

	disconnectOnce sync.Once
	done           chan struct{}
}

func newSession(srv *Server, t Transport) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		server:    srv,
		transport: t,
		reader:    protocol.NewReader(t),
		ip:        remoteIP(t.RemoteAddr()),
		vis:       newEntityTracker(),
		movement:  newMovementGuard(protocol.Position{}),
		done:      make(chan struct{}),
		loginTime: time.Now(),
	}
	s.touch()
	return s
}

// newConsoleSession 控制台伪会话：无网络、无世界、拥有全部权限
func newConsoleSession(srv *Server) *Session {
	s := &Session{
		ID:      "console",
		server:  srv,
		console: true,
		done:    make(chan struct{}),
	}
	s.setName("(console)")
	s.state.Store(int32(StateOnline))
	s.verified.Store(true)
	s.out.close()
	return s
}

func (s *Session) Name() string {
	if p := s.name.Load(); p != nil {
		return *p
	}
	return ""
}

func (s *Session) setName(name string) { s.name.Store(&name) }

// ClassyName 带等级颜色的显示名
func (s *Session) ClassyName() string {
	if s.console {
		return "&S" + s.Name()
	}
	r := s.Rank()
	if r == nil {
		return s.Name()
	}
	return r.Color + r.Prefix + s.Name()
}

func (s *Session) IP() net.IP                  { return s.ip }
func (s *Session) IsConsole() bool             { return s.console }
func (s *Session) IsVerified() bool            { return s.verified.Load() }
func (s *Session) Account() *accounts.Account  { return s.account.Load() }
func (s *Session) World() *World               { return s.world.Load() }
func (s *Session) Position() protocol.Position { return protocol.UnpackPosition(s.pos.Load()) }
func (s *Session) BytesSent() int64            { return s.bytesSent.Load() }
func (s *Session) BytesReceived() int64        { return s.bytesReceived.Load() }
func (s *Session) SendRate() int64             { return s.sendRate.Load() }
func (s *Session) ReceiveRate() int64          { return s.recvRate.Load() }
func (s *Session) IsDeaf() bool                { return s.deaf.Load() }
func (s *Session) SetDeaf(v bool)              { s.deaf.Store(v) }
func (s *Session) SetPaintMode(v bool)         { s.paint.Store(v) }

// LastActive 最近一次有意义的操作（聊天、转头、点击）
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *Session) setPosition(p protocol.Position) {
	s.pos.Store(p.Pack())
}

// State 当前状态（其他协程读到的是已发布的快照）
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// setState 状态只向前推进
func (s *Session) setState(st SessionState) {
	for {
		cur := s.state.Load()
		if SessionState(cur) >= st {
			return
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			s.server.Hooks.stateChanged(s, st)
			return
		}
	}
}

// LeaveReason 断开原因；未断开时为 LeaveUnknown
func (s *Session) LeaveReason() LeaveReason {
	return LeaveReason(s.leaveReason.Load())
}

// setLeaveReason 只在尚未设置时生效
func (s *Session) setLeaveReason(r LeaveReason) {
	s.leaveReason.CompareAndSwap(int32(LeaveUnknown), int32(r))
}

// Rank 账号当前等级；控制台为最高等级
func (s *Session) Rank() *Rank {
	if s.console {
		return s.server.ranks.Highest()
	}
	a := s.Account()
	if a == nil {
		return s.server.ranks.Default()
	}
	return s.server.ranks.Find(a.Rank())
}

func (s *Session) Can(p Permission) bool {
	if s.console {
		return true
	}
	return s.Rank().Can(p)
}

// CanSee 能否看到 other（隐身玩家只对有权限的高等级可见）
func (s *Session) CanSee(other *Session) bool {
	if other == nil || other == s {
		return false
	}
	if s.console {
		return true
	}
	if a := other.Account(); a == nil || !a.IsHidden() {
		return true
	}
	return s.Rank().CanSee(other.Rank())
}

// EffectiveBandwidthMode 会话设置优先，其次账号设置，否则用服务器默认
func (s *Session) EffectiveBandwidthMode() BandwidthMode {
	if m := BandwidthMode(s.bandwidth.Load()); m != BandwidthDefault {
		return m
	}
	if a := s.Account(); a != nil {
		if m := BandwidthMode(a.BandwidthMode()); m != BandwidthDefault {
			return m
		}
	}
	return s.server.BandwidthMode()
}

// SetBandwidthMode 只影响之后的阈值与频率，不重置已有实体
func (s *Session) SetBandwidthMode(m BandwidthMode) {
	s.bandwidth.Store(int32(m))
}

// Send 放入优先队列（任意协程可调用）
func (s *Session) Send(p protocol.Packet) {
	s.out.Send(p)
}

// SendLowPriority 放入低优先队列（任意协程可调用）
func (s *Session) SendLowPriority(p protocol.Packet) {
	s.out.SendLowPriority(p)
}

// Message 发送聊天消息，超过 64 列自动折行
func (s *Session) Message(text string) {
	if s.console {
		Log.Infof("[console] %s", text)
		return
	}
	for _, line := range wrapMessage(text) {
		s.out.Send(protocol.MakeMessage(line))
	}
}

// Messagef 同 Message，带格式化
func (s *Session) Messagef(format string, args ...any) {
	s.Message(fmt.Sprintf(format, args...))
}

// messageNow 在会话自己的协程中直接写出消息（登录阶段使用）
func (s *Session) messageNow(text string) error {
	for _, line := range wrapMessage(text) {
		if err := s.writePacket(protocol.MakeMessage(line)); err != nil {
			return err
		}
	}
	return nil
}

// wrapMessage 按 64 列折行；续行以 "> " 开头，尽量在空格处断开
func wrapMessage(text string) []string {
	var out []string
	for _, raw := range strings.Split(text, "\n") {
		line := raw
		prefix := ""
		for {
			room := protocol.StringSize - len(prefix)
			if len(line) <= room {
				out = append(out, prefix+line)
				break
			}
			cut := strings.LastIndexByte(line[:room+1], ' ')
			if cut <= 0 {
				cut = room
			}
			// 不把颜色码拆开
			if cut > 1 && line[cut-1] == '&' {
				cut--
			}
			out = append(out, prefix+strings.TrimRight(line[:cut], " "))
			line = strings.TrimLeft(line[cut:], " ")
			prefix = "> "
			if line == "" {
				break
			}
		}
	}
	return out
}

// Kick 请求踢出（任意协程可调用）：清空并关闭出站队列，
// 踢出报文成为最后一个被写出的报文
func (s *Session) Kick(message string, reason LeaveReason) {
	if s.console {
		return
	}
	s.setLeaveReason(reason)
	s.setState(StatePendingDisconnect)
	s.out.closeWith(protocol.MakeKick(message))
	if a := s.Account(); a != nil && reason != LeaveDuplicateLogin && reason != LeaveServerShutdown {
		ctx, cancel := storeContext()
		if err := s.server.accounts.ProcessKick(ctx, a, "", message); err != nil {
			Log.Warnf("Kick: recording kick of %s: %v", s.Name(), err)
		}
		cancel()
	}
	SystemActivity().Infof("kicking %s (%s): %s", s.describe(), reason, message)
}

// KickSynchronously 踢出并等待会话循环退出。不能在会话自己的协程中调用
func (s *Session) KickSynchronously(message string, reason LeaveReason) error {
	s.Kick(message, reason)
	return s.WaitForDisconnect(kickSyncTimeout)
}

// WaitForDisconnect 阻塞到会话完全断开或超时。不能在会话自己的协程中调用
func (s *Session) WaitForDisconnect(timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.done:
		return nil
	case <-t.C:
		return ErrWaitTimeout
	}
}

// Done 会话断开后关闭
func (s *Session) Done() <-chan struct{} { return s.done }

// kickNow 在会话自己的协程中立即写出踢出报文并刷新（登录失败时使用）
func (s *Session) kickNow(message string, reason LeaveReason) error {
	s.setLeaveReason(reason)
	s.setState(StatePendingDisconnect)
	s.out.close()
	if err := s.writePacket(protocol.MakeKick(message)); err != nil {
		return err
	}
	return s.transport.Flush()
}

// writePacket 同步写出一个报文（只由会话协程调用）
func (s *Session) writePacket(p protocol.Packet) error {
	n, err := s.transport.Write(p.Bytes)
	s.bytesSent.Add(int64(n))
	metricBytesSent.Add(float64(n))
	return err
}

// TeleportTo 把会话传送到 pos（经优先队列，由客户端确认后回报）
func (s *Session) TeleportTo(pos protocol.Position) {
	s.Send(protocol.MakeSelfTeleport(pos))
}

func (s *Session) describe() string {
	if name := s.Name(); name != "" {
		return fmt.Sprintf("%s (%s)", name, s.ip)
	}
	return fmt.Sprintf("session %s (%s)", s.ID, s.ip)
}

// disconnect 唯一的断开路径，无论从哪里触发都只执行一次
func (s *Session) disconnect() {
	s.disconnectOnce.Do(func() {
		s.setLeaveReason(LeaveClientQuit)
		reason := s.LeaveReason()
		s.setState(StateDisconnected)
		s.out.close()

		if w := s.World(); w != nil {
			w.ReleasePlayer(s)
		}
		if s.registered {
			wasOnline := s.online
			if s.server.UnregisterPlayer(s) && wasOnline && s.server.cfg.ShowConnectionMessages {
				if a := s.Account(); a == nil || !a.IsHidden() {
					s.server.Message(fmt.Sprintf("&SPlayer %s&S left the server.", s.ClassyName()), s)
				}
			}
			if wasOnline {
				metricSessionsOnline.Dec()
				s.online = false
			}
			if a := s.Account(); a != nil {
				ctx, cancel := storeContext()
				if err := s.server.accounts.ProcessLogout(ctx, a); err != nil {
					Log.Warnf("disconnect: saving %s: %v", s.Name(), err)
				}
				cancel()
			}
			s.server.Hooks.playerDisconnected(s, reason)
		}
		s.server.Hooks.sessionDisconnected(s, reason)

		if err := s.transport.Close(); err != nil && !isTransportError(err) {
			Log.Debugf("disconnect: closing transport of %s: %v", s.describe(), err)
		}
		s.server.removeSession(s)
		metricDisconnects.WithLabelValues(reason.String()).Inc()
		SystemActivity().Infof("%s disconnected (%s)", s.describe(), reason)
		close(s.done)
	})
}
