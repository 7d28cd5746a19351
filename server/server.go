package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"minicraft/accounts"
	"minicraft/config"
)

var (
	// ErrServerFull 玩家数达到上限
	ErrServerFull = errors.New("server is full")
	// ErrServerClosed 服务器正在关闭
	ErrServerClosed = errors.New("server closed")
)

// AccountStore 会话层用到的账号存储操作（accounts.Store 实现）
type AccountStore interface {
	FindOrCreate(ctx context.Context, name string, ip net.IP) (*accounts.Account, error)
	FindByIP(ctx context.Context, ip net.IP) ([]*accounts.Account, error)
	Size(ctx context.Context) (int, error)
	ProcessLogin(ctx context.Context, a *accounts.Account, ip net.IP) error
	ProcessFailedLogin(ctx context.Context, a *accounts.Account, ip net.IP) error
	ProcessLogout(ctx context.Context, a *accounts.Account) error
	ProcessKick(ctx context.Context, a *accounts.Account, by, reason string) error
	Mute(ctx context.Context, a *accounts.Account, by string, d time.Duration) error
	IPBan(ctx context.Context, ip net.IP) (*accounts.IPBan, error)
	RecordIPBanAttempt(ctx context.Context, ip net.IP) error
}

var _ AccountStore = (*accounts.Store)(nil)

// storeTimeout 单次账号存储操作的超时
const storeTimeout = 5 * time.Second

// Server 持有全部会话、世界与外部协作者
type Server struct {
	cfg      config.Config
	ranks    *RankSet
	accounts AccountStore
	worlds   *WorldManager
	console  *Session

	Hooks    *Hooks
	Commands CommandHandler

	antispam  atomic.Pointer[config.Antispam]
	bandwidth atomic.Int32

	mu       sync.RWMutex
	players  map[string]*Session
	sessions map[*Session]struct{}

	limMu    sync.Mutex
	limiters map[string]*ipLimiter

	listener net.Listener
	closing  atomic.Bool
	wg       sync.WaitGroup
}

type ipLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// New 校验配置并创建服务器；世界按配置建立并开始 Tick
func New(cfg config.Config, store AccountStore) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode, err := ParseBandwidthMode(cfg.BandwidthUseMode)
	if err != nil {
		return nil, err
	}
	srv := &Server{
		cfg:      cfg,
		ranks:    NewRankSet(cfg.Ranks, cfg.DefaultRank),
		accounts: store,
		worlds:   NewWorldManager(cfg.Worlds, 0),
		players:  make(map[string]*Session),
		sessions: make(map[*Session]struct{}),
		limiters: make(map[string]*ipLimiter),
	}
	as := cfg.Antispam
	srv.antispam.Store(&as)
	srv.SetBandwidthMode(mode)
	srv.Commands = builtinCommands{}
	srv.console = newConsoleSession(srv)
	return srv, nil
}

func (srv *Server) Config() config.Config { return srv.cfg }
func (srv *Server) Ranks() *RankSet       { return srv.ranks }
func (srv *Server) Worlds() *WorldManager { return srv.worlds }
func (srv *Server) Console() *Session     { return srv.console }

func (srv *Server) Antispam() config.Antispam {
	return *srv.antispam.Load()
}

// SetAntispam 热更新聊天限流参数，已在线会话在下一条消息时生效
func (srv *Server) SetAntispam(a config.Antispam) {
	srv.antispam.Store(&a)
}

// BandwidthMode 服务器默认带宽档位（从不返回 Default）
func (srv *Server) BandwidthMode() BandwidthMode {
	return BandwidthMode(srv.bandwidth.Load())
}

func (srv *Server) SetBandwidthMode(m BandwidthMode) {
	if m == BandwidthDefault {
		m = BandwidthNormal
	}
	srv.bandwidth.Store(int32(m))
}

func (srv *Server) socketTimeout() time.Duration {
	return time.Duration(srv.cfg.SocketTimeoutMs) * time.Millisecond
}

// ListenAndServe 监听 TCP 地址并接受 Classic 客户端
func (srv *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return srv.Serve(ctx, ln)
}

// Serve 接受循环；每个 IP 的新连接速率受限
func (srv *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv.mu.Lock()
	srv.listener = ln
	srv.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	SystemActivity().Infof("listening for classic clients on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if srv.closing.Load() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return err
		}
		ip := remoteIP(conn.RemoteAddr())
		if ip != nil && !srv.allowConnection(ip) {
			Suspicious().Warnf("too many connections from %s, dropping", ip)
			_ = conn.Close()
			continue
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(srv.cfg.LowLatencyMode)
		}
		srv.StartSession(NewConnTransport(conn, srv.socketTimeout()))
	}
}

// allowConnection 按 IP 限制新连接速率，顺带清理长时间未出现的地址
func (srv *Server) allowConnection(ip net.IP) bool {
	if srv.cfg.ConnectionsPerIPPerSec <= 0 {
		return true
	}
	now := time.Now()
	key := ip.String()
	srv.limMu.Lock()
	defer srv.limMu.Unlock()
	for k, l := range srv.limiters {
		if now.Sub(l.lastSeen) > time.Minute {
			delete(srv.limiters, k)
		}
	}
	l, ok := srv.limiters[key]
	if !ok {
		burst := int(srv.cfg.ConnectionsPerIPPerSec)
		if burst < 1 {
			burst = 1
		}
		l = &ipLimiter{lim: rate.NewLimiter(rate.Limit(srv.cfg.ConnectionsPerIPPerSec), burst)}
		srv.limiters[key] = l
	}
	l.lastSeen = now
	return l.lim.AllowN(now, 1)
}

// StartSession 为已接受的传输创建会话并启动它的循环协程
func (srv *Server) StartSession(t Transport) *Session {
	s := newSession(srv, t)
	srv.mu.Lock()
	srv.sessions[s] = struct{}{}
	srv.mu.Unlock()
	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		s.run()
	}()
	return s
}

func (srv *Server) removeSession(s *Session) {
	srv.mu.Lock()
	delete(srv.sessions, s)
	srv.mu.Unlock()
}

// RegisterPlayer 占用玩家名额。同名的旧会话先被同步踢出
func (srv *Server) RegisterPlayer(s *Session) error {
	key := strings.ToLower(s.Name())
	srv.mu.RLock()
	old := srv.players[key]
	srv.mu.RUnlock()
	if old != nil && old != s {
		SystemActivity().Infof("%s logged in again from %s, kicking the old session", s.Name(), s.IP())
		if err := old.KickSynchronously("Connected from elsewhere!", LeaveDuplicateLogin); err != nil {
			Log.Warnf("RegisterPlayer: old session of %s did not exit: %v", s.Name(), err)
		}
	}

	return srv.claimPlayerSlot(key, s)
}

// claimPlayerSlot 在写锁下占用名额。名字仍被别的会话占着（未及时退出或并发登录）时顶替并踢掉它
func (srv *Server) claimPlayerSlot(key string, s *Session) error {
	srv.mu.Lock()
	displaced := srv.players[key]
	if displaced == s {
		displaced = nil
	}
	if displaced != nil {
		delete(srv.players, key)
	}
	err := ErrServerFull
	if len(srv.players) < srv.cfg.MaxPlayers {
		srv.players[key] = s
		err = nil
	}
	srv.mu.Unlock()

	if displaced != nil {
		displaced.Kick("Connected from elsewhere!", LeaveDuplicateLogin)
	}
	return err
}

// UnregisterPlayer 释放名额；名字已被新会话占用时不做任何事
func (srv *Server) UnregisterPlayer(s *Session) bool {
	key := strings.ToLower(s.Name())
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.players[key] != s {
		return false
	}
	delete(srv.players, key)
	return true
}

// Players 已登录玩家快照（按名字排序）
func (srv *Server) Players() []*Session {
	srv.mu.RLock()
	out := make([]*Session, 0, len(srv.players))
	for _, s := range srv.players {
		out = append(out, s)
	}
	srv.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Sessions 所有存活的会话（包括尚未登录的连接）
func (srv *Server) Sessions() []*Session {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	out := make([]*Session, 0, len(srv.sessions))
	for s := range srv.sessions {
		out = append(out, s)
	}
	return out
}

// FindPlayerExact 按名字查找在线玩家（不区分大小写）
func (srv *Server) FindPlayerExact(name string) *Session {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	return srv.players[strings.ToLower(name)]
}

// Message 全服广播（except 除外）
func (srv *Server) Message(text string, except *Session) {
	for _, s := range srv.Players() {
		if s != except && s.State() == StateOnline {
			s.Message(text)
		}
	}
}

// messageIf 仅发送给满足条件的玩家
func (srv *Server) messageIf(text string, pred func(*Session) bool) {
	for _, s := range srv.Players() {
		if s.State() == StateOnline && pred(s) {
			s.Message(text)
		}
	}
}

// Shutdown 停止接受连接，踢出所有会话并等待它们退出
func (srv *Server) Shutdown(ctx context.Context) error {
	if !srv.closing.CompareAndSwap(false, true) {
		return ErrServerClosed
	}
	srv.mu.RLock()
	ln := srv.listener
	srv.mu.RUnlock()
	if ln != nil {
		_ = ln.Close()
	}
	for _, s := range srv.Sessions() {
		s.Kick("Server shutting down.", LeaveServerShutdown)
	}
	done := make(chan struct{})
	go func() {
		srv.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("shutdown: %w", ctx.Err())
	}
	srv.worlds.StopAll()
	return err
}

func storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeTimeout)
}
