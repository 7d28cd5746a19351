package server

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode/utf16"

	"minicraft/config"
	"minicraft/protocol"
)

var (
	nameRegex  = regexp.MustCompile(`^[a-zA-Z0-9._]{2,16}$`)
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,6}$`)
	cfgRegex   = regexp.MustCompile(`^GET /([a-zA-Z0-9_]{1,16})(~motd)? .+`)
)

// errLoginAborted 登录流程结束但不是错误（探测连接、已发送拒绝原因）
var errLoginAborted = errors.New("login aborted")

const maxHTTPRequestLine = 512

// loginSequence 握手 → 身份校验 → 占用名额 → 进入首个世界 → 上线
func (s *Session) loginSequence() error {
	op, err := s.reader.ReadByte()
	if err != nil {
		return err
	}
	s.bytesReceived.Add(1)

	switch op {
	case byte(protocol.OpHandshake):
	case protocol.ProbeSMPHandshake, protocol.ProbeSMPLogin:
		return s.rejectSMPClient()
	case protocol.ProbeSMPPing:
		return errLoginAborted
	case protocol.ProbeHTTPGet:
		return s.serveCfg()
	default:
		Log.Errorf("Session.loginSequence: unexpected opcode 0x%02X from %s", op, s.ip)
		metricAbuse.WithLabelValues(abuseBadOpcode).Inc()
		if err := s.kickNow("Incompatible client, or a network error.", LeaveProtocolViolation); err != nil {
			return err
		}
		return errLoginAborted
	}

	s.setState(StateAuthenticating)
	hs, err := s.reader.ReadHandshake()
	if err != nil {
		return err
	}
	s.bytesReceived.Add(int64(protocol.OpHandshake.Size() - 1))

	if hs.Version != protocol.Version {
		Log.Errorf("Session.loginSequence: wrong protocol version %d from %s", hs.Version, s.ip)
		return s.reject("Incompatible protocol version!", LeaveProtocolViolation)
	}

	name := hs.Name
	if emailRegex.MatchString(name) {
		if !s.server.cfg.AllowEmailAccounts {
			Suspicious().Warnf("email-style account %q rejected from %s", name, s.ip)
			return s.reject("Email-style accounts are not allowed on this server.", LeaveLoginFailed)
		}
	} else if !nameRegex.MatchString(name) {
		Log.Errorf("Session.loginSequence: unacceptable player name %q from %s", name, s.ip)
		return s.reject("Unacceptable player name!", LeaveProtocolViolation)
	}
	s.setName(name)

	ctx, cancel := storeContext()
	account, err := s.server.accounts.FindOrCreate(ctx, name, s.ip)
	cancel()
	if err != nil {
		return fmt.Errorf("loading account %s: %w", name, err)
	}
	s.account.Store(account)

	verified, err := s.verify(hs.VerificationKey)
	if err != nil {
		return err
	}
	if !verified && s.server.cfg.VerifyNames != config.VerifyNever {
		return errLoginAborted
	}
	s.verified.Store(verified)

	if account.IsBanned() {
		by, reason, _ := account.BanInfo()
		Suspicious().Warnf("banned player %s tried to log in from %s", name, s.ip)
		s.recordFailedLogin()
		s.server.messageIf(fmt.Sprintf("&SBanned player %s&S tried to log in from %s", s.ClassyName(), s.ip),
			func(o *Session) bool { return o.Can(PermKick) })
		return s.reject(banMessage("You were banned by", by, reason), LeaveLoginFailed)
	}

	if !account.IsIPBanExempt() {
		ctx, cancel := storeContext()
		ban, err := s.server.accounts.IPBan(ctx, s.ip)
		if err == nil && ban != nil {
			err = s.server.accounts.RecordIPBanAttempt(ctx, s.ip)
		}
		cancel()
		if err != nil {
			return fmt.Errorf("checking ip ban for %s: %w", s.ip, err)
		}
		if ban != nil {
			Suspicious().Warnf("%s tried to log in from banned IP %s", name, s.ip)
			s.recordFailedLogin()
			return s.reject(banMessage("Your IP was banned by", ban.BannedBy, ban.Reason), LeaveLoginFailed)
		}
	}

	if s.server.Hooks.playerConnecting(s) {
		SystemActivity().Infof("login of %s denied by a connecting hook", name)
		return s.reject("Login denied by the server.", LeaveLoginFailed)
	}

	if err := s.server.RegisterPlayer(s); err != nil {
		if errors.Is(err, ErrServerFull) {
			SystemActivity().Infof("%s could not log in: server full", name)
			return s.reject(fmt.Sprintf("Sorry, server is full (%d/%d)",
				len(s.server.Players()), s.server.cfg.MaxPlayers), LeaveServerFull)
		}
		return err
	}
	s.registered = true

	ctx, cancel = storeContext()
	firstAccount := account.TimesVisited() == 0
	err = s.server.accounts.ProcessLogin(ctx, account, s.ip)
	cancel()
	if err != nil {
		return fmt.Errorf("recording login of %s: %w", name, err)
	}

	s.setState(StateLoadingWorld)
	start := s.server.Hooks.playerConnected(s, s.server.worlds.MainWorld())
	if start == nil {
		return s.reject("No world to join.", LeaveServerError)
	}

	if err := s.writePacket(protocol.MakeHandshake(s.server.cfg.ServerName, s.server.cfg.MOTD, s.Can(PermLockBypass))); err != nil {
		return err
	}
	if err := s.joinWorldNow(joinRequest{world: start, reason: WorldChangeFirstWorld}); err != nil {
		if errors.Is(err, ErrWorldFull) {
			return s.reject("World is full.", LeaveWorldFull)
		}
		if errors.Is(err, errJoinDenied) {
			return s.reject("You are not allowed to join the world.", LeaveLoginFailed)
		}
		return err
	}

	if err := s.postLoginNotices(firstAccount); err != nil {
		return err
	}

	s.setState(StateOnline)
	s.online = true
	metricSessionsOnline.Inc()
	UserActivity().Infof("%s logged in from %s (verified=%t), joined %s", name, s.ip, verified, start.Name)
	s.server.Hooks.playerReady(s)
	return s.transport.Flush()
}

// reject 发送拒绝原因后结束登录
func (s *Session) reject(message string, reason LeaveReason) error {
	if err := s.kickNow(message, reason); err != nil {
		return err
	}
	return errLoginAborted
}

func (s *Session) recordFailedLogin() {
	ctx, cancel := storeContext()
	defer cancel()
	if err := s.server.accounts.ProcessFailedLogin(ctx, s.Account(), s.ip); err != nil {
		Log.Warnf("recording failed login of %s: %v", s.Name(), err)
	}
}

func banMessage(prefix, by, reason string) string {
	msg := prefix + " " + by
	if reason != "" {
		msg += ": " + reason
	}
	return msg
}

// VerificationToken 盐 + 名字的 MD5（小写十六进制）
func VerificationToken(salt, name string) string {
	sum := md5.Sum([]byte(salt + name))
	return hex.EncodeToString(sum[:])
}

// verify 按顺序应用校验规则，第一条命中的规则生效。
// 返回 false 且模式不是 never 时，已发送拒绝原因
func (s *Session) verify(token string) (bool, error) {
	cfg := s.server.cfg
	mode := cfg.VerifyNames
	name := s.Name()

	if tokenMatches(token, VerificationToken(cfg.Salt, name)) {
		return true, nil
	}
	if s.ip.IsLoopback() && mode != config.VerifyAlways {
		Log.Warnf("%s: name could not be verified, allowed because connecting from localhost", name)
		return true, nil
	}
	if isLAN(s.ip) && cfg.AllowUnverifiedLAN {
		Log.Warnf("%s: name could not be verified, allowed because connecting from LAN (%s)", name, s.ip)
		return true, nil
	}
	if a := s.Account(); s.ip != nil && a.TimesVisited() > 0 && a.LastIP().Equal(s.ip) {
		if mode == config.VerifyAlways {
			Suspicious().Warnf("%s: name could not be verified (same IP as last login, strict mode)", name)
			s.recordFailedLogin()
			return false, s.rejectErr("Could not verify player name!", LeaveUnverifiedName)
		}
		Log.Warnf("%s: name could not be verified, allowed because IP matches last login", name)
		return true, nil
	}
	switch mode {
	case config.VerifyNever:
		Log.Warnf("%s: name could not be verified, allowed (verification disabled)", name)
		return false, nil
	default:
		Suspicious().Warnf("%s: name could not be verified from %s", name, s.ip)
		s.recordFailedLogin()
		return false, s.rejectErr("Could not verify player name!", LeaveUnverifiedName)
	}
}

// rejectErr 与 reject 相同，但只返回传输错误
func (s *Session) rejectErr(message string, reason LeaveReason) error {
	if err := s.reject(message, reason); !errors.Is(err, errLoginAborted) {
		return err
	}
	return nil
}

// tokenMatches 部分客户端会丢掉前导 0
func tokenMatches(got, want string) bool {
	return got != "" && strings.EqualFold(strings.TrimLeft(got, "0"), strings.TrimLeft(want, "0"))
}

func isLAN(ip net.IP) bool {
	return ip != nil && (ip.IsPrivate() || ip.IsLinkLocalUnicast())
}

// postLoginNotices 上线公告与各类提醒
func (s *Session) postLoginNotices(firstAccount bool) error {
	srv := s.server
	account := s.Account()
	hidden := account.IsHidden()
	if srv.cfg.ShowConnectionMessages && !hidden {
		srv.Message(fmt.Sprintf("&SPlayer %s&S connected, joined %s", s.ClassyName(), s.World().ClassyName()), s)
	}

	if !s.IsVerified() {
		srv.messageIf(fmt.Sprintf("&WName and IP of %s&W are unverified!", s.ClassyName()),
			func(o *Session) bool { return o != s && o.Can(PermKick) })
		if err := s.messageNow("&WYour name could not be verified."); err != nil {
			return err
		}
	}

	ctx, cancel := storeContext()
	others, err := srv.accounts.FindByIP(ctx, s.ip)
	cancel()
	if err != nil {
		Log.Warnf("postLoginNotices: looking up accounts for %s: %v", s.ip, err)
	}
	var shady []string
	for _, a := range others {
		if a != account && (a.IsBanned() || a.IsFrozen()) {
			shady = append(shady, a.Name())
		}
	}
	if len(shady) > 0 {
		srv.messageIf(fmt.Sprintf("&WPlayer %s&W shares an IP with banned or frozen accounts: %s",
			s.ClassyName(), strings.Join(shady, ", ")), func(o *Session) bool { return o != s && o.Can(PermKick) })
	}

	now := time.Now()
	if account.IsMuted(now) {
		until, by := account.MuteInfo()
		if err := s.messageNow(fmt.Sprintf("&WYou were muted by %s&W, %s left.", by, until.Sub(now).Round(time.Second))); err != nil {
			return err
		}
	}
	if account.IsFrozen() {
		by, _ := account.FreezeInfo()
		if err := s.messageNow(fmt.Sprintf("&WYou were frozen by %s&W.", by)); err != nil {
			return err
		}
	}

	if greeting := s.greeting(); greeting != "" {
		if err := s.messageNow(greeting); err != nil {
			return err
		}
	}

	if firstAccount {
		ctx, cancel := storeContext()
		n, err := srv.accounts.Size(ctx)
		cancel()
		if err == nil && n == 1 && s.Rank() != srv.ranks.Highest() {
			if err := s.messageNow(fmt.Sprintf("&SYou are the first player on this server. "+
				"Set your rank to %s in the account database to manage it.", srv.ranks.Highest().Name)); err != nil {
				return err
			}
		}
	}
	return nil
}

// greeting 欢迎文本：文件优先，否则使用 MOTD 风格的默认语
func (s *Session) greeting() string {
	cfg := s.server.cfg
	if cfg.GreetingFile != "" {
		raw, err := os.ReadFile(cfg.GreetingFile)
		if err == nil {
			text := strings.TrimRight(string(raw), "\r\n")
			text = strings.ReplaceAll(text, "{SERVER_NAME}", cfg.ServerName)
			text = strings.ReplaceAll(text, "{PLAYER_NAME}", s.ClassyName())
			return text
		}
		if !errors.Is(err, os.ErrNotExist) {
			Log.Warnf("greeting: %v", err)
		}
	}
	return fmt.Sprintf("&SWelcome to %s", cfg.ServerName)
}

// rejectSMPClient 旧版（非 Classic）客户端：读 UTF-16BE 名字并用 0xFF 报文拒绝
func (s *Session) rejectSMPClient() error {
	n, err := s.reader.ReadInt16()
	if err != nil {
		return err
	}
	if n < 2 || n > 16 {
		Log.Warnf("legacy client probe with bad name length %d from %s", n, s.ip)
		return s.reject("Incompatible protocol version!", LeaveProtocolViolation)
	}
	raw, err := s.reader.ReadBytes(int(n) * 2)
	if err != nil {
		return err
	}
	units := make([]uint16, n)
	for i := range units {
		units[i] = binary.BigEndian.Uint16(raw[i*2:])
	}
	Log.Warnf("player %q tried to connect with a non-Classic client from %s", string(utf16.Decode(units)), s.ip)

	msg := utf16.Encode([]rune("This server is for Minecraft Classic only."))
	buf := bytes.NewBuffer(make([]byte, 0, 3+len(msg)*2))
	buf.WriteByte(protocol.SMPKick)
	_ = binary.Write(buf, binary.BigEndian, int16(len(msg)))
	_ = binary.Write(buf, binary.BigEndian, msg)
	s.setLeaveReason(LeaveProtocolViolation)
	if _, err := s.transport.Write(buf.Bytes()); err != nil {
		return err
	}
	if err := s.transport.Flush(); err != nil {
		return err
	}
	return errLoginAborted
}

// serveCfg 状态查询扩展：GET /<world>[~motd] 返回世界配置或 MOTD
func (s *Session) serveCfg() error {
	line := []byte{protocol.ProbeHTTPGet}
	for len(line) < maxHTTPRequestLine {
		b, err := s.reader.ReadByte()
		if err != nil {
			return err
		}
		if b == '\n' {
			break
		}
		line = append(line, b)
	}
	request := strings.TrimRight(string(line), "\r")
	s.setLeaveReason(LeaveClientQuit)

	status, body := http.StatusBadRequest, ""
	if m := cfgRegex.FindStringSubmatch(request); m != nil {
		w := s.server.worlds.FindWorldExact(m[1])
		switch {
		case w == nil || !s.server.cfg.WoMEnableEnvExtensions:
			status = http.StatusNotFound
		case m[2] != "":
			status, body = http.StatusOK, s.server.cfg.MOTD
		default:
			status, body = http.StatusOK, w.GenerateWoMConfig(s.server.cfg.ServerName, s.server.cfg.MOTD, true)
		}
	}
	resp := &http.Response{
		StatusCode:    status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {"text/plain"}},
		ContentLength: int64(len(body)),
		Body:          io.NopCloser(strings.NewReader(body)),
		Close:         true,
	}
	if err := resp.Write(s.transport); err != nil {
		return err
	}
	if err := s.transport.Flush(); err != nil {
		return err
	}
	return errLoginAborted
}
