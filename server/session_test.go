package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf16"

	"minicraft/accounts"
	"minicraft/config"
	"minicraft/protocol"
)

const testTimeout = 5 * time.Second

// newTestServer 使用临时数据库的服务器；名字不做校验，连接不限速
func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.VerifyNames = config.VerifyNever
	cfg.ConnectionsPerIPPerSec = 0
	cfg.DBPath = filepath.Join(t.TempDir(), "players.db")
	if mutate != nil {
		mutate(&cfg)
	}
	store, err := accounts.Open(cfg.DBPath, cfg.DefaultRank)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	srv, err := New(cfg, store)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

// testClient 管道另一端的 Classic 客户端；后台协程把收到的报文放进 pkts
type testClient struct {
	t       *testing.T
	conn    net.Conn
	session *Session
	pkts    chan protocol.Packet
}

func dial(t *testing.T, srv *Server) *testClient {
	t.Helper()
	serverEnd, clientEnd := net.Pipe()
	s := srv.StartSession(NewConnTransport(serverEnd, 0))
	t.Cleanup(func() { _ = clientEnd.Close() })
	return &testClient{t: t, conn: clientEnd, session: s}
}

func connect(t *testing.T, srv *Server) *testClient {
	t.Helper()
	c := dial(t, srv)
	c.pkts = make(chan protocol.Packet, 8192)
	go c.readLoop()
	return c
}

func (c *testClient) readLoop() {
	defer close(c.pkts)
	r := bufio.NewReader(c.conn)
	for {
		op, err := r.ReadByte()
		if err != nil {
			return
		}
		size := protocol.OpCode(op).Size()
		if size == 0 {
			return
		}
		b := make([]byte, size)
		b[0] = op
		if _, err := io.ReadFull(r, b[1:]); err != nil {
			return
		}
		c.pkts <- protocol.Packet{Bytes: b}
	}
}

func (c *testClient) send(b []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(testTimeout))
	if _, err := c.conn.Write(b); err != nil {
		c.t.Fatalf("client write: %v", err)
	}
}

func (c *testClient) next() protocol.Packet {
	c.t.Helper()
	select {
	case p, ok := <-c.pkts:
		if !ok {
			c.t.Fatal("connection closed")
		}
		return p
	case <-time.After(testTimeout):
		c.t.Fatal("timed out waiting for a packet")
	}
	return protocol.Packet{}
}

func (c *testClient) expect(what string, match func(protocol.Packet) bool) protocol.Packet {
	c.t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case p, ok := <-c.pkts:
			if !ok {
				c.t.Fatalf("connection closed while waiting for %s", what)
			}
			if match(p) {
				return p
			}
		case <-deadline:
			c.t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func (c *testClient) expectOp(op protocol.OpCode) protocol.Packet {
	c.t.Helper()
	return c.expect(op.String(), func(p protocol.Packet) bool { return p.OpCode() == op })
}

func (c *testClient) expectKick() string {
	c.t.Helper()
	p := c.expectOp(protocol.OpKick)
	return protocol.ParseString(p.Bytes[1:])
}

func (c *testClient) expectMessage(substr string) string {
	c.t.Helper()
	p := c.expect("message "+substr, func(p protocol.Packet) bool {
		return p.OpCode() == protocol.OpMessage && strings.Contains(protocol.ParseString(p.Bytes[2:]), substr)
	})
	return protocol.ParseString(p.Bytes[2:])
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case _, ok := <-c.pkts:
			if !ok {
				return
			}
		case <-deadline:
			c.t.Fatal("connection was not closed")
		}
	}
}

func (c *testClient) waitDone() {
	c.t.Helper()
	if err := c.session.WaitForDisconnect(testTimeout); err != nil {
		c.t.Fatalf("session did not disconnect: %v", err)
	}
}

func (c *testClient) handshake(name string) {
	c.t.Helper()
	c.send(protocol.EncodeHandshake(protocol.Version, name, ""))
}

// login 完成握手并等到会话进入 Online
func login(t *testing.T, srv *Server, name string) *testClient {
	t.Helper()
	c := connect(t, srv)
	c.handshake(name)
	c.expect("self teleport", func(p protocol.Packet) bool {
		return p.OpCode() == protocol.OpTeleport && p.Bytes[1] == protocol.SelfID
	})
	waitFor(t, "online", func() bool { return c.session.State() == StateOnline })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func decodePosition(t *testing.T, p protocol.Packet) protocol.Position {
	t.Helper()
	pos, err := protocol.ApplyEntityUpdate(protocol.Position{}, p)
	if err != nil {
		t.Fatal(err)
	}
	return pos
}

func TestLoginSequence(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var states []SessionState
	srv := newTestServer(t, nil)
	srv.Hooks = &Hooks{StateChanged: func(s *Session, st SessionState) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	}}

	c := connect(t, srv)
	c.handshake("Alice")

	hs := c.next()
	if hs.OpCode() != protocol.OpHandshake || hs.Bytes[1] != protocol.Version {
		t.Fatalf("first packet %v, want handshake", hs.OpCode())
	}
	if protocol.ParseString(hs.Bytes[2:66]) != "minicraft" || protocol.ParseString(hs.Bytes[66:130]) != "Welcome to the server!" {
		t.Fatalf("handshake carries %q / %q", protocol.ParseString(hs.Bytes[2:66]), protocol.ParseString(hs.Bytes[66:130]))
	}
	if p := c.next(); p.OpCode() != protocol.OpMapBegin {
		t.Fatalf("got %v, want map begin", p.OpCode())
	}

	var data []byte
	lastPercent := byte(0)
	var end protocol.Packet
	for {
		p := c.next()
		if p.OpCode() == protocol.OpMapEnd {
			end = p
			break
		}
		if p.OpCode() != protocol.OpMapChunk {
			t.Fatalf("got %v during map transfer", p.OpCode())
		}
		n := int(binary.BigEndian.Uint16(p.Bytes[1:3]))
		data = append(data, p.Bytes[3:3+n]...)
		lastPercent = p.Bytes[1027]
	}
	if lastPercent != 100 {
		t.Fatalf("last chunk percent = %d, want 100", lastPercent)
	}
	blocks, err := DecompressMap(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 64*64*64 {
		t.Fatalf("map has %d blocks", len(blocks))
	}
	for i, off := range []int{1, 3, 5} {
		if v := binary.BigEndian.Uint16(end.Bytes[off:]); v != 64 {
			t.Fatalf("map end dimension %d = %d", i, v)
		}
	}

	m := srv.Worlds().MainWorld().Map()
	add := c.next()
	if add.OpCode() != protocol.OpAddEntity || add.Bytes[1] != protocol.SelfID || protocol.ParseString(add.Bytes[2:66]) != "Alice" {
		t.Fatalf("expected self add-entity, got %v", add.OpCode())
	}
	tp := c.next()
	if tp.OpCode() != protocol.OpTeleport || tp.Bytes[1] != protocol.SelfID || decodePosition(t, tp) != m.Spawn {
		t.Fatalf("expected self teleport to spawn, got %v", tp.OpCode())
	}
	c.expectMessage("Joined world")

	waitFor(t, "online", func() bool { return c.session.State() == StateOnline })
	mu.Lock()
	got := append([]SessionState(nil), states...)
	mu.Unlock()
	want := []SessionState{StateAuthenticating, StateLoadingWorld, StateOnline}
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states = %v, want %v", got, want)
		}
	}
	if srv.FindPlayerExact("alice") != c.session {
		t.Fatal("player not registered")
	}
	if c.session.World() != srv.Worlds().MainWorld() || c.session.Position() != m.Spawn {
		t.Fatal("session not placed at the main world spawn")
	}
}

func TestLoginRejectsBadVersion(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	c := connect(t, srv)
	c.send(protocol.EncodeHandshake(6, "Alice", ""))
	if msg := c.expectKick(); msg != "Incompatible protocol version!" {
		t.Fatalf("kick = %q", msg)
	}
	c.expectClosed()
	c.waitDone()
	if c.session.LeaveReason() != LeaveProtocolViolation {
		t.Fatalf("leave reason = %s", c.session.LeaveReason())
	}
	if srv.FindPlayerExact("Alice") != nil {
		t.Fatal("rejected player should not be registered")
	}
}

func TestLoginRejectsBadName(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	c := connect(t, srv)
	c.handshake("a!")
	if msg := c.expectKick(); msg != "Unacceptable player name!" {
		t.Fatalf("kick = %q", msg)
	}
	c.waitDone()
}

func TestLoginRejectsUnknownFirstByte(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	c := connect(t, srv)
	c.send([]byte{0x99})
	if msg := c.expectKick(); msg != "Incompatible client, or a network error." {
		t.Fatalf("kick = %q", msg)
	}
	c.waitDone()
}

func TestLoginVerification(t *testing.T) {
	t.Parallel()

	t.Run("unverified rejected", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, func(cfg *config.Config) {
			cfg.VerifyNames = config.VerifyBalanced
			cfg.Salt = "pepper"
		})
		c := connect(t, srv)
		c.send(protocol.EncodeHandshake(protocol.Version, "Alice", "not-a-token"))
		if msg := c.expectKick(); msg != "Could not verify player name!" {
			t.Fatalf("kick = %q", msg)
		}
		c.waitDone()
		if c.session.LeaveReason() != LeaveUnverifiedName {
			t.Fatalf("leave reason = %s", c.session.LeaveReason())
		}
	})

	t.Run("token accepted", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, func(cfg *config.Config) {
			cfg.VerifyNames = config.VerifyAlways
			cfg.Salt = "pepper"
		})
		c := connect(t, srv)
		c.send(protocol.EncodeHandshake(protocol.Version, "Alice", strings.ToUpper(VerificationToken("pepper", "Alice"))))
		waitFor(t, "online", func() bool { return c.session.State() == StateOnline })
		if !c.session.IsVerified() {
			t.Fatal("session should be verified")
		}
	})

	t.Run("never mode allows unverified", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, nil)
		c := login(t, srv, "Alice")
		if c.session.IsVerified() {
			t.Fatal("session should not be verified")
		}
		c.expectMessage("could not be verified")
	})
}

func TestTokenMatches(t *testing.T) {
	t.Parallel()

	want := "00ab12"
	for _, got := range []string{"00ab12", "ab12", "0AB12"} {
		if !tokenMatches(got, want) {
			t.Errorf("%q should match %q", got, want)
		}
	}
	for _, got := range []string{"", "ab13"} {
		if tokenMatches(got, want) {
			t.Errorf("%q should not match %q", got, want)
		}
	}
}

func TestLoginServerFull(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(cfg *config.Config) { cfg.MaxPlayers = 1 })
	login(t, srv, "Alice")
	c := connect(t, srv)
	c.handshake("Bob")
	if msg := c.expectKick(); msg != "Sorry, server is full (1/1)" {
		t.Fatalf("kick = %q", msg)
	}
	c.waitDone()
	if c.session.LeaveReason() != LeaveServerFull {
		t.Fatalf("leave reason = %s", c.session.LeaveReason())
	}
}

func TestLoginDeniedByHook(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	srv.Hooks = &Hooks{PlayerConnecting: func(s *Session) bool { return s.Name() == "Mallory" }}
	c := connect(t, srv)
	c.handshake("Mallory")
	if msg := c.expectKick(); msg != "Login denied by the server." {
		t.Fatalf("kick = %q", msg)
	}
	c.waitDone()
}

func TestDuplicateLoginKicksOldSession(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	first := login(t, srv, "Alice")
	second := login(t, srv, "alice")

	if msg := first.expectKick(); msg != "Connected from elsewhere!" {
		t.Fatalf("kick = %q", msg)
	}
	first.waitDone()
	if first.session.LeaveReason() != LeaveDuplicateLogin {
		t.Fatalf("leave reason = %s", first.session.LeaveReason())
	}
	if srv.FindPlayerExact("ALICE") != second.session {
		t.Fatal("new session should own the name")
	}
}

func TestSMPClientProbe(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	c := dial(t, srv)
	name := utf16.Encode([]rune("Steve"))
	var req bytes.Buffer
	req.WriteByte(protocol.ProbeSMPHandshake)
	_ = binary.Write(&req, binary.BigEndian, int16(len(name)))
	_ = binary.Write(&req, binary.BigEndian, name)
	c.send(req.Bytes())

	_ = c.conn.SetReadDeadline(time.Now().Add(testTimeout))
	reply, err := io.ReadAll(c.conn)
	if err != nil {
		t.Fatal(err)
	}
	msg := utf16.Encode([]rune("This server is for Minecraft Classic only."))
	var want bytes.Buffer
	want.WriteByte(protocol.SMPKick)
	_ = binary.Write(&want, binary.BigEndian, int16(len(msg)))
	_ = binary.Write(&want, binary.BigEndian, msg)
	if !bytes.Equal(reply, want.Bytes()) {
		t.Fatalf("reply = %x, want %x", reply, want.Bytes())
	}
	c.waitDone()
}

func TestCfgProbe(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(cfg *config.Config) { cfg.WoMEnableEnvExtensions = true })
	cases := []struct {
		request string
		status  int
		body    string
	}{
		{"GET /main~motd HTTP/1.1\r\n", http.StatusOK, "Welcome to the server!"},
		{"GET /MAIN HTTP/1.1\r\n", http.StatusOK, "server.name = minicraft"},
		{"GET /nowhere HTTP/1.1\r\n", http.StatusNotFound, ""},
		{"GET / HTTP/1.1\r\n", http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		c := dial(t, srv)
		c.send([]byte(tc.request))
		_ = c.conn.SetReadDeadline(time.Now().Add(testTimeout))
		resp, err := http.ReadResponse(bufio.NewReader(c.conn), nil)
		if err != nil {
			t.Fatalf("%q: %v", tc.request, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != tc.status {
			t.Fatalf("%q: status %d, want %d", tc.request, resp.StatusCode, tc.status)
		}
		if !strings.Contains(string(body), tc.body) {
			t.Fatalf("%q: body %q lacks %q", tc.request, body, tc.body)
		}
		c.waitDone()
	}
}

func TestUnknownOpcodeKicks(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	c := login(t, srv, "Alice")
	c.send([]byte{0x20})
	if msg := c.expectKick(); msg != "Unknown packet opcode 32" {
		t.Fatalf("kick = %q", msg)
	}
	c.expectClosed()
	c.waitDone()
	if c.session.LeaveReason() != LeaveInvalidOpcodeKick {
		t.Fatalf("leave reason = %s", c.session.LeaveReason())
	}
	if srv.FindPlayerExact("Alice") != nil {
		t.Fatal("kicked player should be unregistered")
	}
}

func TestChatBroadcast(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	alice := login(t, srv, "Alice")
	bob := login(t, srv, "Bob")

	alice.send(protocol.EncodeMessage("hello &cworld"))
	for _, c := range []*testClient{alice, bob} {
		if got := c.expectMessage("Alice&F:"); got != "&7Alice&F: hello world" {
			t.Fatalf("chat line = %q", got)
		}
	}
}

func TestChatSpamKick(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Antispam = config.Antispam{MessageCount: 2, IntervalSeconds: 10, MaxWarnings: 0, MuteSeconds: 5}
	})
	c := login(t, srv, "Alice")
	c.send(protocol.EncodeMessage("one"))
	c.expectMessage("Alice&F: one")
	c.send(protocol.EncodeMessage("two"))
	if msg := c.expectKick(); msg != "You were kicked for repeated spamming." {
		t.Fatalf("kick = %q", msg)
	}
	c.waitDone()
	if c.session.LeaveReason() != LeaveMessageSpamKick {
		t.Fatalf("leave reason = %s", c.session.LeaveReason())
	}
}

func TestChatSpamMutes(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Antispam = config.Antispam{MessageCount: 2, IntervalSeconds: 10, MaxWarnings: 1, MuteSeconds: 60}
	})
	c := login(t, srv, "Alice")
	c.send(protocol.EncodeMessage("one"))
	c.expectMessage("Alice&F: one")
	c.send(protocol.EncodeMessage("two"))
	c.expectMessage("You have been muted for 60 seconds. Slow down.")
	c.send(protocol.EncodeMessage("three"))
	c.expectMessage("You are muted for")
	if !c.session.Account().IsMuted(time.Now()) {
		t.Fatal("account should be muted")
	}
}

func TestIllegalChatCharactersKick(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	c := login(t, srv, "Alice")
	raw := protocol.EncodeMessage("bad")
	raw[3] = 0x07
	c.send(raw)
	if msg := c.expectKick(); msg != "Illegal characters in chat." {
		t.Fatalf("kick = %q", msg)
	}
	c.waitDone()
}

func TestSpeedhackSnapBack(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	c := login(t, srv, "Alice")
	spawn := c.session.Position()

	far := spawn
	far.Z += 3000
	c.send(protocol.EncodeMovement(far))
	tp := c.expect("snap back", func(p protocol.Packet) bool {
		return p.OpCode() == protocol.OpTeleport && p.Bytes[1] == protocol.SelfID
	})
	if got := decodePosition(t, tp); got != spawn {
		t.Fatalf("snapped to %+v, want %+v", got, spawn)
	}
	c.expectMessage("speedhack")
	if c.session.Position() != spawn {
		t.Fatalf("position = %+v, want %+v", c.session.Position(), spawn)
	}

	near := spawn
	near.X += 10
	c.send(protocol.EncodeMovement(near))
	waitFor(t, "accepted move", func() bool { return c.session.Position() == near })
}

func TestPlayersSeeEachOther(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	alice := login(t, srv, "Alice")
	bob := login(t, srv, "Bob")

	add := alice.expect("bob entity", func(p protocol.Packet) bool {
		return p.OpCode() == protocol.OpAddEntity && p.Bytes[1] != protocol.SelfID
	})
	if name := protocol.ParseString(add.Bytes[2:66]); name != "&7Bob" {
		t.Fatalf("entity name = %q", name)
	}
	bobID := add.Bytes[1]
	bob.expect("alice entity", func(p protocol.Packet) bool {
		return p.OpCode() == protocol.OpAddEntity && protocol.ParseString(p.Bytes[2:66]) == "&7Alice"
	})

	target := bob.session.Position()
	target.X += 20
	target.R = 90
	bob.send(protocol.EncodeMovement(target))

	tp := protocol.Packet{Bytes: append([]byte{byte(protocol.OpTeleport), bobID}, add.Bytes[66:74]...)}
	seen := decodePosition(t, tp)
	deadline := time.Now().Add(testTimeout)
	for seen != target {
		if time.Now().After(deadline) {
			t.Fatalf("alice sees bob at %+v, want %+v", seen, target)
		}
		p := alice.next()
		switch p.OpCode() {
		case protocol.OpTeleport, protocol.OpMoveRotate, protocol.OpMove, protocol.OpRotate:
			if p.Bytes[1] != bobID {
				continue
			}
			next, err := protocol.ApplyEntityUpdate(seen, p)
			if err != nil {
				t.Fatal(err)
			}
			seen = next
		}
	}
}

func TestJoinWorldCommand(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	arena := srv.Worlds().GetOrCreateWorld("arena")
	alice := login(t, srv, "Alice")
	bob := login(t, srv, "Bob")
	add := bob.expect("alice entity", func(p protocol.Packet) bool {
		return p.OpCode() == protocol.OpAddEntity && protocol.ParseString(p.Bytes[2:66]) == "&7Alice"
	})

	alice.send(protocol.EncodeMessage("/join arena"))
	hs := alice.expectOp(protocol.OpHandshake)
	if motd := protocol.ParseString(hs.Bytes[66:130]); motd != "Loading world arena" {
		t.Fatalf("handshake motd = %q", motd)
	}
	alice.expectOp(protocol.OpMapBegin)
	alice.expectOp(protocol.OpMapEnd)
	alice.expect("self teleport", func(p protocol.Packet) bool {
		return p.OpCode() == protocol.OpTeleport && p.Bytes[1] == protocol.SelfID
	})
	alice.expectMessage("Joined world &farena")
	waitFor(t, "world change", func() bool { return alice.session.World() == arena })
	if srv.Worlds().MainWorld().PlayerCount() != 1 || arena.PlayerCount() != 1 {
		t.Fatalf("player counts main=%d arena=%d", srv.Worlds().MainWorld().PlayerCount(), arena.PlayerCount())
	}

	bob.expect("alice removal", func(p protocol.Packet) bool {
		return p.OpCode() == protocol.OpRemoveEntity && p.Bytes[1] == add.Bytes[1]
	})

	alice.send(protocol.EncodeMessage("/join nowhere"))
	alice.expectMessage("No world named")
}

func TestBlockPlacement(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	alice := login(t, srv, "Alice")
	bob := login(t, srv, "Bob")
	m := srv.Worlds().MainWorld().Map()

	c := protocol.Vector3{X: 33, Y: 32, Z: 32}
	if m.GetBlock(c) != BlockAir {
		t.Fatal("target should start as air")
	}
	alice.send(protocol.EncodeSetBlock(c, true, BlockStone))
	p := bob.expectOp(protocol.OpSetBlockServer)
	if p.Bytes[7] != BlockStone ||
		binary.BigEndian.Uint16(p.Bytes[1:]) != 33 ||
		binary.BigEndian.Uint16(p.Bytes[3:]) != 32 ||
		binary.BigEndian.Uint16(p.Bytes[5:]) != 32 {
		t.Fatalf("bob got set-block %x", p.Bytes)
	}
	if m.GetBlock(c) != BlockStone {
		t.Fatal("block not applied to the map")
	}

	alice.send(protocol.EncodeSetBlock(c, false, BlockStone))
	p = bob.expectOp(protocol.OpSetBlockServer)
	if p.Bytes[7] != BlockAir {
		t.Fatalf("bob got block %d after delete, want air", p.Bytes[7])
	}
}

func TestBlockPlacementLockedWorld(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(cfg *config.Config) { cfg.Worlds[0].Locked = true })
	alice := login(t, srv, "Alice")
	m := srv.Worlds().MainWorld().Map()

	c := protocol.Vector3{X: 33, Y: 32, Z: 32}
	alice.send(protocol.EncodeSetBlock(c, true, BlockStone))
	p := alice.expectOp(protocol.OpSetBlockServer)
	if p.Bytes[7] != BlockAir {
		t.Fatalf("revert sent block %d, want air", p.Bytes[7])
	}
	alice.expectMessage("locked")
	if m.GetBlock(c) != BlockAir {
		t.Fatal("locked world must not change")
	}
}

func TestBlockPlacementInvalidType(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	alice := login(t, srv, "Alice")
	alice.send(protocol.EncodeSetBlock(protocol.Vector3{X: 33, Y: 32, Z: 32}, true, 60))
	if msg := alice.expectKick(); msg != "Hacking detected." {
		t.Fatalf("kick = %q", msg)
	}
	alice.waitDone()
}

func TestBlockPlacementOutOfReach(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	alice := login(t, srv, "Alice")
	m := srv.Worlds().MainWorld().Map()
	c := protocol.Vector3{X: 2, Y: 2, Z: 40}
	alice.send(protocol.EncodeSetBlock(c, true, BlockStone))
	p := alice.expectOp(protocol.OpSetBlockServer)
	if p.Bytes[7] != BlockAir {
		t.Fatalf("revert sent block %d, want air", p.Bytes[7])
	}
	if m.GetBlock(c) != BlockAir {
		t.Fatal("out of reach click must not change the map")
	}
}

func TestShutdownKicksPlayers(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	alice := login(t, srv, "Alice")
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if msg := alice.expectKick(); msg != "Server shutting down." {
		t.Fatalf("kick = %q", msg)
	}
	if alice.session.LeaveReason() != LeaveServerShutdown {
		t.Fatalf("leave reason = %s", alice.session.LeaveReason())
	}
	if err := srv.Shutdown(ctx); err != ErrServerClosed {
		t.Fatalf("second shutdown err = %v", err)
	}
}

func TestWrapMessage(t *testing.T) {
	t.Parallel()

	if got := wrapMessage("short"); len(got) != 1 || got[0] != "short" {
		t.Fatalf("wrap(short) = %q", got)
	}
	long := strings.Repeat("word ", 40)
	lines := wrapMessage(long)
	if len(lines) < 3 {
		t.Fatalf("expected several lines, got %q", lines)
	}
	for i, l := range lines {
		if len(l) > protocol.StringSize {
			t.Fatalf("line %d too long: %q", i, l)
		}
		if i > 0 && !strings.HasPrefix(l, "> ") {
			t.Fatalf("continuation line %d lacks prefix: %q", i, l)
		}
	}
	if got := wrapMessage("a\nb"); len(got) != 2 {
		t.Fatalf("newline split = %q", got)
	}
	if got := wrapMessage("& " + strings.Repeat("x", 100)); len(got) < 2 {
		t.Fatalf("unbroken text = %q", got)
	}
}
