package server

import (
	"errors"
	"fmt"
	"strings"
)

// CommandHandler 处理以 "/" 开头的聊天命令（line 不含前导斜杠）。
// 返回的错误以警告色显示给发送者
type CommandHandler interface {
	HandleCommand(s *Session, line string) error
}

// CommandFunc 函数适配器
type CommandFunc func(s *Session, line string) error

func (f CommandFunc) HandleCommand(s *Session, line string) error { return f(s, line) }

var errUnknownCommand = errors.New("Unknown command. Try /help")

// builtinCommands 服务器自带的少量命令
type builtinCommands struct{}

func (builtinCommands) HandleCommand(s *Session, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return errUnknownCommand
	}
	args := fields[1:]
	switch strings.ToLower(fields[0]) {
	case "help":
		s.Message("&SCommands: /join <world>, /worlds, /players, /bandwidth [mode], /deafen, /paint, /kick <player> [reason]")
	case "join", "j":
		if len(args) != 1 {
			return errors.New("Usage: /join <world>")
		}
		w := s.server.worlds.FindWorldExact(args[0])
		if w == nil || (w.IsHidden() && !s.Can(PermSeeHidden)) {
			return fmt.Errorf("No world named %q", args[0])
		}
		if w == s.World() {
			return errors.New("You are already in that world.")
		}
		s.JoinWorld(w, WorldChangeManualJoin)
	case "worlds":
		var names []string
		for _, w := range s.server.worlds.Worlds() {
			if !w.IsHidden() || s.Can(PermSeeHidden) {
				names = append(names, fmt.Sprintf("%s&S (%d)", w.ClassyName(), w.PlayerCount()))
			}
		}
		s.Message("&SWorlds: " + strings.Join(names, ", "))
	case "players", "who":
		var names []string
		for _, o := range s.server.Players() {
			if o == s || s.CanSee(o) {
				names = append(names, o.ClassyName())
			}
		}
		s.Messagef("&SPlayers online (%d): %s", len(names), strings.Join(names, "&S, "))
	case "bandwidth", "bw":
		if len(args) == 0 {
			s.Messagef("&SBandwidth mode: %s", s.EffectiveBandwidthMode())
			return nil
		}
		m, err := ParseBandwidthMode(args[0])
		if err != nil {
			return err
		}
		s.SetBandwidthMode(m)
		s.Messagef("&SBandwidth mode set to %s", s.EffectiveBandwidthMode())
	case "deafen", "deaf":
		deaf := !s.IsDeaf()
		if deaf {
			s.Message("&SDeafened mode: ON. You will not see chat messages.")
			s.SetDeaf(true)
		} else {
			s.SetDeaf(false)
			s.Message("&SDeafened mode: OFF.")
		}
	case "paint":
		on := !s.paint.Load()
		s.SetPaintMode(on)
		if on {
			s.Message("&SPaint mode: ON")
		} else {
			s.Message("&SPaint mode: OFF")
		}
	case "kick", "k":
		if !s.Can(PermKick) {
			return errors.New("You are not allowed to kick players.")
		}
		if len(args) == 0 {
			return errors.New("Usage: /kick <player> [reason]")
		}
		target := s.server.FindPlayerExact(args[0])
		if target == nil || (target != s && !s.CanSee(target)) {
			return fmt.Errorf("No player named %q", args[0])
		}
		reason := strings.Join(args[1:], " ")
		msg := "You were kicked by " + s.Name()
		if reason != "" {
			msg += ": " + reason
		}
		target.Kick(msg, LeaveKick)
		s.server.Message(fmt.Sprintf("&WPlayer %s&W was kicked by %s", target.ClassyName(), s.ClassyName()), nil)
	default:
		return errUnknownCommand
	}
	return nil
}
