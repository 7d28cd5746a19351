package server

// SessionState 会话状态机
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthenticating
	StateLoadingWorld
	StateOnline
	StatePendingDisconnect
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateLoadingWorld:
		return "loading_world"
	case StateOnline:
		return "online"
	case StatePendingDisconnect:
		return "pending_disconnect"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// LeaveReason 会话结束的原因，首次设置后通常不再覆盖
type LeaveReason int32

const (
	LeaveUnknown LeaveReason = iota
	LeaveClientQuit
	LeaveKick
	LeaveProtocolViolation
	LeaveInvalidOpcodeKick
	LeaveInvalidMessageKick
	LeaveMessageSpamKick
	LeaveBlockSpamKick
	LeaveLoginFailed
	LeaveUnverifiedName
	LeaveServerFull
	LeaveWorldFull
	LeaveServerError
	LeaveServerShutdown
	LeaveDuplicateLogin
)

func (r LeaveReason) String() string {
	switch r {
	case LeaveClientQuit:
		return "client_quit"
	case LeaveKick:
		return "kick"
	case LeaveProtocolViolation:
		return "protocol_violation"
	case LeaveInvalidOpcodeKick:
		return "invalid_opcode"
	case LeaveInvalidMessageKick:
		return "invalid_message"
	case LeaveMessageSpamKick:
		return "message_spam"
	case LeaveBlockSpamKick:
		return "block_spam"
	case LeaveLoginFailed:
		return "login_failed"
	case LeaveUnverifiedName:
		return "unverified_name"
	case LeaveServerFull:
		return "server_full"
	case LeaveWorldFull:
		return "world_full"
	case LeaveServerError:
		return "server_error"
	case LeaveServerShutdown:
		return "server_shutdown"
	case LeaveDuplicateLogin:
		return "duplicate_login"
	default:
		return "unknown"
	}
}

// WorldChangeReason 切换世界的原因（传给事件钩子）
type WorldChangeReason int

const (
	WorldChangeFirstWorld WorldChangeReason = iota
	WorldChangeManualJoin
	WorldChangeTeleport
	WorldChangeRejoin
	WorldChangeWorldRemoved
)
