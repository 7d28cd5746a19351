package protocol

// OpCode 单字节消息类型标识，每种类型对应固定长度的报文布局
type OpCode byte

const (
	OpHandshake      OpCode = 0
	OpPing           OpCode = 1
	OpMapBegin       OpCode = 2
	OpMapChunk       OpCode = 3
	OpMapEnd         OpCode = 4
	OpSetBlockClient OpCode = 5
	OpSetBlockServer OpCode = 6
	OpAddEntity      OpCode = 7
	OpTeleport       OpCode = 8
	OpMoveRotate     OpCode = 9
	OpMove           OpCode = 10
	OpRotate         OpCode = 11
	OpRemoveEntity   OpCode = 12
	OpMessage        OpCode = 13
	OpKick           OpCode = 14
)

// Version 服务端支持的唯一协议版本
const Version = 7

// 首字节探测：旧版/外部协议共享同一个 opcode 空间（封闭表，不可扩展）
const (
	ProbeSMPHandshake byte = 2
	ProbeSMPLogin     byte = 250
	ProbeSMPPing      byte = 254
	ProbeHTTPGet      byte = 'G'
	SMPKick           byte = 255
)

// packetSizes 每个 opcode 的完整报文长度（含 opcode 字节）
var packetSizes = [...]int{
	OpHandshake:      131,
	OpPing:           1,
	OpMapBegin:       1,
	OpMapChunk:       1028,
	OpMapEnd:         7,
	OpSetBlockClient: 9,
	OpSetBlockServer: 8,
	OpAddEntity:      74,
	OpTeleport:       10,
	OpMoveRotate:     7,
	OpMove:           5,
	OpRotate:         4,
	OpRemoveEntity:   2,
	OpMessage:        66,
	OpKick:           65,
}

// Size 返回 opcode 对应的报文总长度；未知 opcode 返回 0
func (op OpCode) Size() int {
	if int(op) >= len(packetSizes) {
		return 0
	}
	return packetSizes[op]
}

func (op OpCode) String() string {
	switch op {
	case OpHandshake:
		return "Handshake"
	case OpPing:
		return "Ping"
	case OpMapBegin:
		return "MapBegin"
	case OpMapChunk:
		return "MapChunk"
	case OpMapEnd:
		return "MapEnd"
	case OpSetBlockClient:
		return "SetBlockClient"
	case OpSetBlockServer:
		return "SetBlockServer"
	case OpAddEntity:
		return "AddEntity"
	case OpTeleport:
		return "Teleport"
	case OpMoveRotate:
		return "MoveRotate"
	case OpMove:
		return "Move"
	case OpRotate:
		return "Rotate"
	case OpRemoveEntity:
		return "RemoveEntity"
	case OpMessage:
		return "Message"
	case OpKick:
		return "Kick"
	default:
		return "Unknown"
	}
}
