package protocol

import "strings"

// StringSize 协议中所有字符串字段的固定宽度
const StringSize = 64

// PutString 把 s 按固定宽度写入 dst[:64]：超长截断，不足补空格；
// 仅允许 32..126 的字符，其余替换为 '?'
func PutString(dst []byte, s string) {
	n := 0
	for i := 0; i < len(s) && n < StringSize; i++ {
		c := s[i]
		if c < ' ' || c > '~' {
			c = '?'
		}
		dst[n] = c
		n++
	}
	for ; n < StringSize; n++ {
		dst[n] = ' '
	}
}

// ParseString 解码固定宽度字段并去掉尾部空格
func ParseString(src []byte) string {
	if len(src) > StringSize {
		src = src[:StringSize]
	}
	return strings.TrimRight(string(src), " ")
}

// IsBlank 字段是否全为空格（用于放行“清屏”类消息）
func IsBlank(src []byte) bool {
	for _, c := range src {
		if c != ' ' {
			return false
		}
	}
	return true
}
