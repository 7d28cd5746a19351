package server

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log 是全局可用的 SugaredLogger，用于统一日志输出到文件。
// InitLogger 之前为空实现，测试无需落盘
var Log = zap.NewNop().Sugar()

// crashLog 面向运维的崩溃日志（独立文件）
var crashLog = zap.NewNop().Sugar()

func newFileCore(filePath string) zapcore.Core {
	// 文件滚动策略：10MB 每文件，保留3个备份
	lj := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     7, // days
		Compress:   false,
	}

	ws := zapcore.AddSync(lj)
	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}
	encoder := zapcore.NewConsoleEncoder(encCfg)
	return zapcore.NewCore(encoder, ws, zapcore.DebugLevel)
}

// InitLogger 初始化 zap 日志到本地文件（支持滚动）
// filePath: 主日志路径；crashPath: 崩溃报告路径，为空则写入主日志
func InitLogger(filePath, crashPath string) error {
	logger := zap.New(newFileCore(filePath), zap.AddCaller())
	Log = logger.Sugar()
	if crashPath == "" {
		crashLog = Log.Named("crash")
	} else {
		crashLog = zap.New(newFileCore(crashPath), zap.AddCaller()).Sugar()
	}
	return nil
}

// SyncLogger 清理和同步缓冲
func SyncLogger() {
	if Log != nil {
		_ = Log.Sync()
	}
	if crashLog != nil {
		_ = crashLog.Sync()
	}
}

// 日志分类：可疑行为 / 系统事件 / 用户行为
func Suspicious() *zap.SugaredLogger     { return Log.Named("suspicious") }
func SystemActivity() *zap.SugaredLogger { return Log.Named("system") }
func UserActivity() *zap.SugaredLogger   { return Log.Named("user") }

// LogAndReportCrash 记录意外故障：主日志一条错误，崩溃日志附带调用栈
func LogAndReportCrash(message string, err error) {
	Log.Errorw(message, "error", err)
	crashLog.Errorw(message, "error", err, zap.Stack("stack"))
	metricCrashes.Inc()
}
