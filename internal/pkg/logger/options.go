package logger

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
	FormatAuto    = "auto"

	defaultLogFilePath = "logs/antigravity2api.log"
)

// InitOptions 日志初始化参数。零值可用（normalized 补默认值）。
type InitOptions struct {
	Level           string
	Format          string
	ServiceName     string
	Caller          bool
	StacktraceLevel string
	Output          OutputOptions
	Rotation        RotationOptions
	Sampling        SamplingOptions
}

type OutputOptions struct {
	ToStdout bool
	ToFile   bool
	FilePath string
}

type RotationOptions struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	LocalTime  bool
}

type SamplingOptions struct {
	Enabled    bool
	Initial    int
	Thereafter int
}

func bootstrapOptions() InitOptions {
	return InitOptions{
		Level:       "info",
		Format:      FormatAuto,
		ServiceName: "antigravity2api",
		Output:      OutputOptions{ToStdout: true},
	}
}

func (o InitOptions) normalized() InitOptions {
	out := o

	out.Level = strings.ToLower(strings.TrimSpace(out.Level))
	if _, ok := parseLevel(out.Level); !ok {
		out.Level = "info"
	}

	out.Format = strings.ToLower(strings.TrimSpace(out.Format))
	switch out.Format {
	case FormatJSON, FormatConsole:
	case FormatAuto, "":
		// 交互终端用 console，重定向/容器环境用 json。
		if term.IsTerminal(int(os.Stdout.Fd())) {
			out.Format = FormatConsole
		} else {
			out.Format = FormatJSON
		}
	default:
		out.Format = FormatJSON
	}

	if strings.TrimSpace(out.ServiceName) == "" {
		out.ServiceName = "antigravity2api"
	}

	if !out.Output.ToStdout && !out.Output.ToFile {
		out.Output.ToStdout = true
	}

	if out.Rotation.MaxSizeMB <= 0 {
		out.Rotation.MaxSizeMB = 100
	}
	if out.Rotation.MaxBackups < 0 {
		out.Rotation.MaxBackups = 0
	}
	if out.Rotation.MaxAgeDays < 0 {
		out.Rotation.MaxAgeDays = 0
	}

	if out.Sampling.Enabled {
		if out.Sampling.Initial <= 0 {
			out.Sampling.Initial = 100
		}
		if out.Sampling.Thereafter <= 0 {
			out.Sampling.Thereafter = 100
		}
	}

	if strings.TrimSpace(out.StacktraceLevel) == "" {
		out.StacktraceLevel = "disabled"
	}

	return out
}

func parseLevel(level string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, true
	case "info", "":
		return zapcore.InfoLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	case "fatal":
		return zapcore.FatalLevel, true
	default:
		return zapcore.InfoLevel, false
	}
}

// parseStacktraceLevel 返回附带堆栈的最低级别；disabled 时返回一个高于
// Fatal 的级别，使 AddStacktrace 永不触发。
func parseStacktraceLevel(level string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "disabled", "none", "off":
		return zapcore.FatalLevel + 1, true
	default:
		return parseLevel(level)
	}
}

func samplingTick() time.Duration {
	return time.Second
}
