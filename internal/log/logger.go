package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init 配置全局 zerolog：dev 使用彩色控制台输出，其余环境输出带 service 字段的 JSON。
func Init(env, level, service string) {
	Setup(os.Stdout, env, level, service)
}

// Setup 与 Init 相同，但写到指定 io.Writer。
func Setup(w io.Writer, env, level, service string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.SetGlobalLevel(ParseLevel(level))

	if env == "dev" {
		cw := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
		log.Logger = zerolog.New(cw).With().Timestamp().Str("service", service).Logger()
		return
	}
	log.Logger = zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Str("env", env).
		Logger()
}

// ParseLevel 无法识别时回退到 info。
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
