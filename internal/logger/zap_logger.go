package logger

import (
	"io"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DiagnosticTimeLayout avoids ':' so the same stamp can be reused in stream names.
const DiagnosticTimeLayout = "2006.01.02 15.04.05"

type ZapLogger struct {
	l *zap.Logger
}

func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{
		l: l,
	}
}

// NewDiagnostic builds a logger that writes one line per event in the form
// "<local-time> <component>: <message> {fields}".
func NewDiagnostic(w io.Writer, level zapcore.Level) *ZapLogger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:          "ts",
		NameKey:          "component",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       localTimeEncoder,
		EncodeName:       componentEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	return NewZapLogger(zap.New(core))
}

func (z *ZapLogger) Info(msg string, fields ...Field)  { z.l.Info(msg, toZap(fields...)...) }
func (z *ZapLogger) Warn(msg string, fields ...Field)  { z.l.Warn(msg, toZap(fields...)...) }
func (z *ZapLogger) Error(msg string, fields ...Field) { z.l.Error(msg, toZap(fields...)...) }
func (z *ZapLogger) Debug(msg string, fields ...Field) { z.l.Debug(msg, toZap(fields...)...) }

func (z *ZapLogger) Named(component string) Logger {
	return &ZapLogger{l: z.l.Named(component)}
}

// Sync flushes buffered output.
func (z *ZapLogger) Sync() error { return z.l.Sync() }

func localTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Local().Format(DiagnosticTimeLayout))
}

func componentEncoder(name string, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(name + ":")
}

func toZap(fs ...Field) []zap.Field {
	out := make([]zap.Field, 0, len(fs))
	for _, f := range fs {
		if err, ok := f.Value.(error); ok && f.Key == "error" {
			out = append(out, zap.Error(err))
			continue
		}
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}
