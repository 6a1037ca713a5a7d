package logger

type Field struct {
	Key   string
	Value any
}

type Logger interface {
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	// Named returns a logger that reports under the given component name.
	Named(component string) Logger
}

func F(key string, val any) Field { return Field{Key: key, Value: val} }

// Err is shorthand for an "error" field.
func Err(err error) Field { return Field{Key: "error", Value: err} }
