package auth

// Field is one structured log attribute. Values never carry raw API keys or
// key hashes; key_prefix is the only key material that reaches a log line.
type Field struct {
	Key   string
	Value interface{}
}

// ErrorField wraps err under the "error" key
func ErrorField(err error) Field {
	return Field{Key: "error", Value: err}
}

// Logger receives the structured events of the manager, the storage
// decorators and the billing dispatcher.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)

	// Warn is used for degraded paths that do not fail the call, such as a
	// failed last_used_at stamp or a cache write error.
	Warn(msg string, fields ...Field)

	Error(msg string, fields ...Field)
}

// NoopLogger discards everything. It is the default when Config.Logger is nil.
type NoopLogger struct{}

func (n *NoopLogger) Debug(msg string, fields ...Field) {}
func (n *NoopLogger) Info(msg string, fields ...Field)  {}
func (n *NoopLogger) Warn(msg string, fields ...Field)  {}
func (n *NoopLogger) Error(msg string, fields ...Field) {}
