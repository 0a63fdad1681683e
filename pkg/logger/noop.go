// pkg/logger/noop.go
package logger

// NoopLogger 空实现，用于测试或禁用日志
type NoopLogger struct{}

var _ Logger = (*NoopLogger)(nil)

// Nop 返回空 Logger
func Nop() Logger {
	return &NoopLogger{}
}

func (n *NoopLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (n *NoopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (n *NoopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (n *NoopLogger) Error(msg string, keysAndValues ...interface{}) {}

func (n *NoopLogger) Named(name string) Logger                       { return n }
func (n *NoopLogger) WithFields(keysAndValues ...interface{}) Logger { return n }

func (n *NoopLogger) Sync() error { return nil }
