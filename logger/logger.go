package logger

// Logger is the structured logger used across the terminal.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

type NoopLogger struct{}

func (NoopLogger) Debug(string, map[string]any) {}
func (NoopLogger) Info(string, map[string]any)  {}
func (NoopLogger) Warn(string, map[string]any)  {}
func (NoopLogger) Error(string, map[string]any) {}

// With returns a logger that adds fields to every entry.
func With(l Logger, fields map[string]any) Logger {
	if len(fields) == 0 {
		return l
	}
	return &fieldLogger{base: l, fields: fields}
}

type fieldLogger struct {
	base   Logger
	fields map[string]any
}

func (f *fieldLogger) merge(extra map[string]any) map[string]any {
	out := make(map[string]any, len(f.fields)+len(extra))
	for k, v := range f.fields {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (f *fieldLogger) Debug(msg string, fields map[string]any) { f.base.Debug(msg, f.merge(fields)) }
func (f *fieldLogger) Info(msg string, fields map[string]any)  { f.base.Info(msg, f.merge(fields)) }
func (f *fieldLogger) Warn(msg string, fields map[string]any)  { f.base.Warn(msg, f.merge(fields)) }
func (f *fieldLogger) Error(msg string, fields map[string]any) { f.base.Error(msg, f.merge(fields)) }
