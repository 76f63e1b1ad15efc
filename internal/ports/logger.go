package ports

import "context"

// Logger is the structured logger every component receives. Fields are
// flattened into the log entry; when several maps are passed, later keys win.
// The zap adapter in internal/adapters/logger is the production implementation.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error logs err under the "error" key alongside fields.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
