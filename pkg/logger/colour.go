// pkg/logger/colour.go

package logger

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	HeaderStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

// Console is where operator status lines go. Tests swap it for a buffer.
var Console io.Writer = os.Stderr

// Success prints a green status line and logs it at info level.
func Success(ctx context.Context, msg string, fields ...zap.Field) {
	otelzap.Ctx(ctx).Info(msg, append(fields, zap.String("status", "success"))...)
	fmt.Fprintln(Console, successStyle.Render(">>> "+msg))
}

// Info prints a blue status line.
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	otelzap.Ctx(ctx).Info(msg, fields...)
	fmt.Fprintln(Console, infoStyle.Render(">>> "+msg))
}

// Warn prints a yellow status line.
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	otelzap.Ctx(ctx).Warn(msg, fields...)
	fmt.Fprintln(Console, warnStyle.Render(">>> "+msg))
}

// Failure prints a red status line. It does not return an error; callers decide
// whether the failure aborts.
func Failure(ctx context.Context, msg string, fields ...zap.Field) {
	otelzap.Ctx(ctx).Warn(msg, append(fields, zap.String("status", "failure"))...)
	fmt.Fprintln(Console, failureStyle.Render(">>> "+msg))
}
