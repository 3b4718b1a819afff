package logger

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// PrintLogger adapts zerolog to the Print-style interface sarama expects
// for its global logger, so broker chatter lands in the same stream as
// application logs. Client internals are noisy, so everything is debug.
type PrintLogger struct {
	zl zerolog.Logger
}

func NewPrintLogger(zl zerolog.Logger) *PrintLogger {
	return &PrintLogger{zl: zl}
}

func (l *PrintLogger) Print(v ...any) {
	l.emit(fmt.Sprint(v...))
}

func (l *PrintLogger) Printf(format string, v ...any) {
	l.emit(fmt.Sprintf(format, v...))
}

func (l *PrintLogger) Println(v ...any) {
	l.emit(fmt.Sprintln(v...))
}

func (l *PrintLogger) emit(msg string) {
	l.zl.Debug().Msg(strings.TrimRight(msg, "\n"))
}
