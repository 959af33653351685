// Package logging wires github.com/ethereum/go-ethereum/log the same way
// the teacher's CLI does: a terminal-format handler on stderr (colorable and
// colored when stderr is a tty, uncolored otherwise), an optional rotating
// logfmt file sink, and a glog-style verbosity filter set from the config.
package logging

import (
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup installs the default logger. verbosity follows go-ethereum's Lvl
// scale (0=Crit .. 5=Trace); logFile, when non-empty, additionally writes
// logfmt output to a lumberjack-rotated file.
func Setup(verbosity int, logFile string) {
	useColor := isatty.IsTerminal(os.Stderr.Fd())
	var out io.Writer = os.Stderr
	if useColor {
		out = colorable.NewColorable(os.Stderr)
	}

	glog := log.NewGlogHandler(log.NewTerminalHandler(out, useColor))
	glog.Verbosity(log.FromLegacyLevel(verbosity))

	if logFile == "" {
		log.SetDefault(log.NewLogger(glog))
		return
	}

	fileSink := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	fileHandler := log.NewLogfmtHandler(fileSink)
	log.SetDefault(log.NewLogger(log.MultiHandler(glog, fileHandler)))
}
