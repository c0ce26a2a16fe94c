package logger

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

type Logger struct {
	debugLogger *log.Logger
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
	level       LogLevel
}

var defaultLogger *Logger

// Init sets up the global logger. When a file path is given, output goes to
// stdout and a size-rotated file; otherwise stdout only.
func Init(level LogLevel, logFilePath string, maxSizeMB, maxBackups, maxAgeDays int) {
	defaultLogger = &Logger{level: level}

	var output io.Writer = os.Stdout
	if logFilePath != "" {
		logDir := filepath.Dir(logFilePath)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			log.Printf("cannot create log directory %s: %v", logDir, err)
		} else {
			fileOutput := &lumberjack.Logger{
				Filename:   logFilePath,
				MaxSize:    maxSizeMB,
				MaxBackups: maxBackups,
				MaxAge:     maxAgeDays,
				Compress:   true,
			}
			output = io.MultiWriter(os.Stdout, fileOutput)
		}
	}

	defaultLogger.debugLogger = log.New(output, "DEBUG: ", log.LstdFlags|log.Lshortfile)
	defaultLogger.infoLogger = log.New(output, "INFO:  ", log.LstdFlags)
	defaultLogger.warnLogger = log.New(output, "WARN:  ", log.LstdFlags)
	defaultLogger.errorLogger = log.New(output, "ERROR: ", log.LstdFlags|log.Lshortfile)
}

func get() *Logger {
	if defaultLogger == nil {
		Init(INFO, "", 100, 5, 30)
	}
	return defaultLogger
}

// ParseLogLevel maps a level name to a LogLevel, defaulting to INFO.
func ParseLogLevel(levelStr string) LogLevel {
	switch levelStr {
	case "DEBUG", "debug":
		return DEBUG
	case "INFO", "info":
		return INFO
	case "WARN", "warn":
		return WARN
	case "ERROR", "error":
		return ERROR
	default:
		return INFO
	}
}

func Debug(format string, v ...interface{}) {
	if l := get(); l.level <= DEBUG {
		l.debugLogger.Printf(format, v...)
	}
}

func Info(format string, v ...interface{}) {
	if l := get(); l.level <= INFO {
		l.infoLogger.Printf(format, v...)
	}
}

func Warn(format string, v ...interface{}) {
	if l := get(); l.level <= WARN {
		l.warnLogger.Printf(format, v...)
	}
}

func Error(format string, v ...interface{}) {
	if l := get(); l.level <= ERROR {
		l.errorLogger.Printf(format, v...)
	}
}
