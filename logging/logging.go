package logging

import (
	"fmt"
	"log"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

var (
	debugLogger  *log.Logger
	logWriter    *rotatelogs.RotateLogs
	mu           sync.Mutex
	isSetup      bool
	debugEnabled bool
)

// SetupLogger initializes the logger writing to a daily-rotated file at logFilePath
func SetupLogger(logFilePath string) error {
	mu.Lock()
	defer mu.Unlock()

	if isSetup {
		return nil
	}

	// The configured path is kept as a symlink to the current file
	writer, err := rotatelogs.New(
		logFilePath+".%Y%m%d",
		rotatelogs.WithLinkName(logFilePath),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(7*24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to open log file: %v", err)
	}

	logWriter = writer
	debugLogger = log.New(logWriter, "", log.LstdFlags)
	debugLogger.Printf("--- dicehistogram log started at %s ---\n", time.Now().Format(time.RFC3339))

	isSetup = true
	return nil
}

// CloseLogger flushes and closes the log file
func CloseLogger() {
	mu.Lock()
	defer mu.Unlock()

	if logWriter != nil {
		debugLogger.Printf("--- dicehistogram log closed at %s ---\n", time.Now().Format(time.RFC3339))
		logWriter.Close()
		logWriter = nil
		debugLogger = nil
		isSetup = false
	}
}

// CurrentFile returns the file currently being written, or "" before setup
func CurrentFile() string {
	mu.Lock()
	defer mu.Unlock()

	if logWriter == nil {
		return ""
	}
	return logWriter.CurrentFileName()
}

// SetDebug enables or disables DebugLog output
func SetDebug(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	debugEnabled = enabled
}

// LogInfo logs an information message
func LogInfo(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if debugLogger != nil {
		debugLogger.Printf("INFO: "+format, args...)
	} else {
		log.Printf("INFO: "+format, args...)
	}
}

// DebugLog logs a message if debug mode is enabled
func DebugLog(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if debugLogger != nil && debugEnabled {
		debugLogger.Printf(format, args...)
	}
}

// LogError logs an error message
func LogError(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if debugLogger != nil {
		debugLogger.Printf("ERROR: "+format, args...)
	}
}

// LogWarning logs a warning message
func LogWarning(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if debugLogger != nil {
		debugLogger.Printf("WARNING: "+format, args...)
	}
}

// LogImageProcessed logs the outcome for one image
func LogImageProcessed(path string, success bool, errMsg string) {
	mu.Lock()
	defer mu.Unlock()

	if debugLogger != nil {
		if success {
			debugLogger.Printf("PROCESSED: %s", path)
		} else {
			debugLogger.Printf("FAILED: %s - Error: %s", path, errMsg)
		}
	}
}
