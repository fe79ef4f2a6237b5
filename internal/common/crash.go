package common

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// CrashLogDir is where crash reports are written
var CrashLogDir = "logs"

// WriteCrashFile writes a crash report and returns its path, or "" when the
// report could only be printed to stderr
func WriteCrashFile(panicVal any, stackTrace string) string {
	var report bytes.Buffer
	fmt.Fprintf(&report, "=== HRSYNC CRASH REPORT ===\n")
	fmt.Fprintf(&report, "Time: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&report, "Version: %s\n", GetFullVersion())
	fmt.Fprintf(&report, "Args: %q\n\n", os.Args[1:])
	fmt.Fprintf(&report, "=== PANIC ===\n%v\n\n", panicVal)
	fmt.Fprintf(&report, "=== STACK ===\n%s\n", stackTrace)
	fmt.Fprintf(&report, "=== RUNTIME ===\nGOOS: %s\nGOARCH: %s\nNumGoroutine: %d\n",
		runtime.GOOS, runtime.GOARCH, runtime.NumGoroutine())

	crashPath := filepath.Join(CrashLogDir, "crash-"+time.Now().Format("2006-01-02T15-04-05")+".log")
	if err := os.MkdirAll(CrashLogDir, 0755); err == nil {
		err = os.WriteFile(crashPath, report.Bytes(), 0644)
		if err == nil {
			fmt.Fprintf(os.Stderr, "\nhrsync crashed. Report saved to %s\n", crashPath)
			return crashPath
		}
	}

	fmt.Fprint(os.Stderr, report.String())
	return ""
}

// RecoverWithCrashFile writes a crash report for a panic and exits.
// Usage: defer common.RecoverWithCrashFile()
func RecoverWithCrashFile() {
	if r := recover(); r != nil {
		buf := make([]byte, 16*1024)
		n := runtime.Stack(buf, false)
		WriteCrashFile(r, string(buf[:n]))
		os.Exit(1)
	}
}
