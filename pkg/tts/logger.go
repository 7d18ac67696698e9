package tts

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	logPath string
	mu      sync.RWMutex
)

// SetLogPath configures the path for the TTS log file. Empty disables it.
func SetLogPath(path string) {
	mu.Lock()
	defer mu.Unlock()
	logPath = path
}

// Log appends the synthesized text and outcome to the TTS log file so
// failed segments can be replayed by hand.
func Log(provider, text string, bytes int, err error) {
	mu.RLock()
	path := logPath
	mu.RUnlock()
	if path == "" {
		return
	}

	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	f, fileErr := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if fileErr != nil {
		return
	}
	defer f.Close()

	status := fmt.Sprintf("OK(%d bytes)", bytes)
	if err != nil {
		status = fmt.Sprintf("ERROR(%v)", err)
	}

	entry := fmt.Sprintf("[%s] [%s] %s\nTEXT:\n%s\n--------------------------------------------------\n",
		time.Now().Format("2006-01-02 15:04:05"), provider, status, text)

	_, _ = f.WriteString(entry)
}
