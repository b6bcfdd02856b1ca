// Package auditlog appends one line per outbound HTTP request to a log file
// shared across processes. Writers coordinate through an exclusive advisory
// file lock so that concurrent workers (including ones in other processes)
// never interleave partial lines.
package auditlog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/mediacrawl/webagent/pkg/utils"
)

const (
	// Relative to the configured data dir.
	logSubdir = "logs"
	logName   = "http_request.log"

	timestampLayout = "2006-01-02 15:04:05"

	// How long to wait between lock acquisition attempts. The lock is
	// non-blocking; contention is expected to clear within a write or two.
	lockRetryInterval = 100 * time.Millisecond
)

// Logger appends request lines to the shared audit log.
type Logger struct {
	path string
	log  *logrus.Entry
}

// New creates the log directory if needed and returns a Logger for
// <dataDir>/logs/http_request.log.
func New(dataDir string, log *logrus.Entry) (*Logger, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("%w: data_dir is not set", utils.ErrConfigValidation)
	}
	dir := filepath.Join(dataDir, logSubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", utils.ErrAuditLog, dir, err)
	}
	return &Logger{
		path: filepath.Join(dir, logName),
		log:  log,
	}, nil
}

// Path returns the audit log file path.
func (l *Logger) Path() string {
	return l.path
}

// Append writes "<timestamp> <url>\n" to the audit log under an exclusive
// lock. On contention it polls every 100ms until the lock is acquired, so
// lines are never dropped. After writing, the file is made world-writable so
// workers running under other process identities can keep appending.
func (l *Logger) Append(url string) error {
	// A fresh lock handle per call gives each caller its own file
	// description, which is what makes the lock exclude concurrent
	// goroutines as well as other processes.
	fileLock := flock.New(l.path)
	for {
		locked, err := fileLock.TryLock()
		if err != nil {
			return fmt.Errorf("%w: locking %s: %v", utils.ErrAuditLog, l.path, err)
		}
		if locked {
			break
		}
		l.log.Debugf("Waiting for HTTP request log lock on %s...", l.path)
		time.Sleep(lockRetryInterval)
	}
	defer fileLock.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", utils.ErrAuditLog, l.path, err)
	}

	line := fmt.Sprintf("%s %s\n", time.Now().Format(timestampLayout), url)
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("%w: writing to %s: %v", utils.ErrAuditLog, l.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %v", utils.ErrAuditLog, l.path, err)
	}

	// Other workers might run as different users, so relax permissions.
	if err := os.Chmod(l.path, 0o666); err != nil {
		return fmt.Errorf("%w: chmod %s: %v", utils.ErrAuditLog, l.path, err)
	}
	return nil
}
