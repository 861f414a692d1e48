// Package filelogger keeps a copy of the daemon's own log on the device, so that its diagnostics
// survive without journald.
package filelogger

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// The current file is <base>.log, a symlink to <base>_<time>.log. Once the current file reaches
// MaxFileSize a new timestamped file is started and the oldest ones beyond MaxFiles are removed.

const logFileNameFormat = "2006_01_02_15_04_05.000"
const logTimeStampFormat = "2006/01/02 15:04:05.000000"
const extension = "log"

type clock func() time.Time

// Config describes where and how much to log
type Config struct {
	Dir         string
	BaseName    string
	MaxFileSize int64
	// MaxFiles is the number of rotated files kept, zero keeps all of them
	MaxFiles int
}

// Hook is a logrus.Hook writing to rotated files
type Hook struct {
	mu          sync.Mutex
	config      Config
	formatter   logrus.Formatter
	currentFile *os.File
	currentSize int64
	now         clock
}

var _ logrus.Hook = (*Hook)(nil)

// NewHook opens the first log file
func NewHook(config Config) (*Hook, error) {
	return newHookWithClock(config, time.Now)
}

func newHookWithClock(config Config, now clock) (*Hook, error) {
	if config.BaseName == "" {
		config.BaseName = "devdiag"
	}
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "Cannot create log directory %s", config.Dir)
	}
	// time="2017/01/23 08:51:59.483839" level=info msg=testing
	hook := &Hook{
		config: config,
		formatter: &logrus.TextFormatter{
			DisableColors:   true,
			FullTimestamp:   true,
			TimestampFormat: logTimeStampFormat,
		},
		now: now,
	}
	if err := hook.rotate(); err != nil {
		return nil, err
	}
	return hook, nil
}

func (h *Hook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Timestamps have millisecond resolution, so a name collision just means waiting for the next one
func (h *Hook) openNewLogFile() (*os.File, error) {
	var logFilePath string
	for tries := 0; tries < 10; tries++ {
		filename := fmt.Sprintf("%s_%s.%s", h.config.BaseName, strings.Replace(h.now().Format(logFileNameFormat), ".", "_", -1), extension)
		logFilePath = filepath.Join(h.config.Dir, filename)

		f, err := os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND|os.O_EXCL, 0644)
		if err == nil {
			return f, nil
		} else if !os.IsExist(err) {
			return nil, err
		}
		time.Sleep(time.Millisecond)
	}
	return nil, errors.Errorf("Could not open a new log file, last tried %s", logFilePath)
}

// relink points <base>.log at the current file. Failing to do so is not fatal, the file itself
// is still written.
func (h *Hook) relink() error {
	linkPath := filepath.Join(h.config.Dir, h.config.BaseName+"."+extension)
	linkTmpPath := linkPath + ".tmp"
	if err := os.Remove(linkTmpPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Symlink(filepath.Base(h.currentFile.Name()), linkTmpPath); err != nil {
		return err
	}
	return os.Rename(linkTmpPath, linkPath)
}

func (h *Hook) rotate() error {
	if h.currentFile != nil {
		if err := h.currentFile.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Unable to close log file %s: %v\n", h.currentFile.Name(), err)
		}
		h.currentFile = nil
	}

	f, err := h.openNewLogFile()
	if err != nil {
		return err
	}
	h.currentFile = f
	h.currentSize = 0
	if err = h.relink(); err != nil {
		fmt.Fprintf(os.Stderr, "Could not link current log file: %v\n", err)
	}
	h.prune()
	return nil
}

// prune removes the oldest rotated files. The names sort chronologically.
func (h *Hook) prune() {
	if h.config.MaxFiles <= 0 {
		return
	}
	files, err := ioutil.ReadDir(h.config.Dir)
	if err != nil {
		return
	}
	prefix := h.config.BaseName + "_"
	var rotated []string
	for _, fi := range files {
		if fi.Mode().IsRegular() && strings.HasPrefix(fi.Name(), prefix) && strings.HasSuffix(fi.Name(), "."+extension) {
			rotated = append(rotated, fi.Name())
		}
	}
	sort.Strings(rotated)
	for len(rotated) > h.config.MaxFiles {
		_ = os.Remove(filepath.Join(h.config.Dir, rotated[0]))
		rotated = rotated[1:]
	}
}

func (h *Hook) Fire(entry *logrus.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.config.MaxFileSize > 0 && h.currentSize >= h.config.MaxFileSize {
		if err := h.rotate(); err != nil {
			return err
		}
	}

	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	writtenBytes, err := h.currentFile.Write(line)
	h.currentSize += int64(writtenBytes)
	return err
}

// Close closes the current file, the hook must not fire afterwards
func (h *Hook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.currentFile == nil {
		return nil
	}
	err := h.currentFile.Close()
	h.currentFile = nil
	return err
}
