package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const defaultLogFile = "./remindd.log"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the active sinks. Loggers from Logger() follow Apply.
type Service struct {
	mu   sync.Mutex
	file *os.File

	active atomic.Pointer[zerolog.Logger]
}

// New builds a Service from cfg. A file sink that cannot be opened is
// reported on stderr and skipped.
func New(cfg Config) (*Service, Logger) {
	setupZerolog()
	s := &Service{}
	if err := s.Apply(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "logx: %v\n", err)
	}
	return s, s.Logger()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() *zerolog.Logger { return s.active.Load() }

// Apply swaps level and sinks. Console is used when no sink is enabled. On a
// file error the remaining sinks still take effect and the error is returned.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		writers []io.Writer
		fileErr error
		newFile *os.File
	)
	if cfg.Console {
		writers = append(writers, consoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		newFile, fileErr = openLogFile(cfg.File.Path)
		if newFile != nil {
			writers = append(writers, zerolog.SyncWriter(newFile))
		}
	}
	if len(writers) == 0 {
		writers = append(writers, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, LevelInfo)).
		With().Timestamp().Logger()
	s.active.Store(&zl)

	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = newFile
	return fileErr
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogFile
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("log dir for %q: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}
