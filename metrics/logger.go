package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

type Logger interface {
	Log(info *MetricsInfo)
}

// ZerologLogger emits run records as structured log events.
type ZerologLogger struct {
	log *zerolog.Logger
}

func NewZerologLogger(log *zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{log: log}
}

func (l *ZerologLogger) Log(info *MetricsInfo) {
	ev := l.log.Info().
		Str("run_id", info.RunID).
		Str("raster", info.Input.RasterPath).
		Str("vector", info.Input.VectorPath).
		Dur("duration", info.ReqDuration)
	if info.Run != nil {
		ev = ev.Int("polygons", info.Run.Polygons).Int("pixel_rows", info.Run.PixelRows)
	}
	if len(info.Error) > 0 {
		ev = ev.Str("error", info.Error)
	}
	ev.Msg("run metrics")
}

const defaultMaxLogFileSize = 64 * 1024 * 1024
const defaultMaxLogFiles = 10
const logFileName = "runs.jsonl"

// FileLogger appends run records as JSON lines to LogDir/runs.jsonl and
// rotates the file once it grows past MaxLogFileSize, keeping at most
// MaxLogFiles rotated files.
type FileLogger struct {
	LogDir         string
	MaxLogFileSize int64
	MaxLogFiles    int
	log            *zerolog.Logger
	mu             sync.Mutex
}

func NewFileLogger(logDir string, maxLogFileSize int64, maxLogFiles int, log *zerolog.Logger) *FileLogger {
	if maxLogFileSize <= 0 {
		maxLogFileSize = defaultMaxLogFileSize
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &FileLogger{
		LogDir:         logDir,
		MaxLogFileSize: maxLogFileSize,
		MaxLogFiles:    maxLogFiles,
		log:            log,
	}
}

func (l *FileLogger) Log(info *MetricsInfo) {
	infoStr, err := info.ToJSON()
	if err != nil {
		l.log.Error().Err(err).Msg("FileLogger: encoding run metrics")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err = l.tryRotateLogFile(); err != nil {
		l.log.Warn().Err(err).Msg("FileLogger: log rotation")
	}

	f, err := os.OpenFile(l.path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.log.Error().Err(err).Msg("FileLogger: log open")
		return
	}
	defer f.Close()

	if _, err = f.WriteString(infoStr); err != nil {
		l.log.Error().Err(err).Msg("FileLogger: write")
	}
}

func (l *FileLogger) path() string {
	return filepath.Join(l.LogDir, logFileName)
}

func (l *FileLogger) rotatedPath(i int) string {
	return filepath.Join(l.LogDir, fmt.Sprintf("%s.%d", logFileName, i))
}

// tryRotateLogFile shifts runs.jsonl.N to runs.jsonl.N+1, dropping the
// oldest, and moves the current file to runs.jsonl.0.
func (l *FileLogger) tryRotateLogFile() error {
	info, err := os.Stat(l.path())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < l.MaxLogFileSize {
		return nil
	}

	oldest := l.rotatedPath(l.MaxLogFiles - 1)
	if _, err = os.Stat(oldest); err == nil {
		if err = os.Remove(oldest); err != nil {
			return err
		}
	}
	for i := l.MaxLogFiles - 2; i >= 0; i-- {
		src := l.rotatedPath(i)
		if _, err = os.Stat(src); err != nil {
			continue
		}
		if err = os.Rename(src, l.rotatedPath(i+1)); err != nil {
			return err
		}
	}
	if err = os.Rename(l.path(), l.rotatedPath(0)); err != nil {
		return err
	}

	l.log.Debug().Str("path", l.rotatedPath(0)).Msg("FileLogger: log file rotated")
	return nil
}
