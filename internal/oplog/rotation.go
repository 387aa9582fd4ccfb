package oplog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// RotationConfig はログローテーションの設定を表す.
type RotationConfig struct {
	MaxSize    int64         // バイト単位の最大サイズ
	MaxAge     time.Duration // ログファイルの最大保持期間
	MaxBackups int           // 保持する古いログファイルの最大数
}

// DefaultRotationConfig はデフォルトのログローテーション設定を返す.
func DefaultRotationConfig() *RotationConfig {
	return &RotationConfig{
		MaxSize:    100 * 1024 * 1024,  // 100MB
		MaxAge:     7 * 24 * time.Hour, // 7日
		MaxBackups: 5,
	}
}

// needsRotation はログローテーションが必要かどうかを判断.
func needsRotation(filePath string, maxSize int64) (bool, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Size() >= maxSize, nil
}

// rotateFile はログファイルをローテーション.
func rotateFile(basePath string) error {
	timestamp := time.Now().Format("20060102150405")
	rotatedPath := fmt.Sprintf("%s.%s", basePath, timestamp)
	return os.Rename(basePath, rotatedPath)
}

// cleanOldLogs は古いログファイルを削除.
func cleanOldLogs(directory string, config *RotationConfig) error {
	files, err := filepath.Glob(filepath.Join(directory, "*.log.*"))
	if err != nil {
		return err
	}

	type backup struct {
		path string
		mod  time.Time
	}
	var kept []backup

	now := time.Now()
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > config.MaxAge {
			os.Remove(f)
			continue
		}
		kept = append(kept, backup{path: f, mod: info.ModTime()})
	}

	if config.MaxBackups > 0 && len(kept) > config.MaxBackups {
		sort.Slice(kept, func(i, j int) bool { return kept[i].mod.After(kept[j].mod) })
		for _, b := range kept[config.MaxBackups:] {
			os.Remove(b.path)
		}
	}
	return nil
}

// RotatingWriter はサイズベースでローテーションするio.Writer実装.
// 元はteacherのinterface/repository/logger.Repositoryが自前のJSON行
// フォーマッタと一体で持っていたローテーション処理を、zerologの
// io.Writerとして使えるよう切り出したもの.
type RotatingWriter struct {
	mu       sync.Mutex
	file     *os.File
	dir      string
	filename string
	config   *RotationConfig
}

// NewRotatingWriter はdirectory/filenameにログファイルを開く.
func NewRotatingWriter(directory, filename string, config *RotationConfig) (*RotatingWriter, error) {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, err
	}
	if config == nil {
		config = DefaultRotationConfig()
	}

	path := filepath.Join(directory, filename)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	w := &RotatingWriter{file: file, dir: directory, filename: filename, config: config}
	go w.periodicCleanup()
	return w, nil
}

// Write はio.Writerを満たす. 書き込み前にサイズを確認しローテーションする.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if needs, err := needsRotation(w.file.Name(), w.config.MaxSize); err == nil && needs {
		if err := w.rotateLocked(); err != nil {
			fmt.Fprintf(os.Stderr, "oplog: rotation failed: %v\n", err)
		}
	}
	return w.file.Write(p)
}

func (w *RotatingWriter) rotateLocked() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	if err := rotateFile(filepath.Join(w.dir, w.filename)); err != nil {
		return err
	}
	file, err := os.OpenFile(filepath.Join(w.dir, w.filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	w.file = file
	return nil
}

func (w *RotatingWriter) periodicCleanup() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		cleanOldLogs(w.dir, w.config)
	}
}

// Close はファイルを閉じる.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
