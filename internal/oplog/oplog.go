// Package oplog はトランザクションログとは別系統の、プロキシ運用上の
// イベント(起動、終了、設定読み込み、致命的なリスナーエラー)を構造化ログ
// として記録する. always-cache-always-cache がzerologをどう使っているか
// に倣い, teacherの手組みJSON行フォーマッタ(interface/repository/logger)
// をzerologに置き換える.
package oplog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New はzerolog.Loggerを構築する. writerがnilならstdoutのコンソール出力.
func New(level zerolog.Level, writer io.Writer) zerolog.Logger {
	if writer == nil {
		writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// NewRotating はRotatingWriterをバックエンドに持つzerolog.Loggerを構築する.
func NewRotating(level zerolog.Level, directory, filename string, config *RotationConfig) (zerolog.Logger, *RotatingWriter, error) {
	w, err := NewRotatingWriter(directory, filename, config)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), w, nil
}
