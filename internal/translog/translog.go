// Package translog はspec.md §6が定める、1行1イベントのトランザクションログを実装する.
// 行フォーマットはoriginal_source/log.cppのLogger各メソッドに1対1で対応する.
package translog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// ProxyWide はプロキシ全体のイベント(接続に紐付かない)に使うID.
const ProxyWide = -1

// Logger はmutexで保護された単一ファイルへの行単位書き込みを行う.
// original_source/log.cppのlog_mutex + ofstreamと同じ形: 起動時にtruncate、
// 1行ごとにflushする.
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

// Open はpathにあるログファイルをtruncateして開く.
func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("translog: failed to open %s: %w", path, err)
	}
	return &Logger{file: f}, nil
}

// Close はログファイルを閉じる.
func (l *Logger) Close() error {
	return l.file.Close()
}

func (l *Logger) writeLine(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.file, line)
}

// NewRequest は新規リクエスト受理を記録する:
// `<id>: "<request-line>" from <ip> @ <time>`
//
// original_source/proxy.cpp:304の呼び出しは(request_id, client_ip,
// request.requestHeader)の順でlog_new_requestを呼んでおり、シグネチャ
// log_new_request(request_id, request_line, ip_from)と引数順序が食い違う
// (spec.md §9 Open Question 3)。ここではシグネチャ、つまりspec.md §6に
// 明記された行フォーマット通りに実装する。
func (l *Logger) NewRequest(id int, requestLine, ip string) {
	l.writeLine(fmt.Sprintf("%d: %q from %s @ %s", id, requestLine, ip, now()))
}

// Requesting はオリジンへのリクエスト送信を記録する.
func (l *Logger) Requesting(id int, requestLine, host string) {
	l.writeLine(fmt.Sprintf("%d: Requesting %q from %s", id, requestLine, host))
}

// Received はオリジンからの応答受信を記録する.
func (l *Logger) Received(id int, statusLine, host string) {
	l.writeLine(fmt.Sprintf("%d: Received %q from %s", id, statusLine, host))
}

// NotInCache はキャッシュ未ヒットを記録する.
func (l *Logger) NotInCache(id int) {
	l.writeLine(fmt.Sprintf("%d: not in cache", id))
}

// Expired はキャッシュ済みだが期限切れだったことを記録する.
func (l *Logger) Expired(id int, expireHTTPDate string) {
	l.writeLine(fmt.Sprintf("%d: in cache, but expired at %s", id, expireHTTPDate))
}

// RequiresValidation は再検証が必要なキャッシュヒットを記録する.
func (l *Logger) RequiresValidation(id int) {
	l.writeLine(fmt.Sprintf("%d: in cache, requires validation", id))
}

// Valid は有効なキャッシュヒットを記録する.
func (l *Logger) Valid(id int) {
	l.writeLine(fmt.Sprintf("%d: in cache, valid", id))
}

// NotCacheable は応答を保存しなかった理由を記録する.
func (l *Logger) NotCacheable(id int, reason string) {
	l.writeLine(fmt.Sprintf("%d: not cacheable because %s", id, reason))
}

// WillExpire は保存した応答の有効期限を記録する.
func (l *Logger) WillExpire(id int, expireHTTPDate string) {
	l.writeLine(fmt.Sprintf("%d: cached, expires at %s", id, expireHTTPDate))
}

// CachedRequiresRevalidation は保存したが常に再検証が必要な応答を記録する.
func (l *Logger) CachedRequiresRevalidation(id int) {
	l.writeLine(fmt.Sprintf("%d: cached, but requires re-validation", id))
}

// Responding はクライアントへの応答送信を記録する.
func (l *Logger) Responding(id int, statusLine string) {
	l.writeLine(fmt.Sprintf("%d: Responding %q", id, statusLine))
}

// TunnelClosed はCONNECTトンネルの終了を記録する.
func (l *Logger) TunnelClosed(id int) {
	l.writeLine(fmt.Sprintf("%d: Tunnel closed", id))
}

// Error はエラーを記録する.
func (l *Logger) Error(id int, msg string) {
	l.writeLine(fmt.Sprintf("%d: ERROR %s", id, msg))
}

// Note は注記を記録する(検証の詳細、チャンク検出、LRU追い出しなど).
func (l *Logger) Note(id int, msg string) {
	l.writeLine(fmt.Sprintf("%d: NOTE %s", id, msg))
}

// now はoriginal_source/log.cpp:get_current_timeのasctime由来フォーマット
// ("Wed Mar 06 12:34:56 2024")をUTCで再現する.
func now() string {
	return time.Now().UTC().Format("Mon Jan 02 15:04:05 2006")
}
