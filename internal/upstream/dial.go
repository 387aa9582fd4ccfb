// Package upstream はオリジンサーバーへの接続とバースト受信を提供する.
package upstream

import (
	"context"
	"fmt"
	"net"
	"time"
)

const (
	// DialTimeout はオリジンへのTCP接続確立に許容する時間.
	DialTimeout = 10 * time.Second
	// ReceiveTimeout はオリジンソケットに設定する受信タイムアウト.
	ReceiveTimeout = 10 * time.Second

	burstBufferSize = 65536
)

// Conn は一回分のリクエストのために開かれたオリジン接続を表す.
// original_source/proxy.cpp:connectServer の単発dial+timeoutをteacher の
// connection.Manager の形に合わせて再構成したもので、プールは行わない
// (spec.md は1リクエストにつき高々1回のオリジン配送を要求するため).
type Conn struct {
	net.Conn
	Host string
	Port string
}

// Dial はhost:portへTCP接続を確立し、受信タイムアウトを設定する.
// original_source同様、名前解決に複数アドレスが返る場合は順に試す
// (net.Dialer.DialContextが内部的にこれを行う).
func Dial(ctx context.Context, host, port string) (*Conn, error) {
	dialer := net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("upstream: failed to connect to %s:%s: %w", host, port, err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(ReceiveTimeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("upstream: failed to set read deadline: %w", err)
	}
	return &Conn{Conn: conn, Host: host, Port: port}, nil
}

// Receive はoriginal_source/proxy.cpp:receiveFromSocketに倣ったバースト読み.
func (c *Conn) Receive(timeout time.Duration) ([]byte, error) {
	return ReceiveBurst(c.Conn, timeout)
}

// ReceiveBurst はreceiveFromSocketと同じバースト読みを任意のnet.Connに対して
// 行う. original_source側はクライアント/サーバ両方のソケットに対して同じ
// receiveFromSocketを呼んでいるため、ここもConn型に縛らず公開関数にしている:
// timeoutいっぱいまで待ち、読めたら1バッファ分(64KiB)読み切るまで繰り返し、
// 読み取りがバッファ未満で終わるか、相手が閉じるか、タイムアウトしたら終了する.
// フレーム境界は関知しない — 呼び出し側(ハンドラの状態機械)の責務.
func ReceiveBurst(conn net.Conn, timeout time.Duration) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("upstream: failed to set read deadline: %w", err)
	}

	var received []byte
	buf := make([]byte, burstBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			received = append(received, buf[:n]...)
		}
		if err != nil {
			// タイムアウトまたはピアクローズ — これまでに読めた分を返す.
			break
		}
		if n < len(buf) {
			break
		}
	}
	return received, nil
}

// ReceiveChunk はトンネル/チャンク転送で使う、バッファ1回分の読み取り.
// 戻り値 n==0 は相手が閉じたかエラーを意味する.
func (c *Conn) ReceiveChunk() ([]byte, int, error) {
	buf := make([]byte, burstBufferSize)
	n, err := c.Read(buf)
	if n <= 0 {
		return nil, n, err
	}
	return buf[:n], n, nil
}

// ReceiveExactly reads until n bytes are accumulated, the peer closes, or
// timeout elapses, whichever comes first. It honors Content-Length
// precisely rather than relying on the burst heuristic, resolving
// spec.md §9 Open Question 4's own guidance ("a correct implementation
// should honor Content-Length exactly") for the one place the framing
// length is actually known ahead of time.
func (c *Conn) ReceiveExactly(n int, timeout time.Duration) ([]byte, error) {
	if err := c.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("upstream: failed to set read deadline: %w", err)
	}

	received := make([]byte, 0, n)
	buf := make([]byte, burstBufferSize)
	for len(received) < n {
		r, err := c.Read(buf)
		if r > 0 {
			received = append(received, buf[:r]...)
		}
		if err != nil {
			break
		}
	}
	return received, nil
}

// Send はリクエストバイト列をそのままオリジンへ書き込む.
func (c *Conn) Send(data []byte) error {
	_, err := c.Write(data)
	if err != nil {
		return fmt.Errorf("upstream: failed to send to %s:%s: %w", c.Host, c.Port, err)
	}
	return nil
}
