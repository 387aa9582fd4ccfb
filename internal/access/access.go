// Package access はクライアントIP/宛先ホストに対するブロックリストを実装する.
// 元のC++実装にはアクセス制御が存在しないが、teacherのmain.goと
// interface/repository/access がまさにこの機能をAcceptorの手前に持っており、
// spec.mdのNon-goalsはこれを除外していないので、Acceptorの補助機能として
// そのまま引き継ぐ.
package access

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// BlockList はYAML設定ファイルの形.
type BlockList struct {
	BlockedIPs     []string `yaml:"blocked_ips"`
	BlockedDomains []string `yaml:"blocked_domains"`
}

// List はmutexで保護されたブロックリストで、バックグラウンドで設定ファイルの
// 変更を監視し、自動で再読込する.
type List struct {
	mu             sync.RWMutex
	configFile     string
	log            zerolog.Logger
	blockedIPs     map[string]bool
	blockedDomains map[string]bool
	stop           chan struct{}
}

// New はconfigFileからブロックリストを読み込み、監視を開始する.
func New(configFile string, log zerolog.Logger) (*List, error) {
	l := &List{
		configFile:     configFile,
		log:            log,
		blockedIPs:     make(map[string]bool),
		blockedDomains: make(map[string]bool),
		stop:           make(chan struct{}),
	}

	if err := l.reload(); err != nil {
		return nil, err
	}

	go l.watch()
	return l, nil
}

// IsBlocked はIPアドレスまたはホスト(ワイルドカードドメイン込み)が
// ブロックリストに一致するか確認する.
func (l *List) IsBlocked(clientIP, host string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.blockedIPs[clientIP] {
		return true
	}

	host = strings.ToLower(host)
	if l.blockedDomains[host] {
		return true
	}

	parts := strings.Split(host, ".")
	for i := 0; i < len(parts)-1; i++ {
		wildcard := "*." + strings.Join(parts[i+1:], ".")
		if l.blockedDomains[wildcard] {
			return true
		}
	}
	return false
}

// Reload は設定ファイルを強制的に再読み込みする.
func (l *List) Reload() error {
	return l.reload()
}

// Close は監視ゴルーチンを停止する.
func (l *List) Close() {
	close(l.stop)
}

func (l *List) reload() error {
	data, err := os.ReadFile(l.configFile)
	if err != nil {
		if os.IsNotExist(err) {
			data, err = l.writeDefault()
			if err != nil {
				return err
			}
		} else {
			return fmt.Errorf("access: failed to read %s: %w", l.configFile, err)
		}
	}

	var bl BlockList
	if err := yaml.Unmarshal(data, &bl); err != nil {
		return fmt.Errorf("access: failed to parse %s: %w", l.configFile, err)
	}

	ips := make(map[string]bool, len(bl.BlockedIPs))
	for _, ip := range bl.BlockedIPs {
		ips[strings.TrimSpace(ip)] = true
	}
	domains := make(map[string]bool, len(bl.BlockedDomains))
	for _, d := range bl.BlockedDomains {
		domains[strings.ToLower(strings.TrimSpace(d))] = true
	}

	l.mu.Lock()
	l.blockedIPs = ips
	l.blockedDomains = domains
	l.mu.Unlock()

	l.log.Info().Int("ips", len(ips)).Int("domains", len(domains)).Msg("blocklist loaded")
	return nil
}

func (l *List) writeDefault() ([]byte, error) {
	def := BlockList{BlockedIPs: []string{}, BlockedDomains: []string{}}
	data, err := yaml.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("access: failed to marshal default config: %w", err)
	}
	if err := os.WriteFile(l.configFile, data, 0644); err != nil {
		return nil, fmt.Errorf("access: failed to write default config: %w", err)
	}
	return data, nil
}

func (l *List) watch() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	var lastMod time.Time
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			stat, err := os.Stat(l.configFile)
			if err != nil {
				l.log.Warn().Err(err).Msg("failed to stat blocklist config")
				continue
			}
			if stat.ModTime().After(lastMod) {
				if err := l.reload(); err != nil {
					l.log.Warn().Err(err).Msg("failed to reload blocklist")
					continue
				}
				lastMod = stat.ModTime()
			}
		}
	}
}
