package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrSigningKeyUnavailable は署名鍵が取得できない場合のエラー。
var ErrSigningKeyUnavailable = errors.New("signing key is not available")

// SigningKeySource はトークン署名鍵の供給元。
// 呼び出しのたびに最新の鍵を返すため、プロセスを再起動せずに鍵をローテーションできる。
type SigningKeySource interface {
	SigningKey() ([]byte, error)
}

// EnvSigningKey は環境変数から署名鍵を読み込む。
type EnvSigningKey struct {
	Name string
}

// SigningKey は環境変数の現在値を返す。
func (s EnvSigningKey) SigningKey() ([]byte, error) {
	v := os.Getenv(s.Name)
	if v == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrSigningKeyUnavailable, s.Name)
	}
	return []byte(v), nil
}

// FileSigningKey はファイルから署名鍵を読み込む。
// Kubernetes SecretのようにファイルがマウントされているケースでK8s側の更新をそのまま反映できる。
type FileSigningKey struct {
	Path string
}

// SigningKey はファイルの内容から前後の空白を除いた値を返す。
func (s FileSigningKey) SigningKey() ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningKeyUnavailable, err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrSigningKeyUnavailable, s.Path)
	}
	return []byte(key), nil
}

// StaticSigningKey は固定の署名鍵を返す。テストで使用する。
type StaticSigningKey []byte

// SigningKey は保持している鍵を返す。
func (s StaticSigningKey) SigningKey() ([]byte, error) {
	if len(s) == 0 {
		return nil, ErrSigningKeyUnavailable
	}
	return []byte(s), nil
}
