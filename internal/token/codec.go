// Package token はベアラートークンの発行と検証を提供する。
// トークンはHS256で署名したJWTで、サーバー側に状態を持たない。
// 失効は有効期限のみで行い、失効リストは持たない。
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/paygate/internal/config"
	"github.com/hitoshi/paygate/internal/model"
)

// DefaultTTL はトークンの既定の有効期間。
const DefaultTTL = 30 * time.Minute

// ErrEmptySubject はsubjectが空の場合のエラー。
var ErrEmptySubject = errors.New("subject is required")

var signingMethod = jwt.SigningMethodHS256

// registeredClaims はCredential.Claimsに含めない登録済みクレーム名。
var registeredClaims = map[string]struct{}{
	"sub": {}, "iat": {}, "exp": {}, "iss": {}, "nbf": {}, "aud": {}, "jti": {},
}

// Codec はトークンの発行と検証を行う。
type Codec struct {
	keys   config.SigningKeySource
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// Option はCodecの設定を変更する。
type Option func(*Codec)

// WithTTL は有効期間を指定する。
func WithTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithIssuer はissクレームに埋め込む発行者名を指定する。
// 指定した場合、Validateはissが一致しないトークンを拒否する。
func WithIssuer(issuer string) Option {
	return func(c *Codec) { c.issuer = issuer }
}

// WithClock は現在時刻の取得関数を差し替える。テストで使用する。
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec はCodecを生成する。
// 署名鍵はIssue/Validateの呼び出しごとにkeysから読み込む。
func NewCodec(keys config.SigningKeySource, opts ...Option) *Codec {
	c := &Codec{
		keys: keys,
		ttl:  DefaultTTL,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Issue はsubjectに対するトークンを発行する。
func (c *Codec) Issue(subject string) (string, error) {
	signed, _, err := c.IssueWithClaims(subject, nil)
	return signed, err
}

// IssueWithClaims は追加クレーム付きのトークンを発行し、対応するCredentialも返す。
// 登録済みクレーム名（sub, exp等）と衝突する追加クレームは無視する。
func (c *Codec) IssueWithClaims(subject string, claims map[string]any) (string, *model.Credential, error) {
	if subject == "" {
		return "", nil, ErrEmptySubject
	}

	key, err := c.keys.SigningKey()
	if err != nil {
		return "", nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	// expをiat+TTLと厳密に一致させるため秒単位に丸める
	issuedAt := c.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(c.ttl)

	mc := jwt.MapClaims{}
	extra := make(map[string]any, len(claims))
	for k, v := range claims {
		if _, reserved := registeredClaims[k]; reserved {
			continue
		}
		mc[k] = v
		extra[k] = v
	}
	mc["sub"] = subject
	mc["iat"] = jwt.NewNumericDate(issuedAt)
	mc["exp"] = jwt.NewNumericDate(expiresAt)
	if c.issuer != "" {
		mc["iss"] = c.issuer
	}

	signed, err := jwt.NewWithClaims(signingMethod, mc).SignedString(key)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, &model.Credential{
		Subject:   subject,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
		Claims:    extra,
	}, nil
}

// Validate はトークンを検証し、Credentialを返す。
//
// 検証順序:
//  1. 3セグメントに分割できない、署名セグメントをデコードできない → model.ErrTokenMalformed
//  2. header.payload に対する署名の再計算結果が一致しない → model.ErrTokenInvalidSignature
//  3. 宣言されたアルゴリズムがHS256以外 → model.ErrTokenInvalidSignature
//  4. now >= exp → model.ErrTokenExpired
//  5. sub/expが欠落している、issが発行者名と一致しない → model.ErrTokenMalformed
//
// 署名検証をペイロードのデコードより先に行うため、署名対象のどのバイトを改ざんしても
// ErrTokenInvalidSignatureになる。
func (c *Codec) Validate(tokenString string) (*model.Credential, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, fmt.Errorf("%w: token must have three segments", model.ErrTokenMalformed)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(c.issuer))
	}
	parser := jwt.NewParser(parserOpts...)

	sig, err := parser.DecodeSegment(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrTokenMalformed, err)
	}

	key, err := c.keys.SigningKey()
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	if err := signingMethod.Verify(parts[0]+"."+parts[1], sig, key); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrTokenInvalidSignature, err)
	}

	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}); err != nil {
		return nil, mapParseError(err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("%w: sub claim is missing", model.ErrTokenMalformed)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: exp claim is missing", model.ErrTokenMalformed)
	}

	cred := &model.Credential{
		Subject:   subject,
		ExpiresAt: exp.Time.UTC(),
		Claims:    make(map[string]any),
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		cred.IssuedAt = iat.Time.UTC()
	}
	for k, v := range claims {
		if _, reserved := registeredClaims[k]; !reserved {
			cred.Claims[k] = v
		}
	}

	return cred, nil
}

// mapParseError はjwtライブラリのエラーをドメインのトークンエラーに変換する。
func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", model.ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", model.ErrTokenInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %v", model.ErrTokenMalformed, err)
	}
}
