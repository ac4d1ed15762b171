// Package token はJWTベアラートークンの発行と検証を提供する。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/taskdesk/internal/model"
)

// MinSecretLength は署名鍵に要求する最小バイト数（HS256の鍵長）。
const MinSecretLength = 32

const (
	defaultTTL    = 24 * time.Hour
	defaultIssuer = "taskdesk"
)

var (
	// ErrInvalidToken は署名不正・形式不正などで検証できないトークンを表す。
	ErrInvalidToken = errors.New("token: invalid token")
	// ErrTokenExpired は有効期限切れのトークンを表す。
	ErrTokenExpired = errors.New("token: token expired")
	// ErrSecretTooShort は署名鍵が短すぎる場合の起動時エラー。
	ErrSecretTooShort = errors.New("token: signing secret must be at least 32 bytes")
)

// Config はトークン発行者の設定。
type Config struct {
	Secret string
	TTL    time.Duration // 0の場合は24時間
	Issuer string        // 空の場合は"taskdesk"

	// Now はテスト用に差し替え可能な現在時刻関数。
	Now func() time.Time
}

// Claims はトークンに埋め込むクレーム。
// Emailは表示用の補助情報であり、認可判定には使わない。
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
	Email  string `json:"email,omitempty"`
}

// Token は発行済みトークンと有効期限。
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Issuer はHS256署名のベアラートークンを発行・検証する。
// 署名鍵はプロセス起動時に1回だけ設定される。
type Issuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewIssuer はIssuerを生成する。
// 署名鍵が未設定または短すぎる場合はエラーを返す（起動を中止すべき設定不備）。
func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Issuer{
		secret: []byte(cfg.Secret),
		ttl:    cfg.TTL,
		issuer: cfg.Issuer,
		now:    cfg.Now,
	}, nil
}

// Issue はユーザーIDとメールアドレスを埋め込んだトークンを発行する。
func (i *Issuer) Issue(user *model.User) (*Token, error) {
	if user == nil || user.ID == "" {
		return nil, fmt.Errorf("token: user ID is required")
	}

	now := i.now()
	expiresAt := now.Add(i.ttl)

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID: user.ID,
		Email:  user.Email,
	})

	signed, err := t.SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Token{Value: signed, ExpiresAt: expiresAt}, nil
}

// Parse はトークンの署名・有効期限・発行者を検証し、クレームを返す。
// 期限切れはErrTokenExpired、それ以外の検証失敗はErrInvalidTokenを返す。
func (i *Issuer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
