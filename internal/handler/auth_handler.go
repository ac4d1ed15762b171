// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/taskdesk/internal/auth"
	"github.com/hitoshi/taskdesk/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600 // 10分

	// oauthFailureReason はOAuth失敗時にフロントエンドへ渡す理由。原因の詳細は渡さない。
	oauthFailureReason = "authentication_failed"

	forgotPasswordAck = "メールアドレスが登録されている場合、パスワード再設定用のリンクを送信しました。"
	resetPasswordDone = "パスワードを再設定しました。新しいパスワードでログインしてください。"
	logoutAck         = "ログアウトしました。"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, input auth.RegisterInput) (*auth.AuthResult, error)
	Login(ctx context.Context, email, password string) (*auth.AuthResult, error)
	CurrentUser(ctx context.Context, userID string) (*model.User, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
	OAuthEnabled() bool
	GetLoginURL(state string) (string, error)
	HandleOAuthCallback(ctx context.Context, code string) (*auth.AuthResult, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	FrontendURL  string // OAuth完了後のリダイレクト先
	CookieDomain string
	CookieSecure bool
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	config.FrontendURL = strings.TrimRight(config.FrontendURL, "/")
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// registerRequest はユーザー登録リクエストのボディ。
type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// forgotPasswordRequest はパスワードリセット申請のボディ。
type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// resetPasswordRequest はパスワード再設定のボディ。
type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// userResponse はユーザー情報のAPIレスポンス。パスワードハッシュやリセットトークンは含めない。
type userResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"displayName"`
	ProfilePicURL *string   `json:"profilePicUrl,omitempty"`
	HasPassword   bool      `json:"hasPassword"`
	GoogleLinked  bool      `json:"googleLinked"`
	CreatedAt     time.Time `json:"createdAt"`
}

// authResponse は認証成功時のレスポンス。
type authResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      userResponse `json:"user"`
}

// Register はローカル認証のユーザー登録を処理する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Register(r.Context(), auth.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAuthResponse(result))
}

// Login はメールアドレスとパスワードによるログインを処理する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthResponse(result))
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /auth/google
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		h.redirectOAuthFailure(w, r)
		return
	}

	loginURL, err := h.service.GetLoginURL(state)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, h.stateCookie(state, oauthStateMaxAge))
	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理する。
// 成功時はフロントエンドのコールバックページにURLフラグメントでトークンを渡す。
// 失敗時は理由によらず同じエラー状態のログインページへリダイレクトする。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// 1. stateの検証（CSRF対策）
	state := query.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch")
		h.redirectOAuthFailure(w, r)
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, h.stateCookie("", -1))

	// 2. プロバイダー側での拒否・認可コードの欠落
	if providerErr := query.Get("error"); providerErr != "" {
		slog.Warn("oauth provider returned error", slog.String("error", providerErr))
		h.redirectOAuthFailure(w, r)
		return
	}
	code := query.Get("code")
	if code == "" {
		slog.Warn("oauth callback without authorization code")
		h.redirectOAuthFailure(w, r)
		return
	}

	// 3. トークン交換・ユーザー解決・トークン発行
	result, err := h.service.HandleOAuthCallback(r.Context(), code)
	if err != nil {
		slog.Warn("oauth callback failed", slog.String("error", err.Error()))
		h.redirectOAuthFailure(w, r)
		return
	}

	// 4. フロントエンドにリダイレクト（フラグメントはサーバーログやRefererに残らない）
	fragment := url.Values{}
	fragment.Set("token", result.Token)
	fragment.Set("expiresAt", result.ExpiresAt.UTC().Format(time.RFC3339))
	http.Redirect(w, r, h.config.FrontendURL+"/auth/callback#"+fragment.Encode(), http.StatusTemporaryRedirect)
}

// ForgotPassword はパスワードリセットを申請する。
// ユーザーの存在有無によらず同一のレスポンスを返す。
// POST /auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: forgotPasswordAck})
}

// ResetPassword はリセットトークンを使ってパスワードを再設定する。
// POST /auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: resetPasswordDone})
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	user, err := h.service.CurrentUser(r.Context(), id.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// Logout はログアウトを受け付ける。
// トークンはサーバー側に保持しないため、クライアントが破棄することで無効化する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, messageResponse{Message: logoutAck})
}

func (h *AuthHandler) redirectOAuthFailure(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.config.FrontendURL+"/login?error="+oauthFailureReason, http.StatusTemporaryRedirect)
}

func (h *AuthHandler) stateCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     oauthStateCookie,
		Value:    value,
		Path:     "/auth/google",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// --- ヘルパー関数 ---

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		ProfilePicURL: u.ProfilePicURL,
		HasPassword:   u.HasPassword(),
		GoogleLinked:  u.GoogleID != nil,
		CreatedAt:     u.CreatedAt,
	}
}

func toAuthResponse(result *auth.AuthResult) authResponse {
	return authResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
		User:      toUserResponse(result.User),
	}
}

var _ AuthServiceInterface = (*auth.Service)(nil)
