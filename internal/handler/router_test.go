package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"regexp"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/taskdesk/internal/auth"
	"github.com/hitoshi/taskdesk/internal/metrics"
	"github.com/hitoshi/taskdesk/internal/middleware"
	"github.com/hitoshi/taskdesk/internal/password"
	"github.com/hitoshi/taskdesk/internal/repository/repotest"
	"github.com/hitoshi/taskdesk/internal/task"
	"github.com/hitoshi/taskdesk/internal/todo"
	"github.com/hitoshi/taskdesk/internal/token"
	"github.com/hitoshi/taskdesk/internal/user"
)

const testFrontendURL = "https://app.example.com"

var resetLinkPattern = regexp.MustCompile(`https://app\.example\.com/reset-password\?token=([0-9a-f]+)`)

// inboxMailer は送信されたメール本文を保持するテスト用Mailer。
type inboxMailer struct {
	mu     sync.Mutex
	bodies []string
}

func (m *inboxMailer) Send(_ context.Context, _, _, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bodies = append(m.bodies, body)
	return nil
}

func (m *inboxMailer) lastResetToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.bodies) == 0 {
		t.Fatal("no mail sent")
	}
	match := resetLinkPattern.FindStringSubmatch(m.bodies[len(m.bodies)-1])
	if match == nil {
		t.Fatalf("reset link not found in mail: %q", m.bodies[len(m.bodies)-1])
	}
	return match[1]
}

type stubHealthChecker struct {
	err error
}

func (s stubHealthChecker) PingContext(context.Context) error { return s.err }

// testServer は実際のサービス群をインメモリリポジトリ上で組み立てたテストサーバー。
type testServer struct {
	t      *testing.T
	srv    *httptest.Server
	mailer *inboxMailer
	auth   *auth.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	router, mailer, authService := newTestRouter(t, middleware.NewRateLimiterConfig(600, 100), nil)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv, mailer: mailer, auth: authService}
}

// newTestRouter は実際のサービス群をインメモリリポジトリ上で組み立てたルーターを返す。
func newTestRouter(t *testing.T, rlConfig middleware.RateLimiterConfig, trusted []netip.Prefix) (http.Handler, *inboxMailer, *auth.Service) {
	t.Helper()

	store := repotest.NewStore()
	issuer, err := token.NewIssuer(token.Config{Secret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	mailer := &inboxMailer{}

	authService := auth.NewService(
		store.Users(),
		password.NewBcryptHasher(bcrypt.MinCost),
		issuer,
		nil,
		mailer,
		metrics.Nop{},
		auth.ServiceConfig{FrontendURL: testFrontendURL},
	)
	t.Cleanup(authService.Wait)

	rl := middleware.NewRateLimiter(rlConfig)
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		TokenVerifier:     issuer,
		UserFinder:        store.Users(),
		CORSAllowedOrigin: testFrontendURL,
		RateLimiter:       rl,
		Logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		HealthChecker:     stubHealthChecker{},
		TrustedProxies:    trusted,
		AuthService:       authService,
		AuthConfig:        AuthHandlerConfig{FrontendURL: testFrontendURL},
		TaskService:       task.NewService(store.Tasks()),
		TodoService:       todo.NewService(store.Todos()),
		UserService:       user.NewService(store.Users()),
	})
	return router, mailer, authService
}

// do はリクエストを送信し、ステータスコードとデコード済みボディを返す。
func (s *testServer) do(method, path, bearer string, body any, out any) int {
	s.t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	if err != nil {
		s.t.Fatalf("NewRequest: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		s.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			s.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (s *testServer) register(email, pw, name string) authResponse {
	s.t.Helper()
	var res authResponse
	status := s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"email": email, "password": pw, "displayName": name,
	}, &res)
	if status != http.StatusCreated {
		s.t.Fatalf("register %s: status = %d", email, status)
	}
	return res
}

func TestRouter_EndToEnd(t *testing.T) {
	s := newTestServer(t)

	// 1. 登録とログイン
	alice := s.register("alice@example.com", "correct-horse-1", "Alice")
	if alice.Token == "" || alice.User.Email != "alice@example.com" || !alice.User.HasPassword {
		t.Fatalf("unexpected register response: %+v", alice)
	}

	var login authResponse
	if status := s.do(http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "correct-horse-1",
	}, &login); status != http.StatusOK {
		t.Fatalf("login: status = %d", status)
	}
	if login.User.ID != alice.User.ID {
		t.Errorf("login user = %q, want %q", login.User.ID, alice.User.ID)
	}

	if status := s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"email": "alice@example.com", "password": "another-pass-1", "displayName": "Alice2",
	}, nil); status != http.StatusConflict {
		t.Errorf("duplicate register: status = %d, want %d", status, http.StatusConflict)
	}

	// 2. 現在のユーザー
	var me userResponse
	if status := s.do(http.MethodGet, "/auth/me", login.Token, nil, &me); status != http.StatusOK {
		t.Fatalf("me: status = %d", status)
	}
	if me.Email != "alice@example.com" || me.DisplayName != "Alice" {
		t.Errorf("me = %+v", me)
	}
	if status := s.do(http.MethodGet, "/auth/me", "", nil, nil); status != http.StatusUnauthorized {
		t.Errorf("me without token: status = %d, want %d", status, http.StatusUnauthorized)
	}

	// 3. タスクとTodo
	var created taskResponse
	if status := s.do(http.MethodPost, "/api/tasks", login.Token, map[string]string{
		"title": "確定申告", "priority": "high", "dueDate": "2026-03-15",
	}, &created); status != http.StatusCreated {
		t.Fatalf("create task: status = %d", status)
	}
	if created.Status != "pending" || created.Priority == nil || *created.Priority != "high" {
		t.Errorf("created = %+v", created)
	}

	var toggled taskResponse
	if status := s.do(http.MethodPatch, "/api/tasks/"+created.ID+"/toggle", login.Token, nil, &toggled); status != http.StatusOK {
		t.Fatalf("toggle task: status = %d", status)
	}
	if toggled.Status != "in-progress" {
		t.Errorf("toggled status = %q, want in-progress", toggled.Status)
	}

	var todoCreated, todoToggled todoResponse
	if status := s.do(http.MethodPost, "/api/todos", login.Token, map[string]string{"title": "牛乳を買う"}, &todoCreated); status != http.StatusCreated {
		t.Fatalf("create todo: status = %d", status)
	}
	if status := s.do(http.MethodPatch, "/api/todos/"+todoCreated.ID+"/toggle", login.Token, nil, &todoToggled); status != http.StatusOK {
		t.Fatalf("toggle todo: status = %d", status)
	}
	if todoToggled.Status != "COMPLETED" {
		t.Errorf("todo status = %q, want COMPLETED", todoToggled.Status)
	}

	// 4. 他ユーザーのリソースは存在しないものとして扱う
	bob := s.register("bob@example.com", "bobs-password-1", "Bob")
	if status := s.do(http.MethodGet, "/api/tasks/"+created.ID, bob.Token, nil, nil); status != http.StatusNotFound {
		t.Errorf("bob get alice task: status = %d, want %d", status, http.StatusNotFound)
	}
	var bobTasks []taskResponse
	if status := s.do(http.MethodGet, "/api/tasks", bob.Token, nil, &bobTasks); status != http.StatusOK || len(bobTasks) != 0 {
		t.Errorf("bob tasks: status = %d, len = %d", status, len(bobTasks))
	}

	// 5. パスワードリセット
	if status := s.do(http.MethodPost, "/auth/forgot-password", "", map[string]string{"email": "alice@example.com"}, nil); status != http.StatusOK {
		t.Fatalf("forgot: status = %d", status)
	}
	s.auth.Wait()
	resetToken := s.mailer.lastResetToken(t)

	if status := s.do(http.MethodPost, "/auth/reset-password", "", map[string]string{
		"token": resetToken, "newPassword": "brand-new-pass-2",
	}, nil); status != http.StatusOK {
		t.Fatalf("reset: status = %d", status)
	}
	if status := s.do(http.MethodPost, "/auth/reset-password", "", map[string]string{
		"token": resetToken, "newPassword": "yet-another-pass-3",
	}, nil); status != http.StatusBadRequest {
		t.Errorf("reused reset token: status = %d, want %d", status, http.StatusBadRequest)
	}
	if status := s.do(http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "correct-horse-1",
	}, nil); status != http.StatusUnauthorized {
		t.Errorf("login with old password: status = %d, want %d", status, http.StatusUnauthorized)
	}
	var relogin authResponse
	if status := s.do(http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "brand-new-pass-2",
	}, &relogin); status != http.StatusOK {
		t.Fatalf("login with new password: status = %d", status)
	}

	// 6. 退会後は発行済みトークンも無効
	if status := s.do(http.MethodDelete, "/api/users/me", relogin.Token, nil, nil); status != http.StatusNoContent {
		t.Fatalf("withdraw: status = %d", status)
	}
	if status := s.do(http.MethodGet, "/auth/me", relogin.Token, nil, nil); status != http.StatusUnauthorized {
		t.Errorf("me after withdraw: status = %d, want %d", status, http.StatusUnauthorized)
	}
	if status := s.do(http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "brand-new-pass-2",
	}, nil); status != http.StatusUnauthorized {
		t.Errorf("login after withdraw: status = %d, want %d", status, http.StatusUnauthorized)
	}
}

func TestRouter_OperationalEndpoints(t *testing.T) {
	s := newTestServer(t)

	var health healthResponse
	if status := s.do(http.MethodGet, "/health", "", nil, &health); status != http.StatusOK {
		t.Fatalf("health: status = %d", status)
	}
	if health.Status != "ok" {
		t.Errorf("health = %+v", health)
	}

	var notFound messageResponse
	if status := s.do(http.MethodGet, "/no-such-route", "", nil, &notFound); status != http.StatusNotFound {
		t.Errorf("unknown route: status = %d, want %d", status, http.StatusNotFound)
	}

	// OAuth未設定の場合はGoogleログインのルートを公開しない
	if status := s.do(http.MethodGet, "/auth/google", "", nil, nil); status != http.StatusNotFound {
		t.Errorf("google login without oauth: status = %d, want %d", status, http.StatusNotFound)
	}

	// ログアウトは認証不要で受け付ける
	if status := s.do(http.MethodPost, "/auth/logout", "", nil, nil); status != http.StatusOK {
		t.Errorf("logout: status = %d, want %d", status, http.StatusOK)
	}
}

func TestHealthHandler_DatabaseDown(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthHandler(stubHealthChecker{err: errors.New("connection refused")})(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	var body healthResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Database != "down" {
		t.Errorf("database = %q, want down", body.Database)
	}
}

// loginAttempts は同一の接続元からログインを繰り返し、429となった回数を返す。
// spoofが指定された場合は試行ごとに異なるX-Real-IPを付与する。
func loginAttempts(t *testing.T, router http.Handler, remoteAddr string, n int, spoof bool) int {
	t.Helper()
	limited := 0
	for i := 0; i < n; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login",
			strings.NewReader(`{"email":"alice@example.com","password":"wrong-pass"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = remoteAddr
		if spoof {
			req.Header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i+1))
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	return limited
}

func TestRouter_AuthRateLimitIgnoresForwardedHeadersFromUntrustedPeer(t *testing.T) {
	router, _, _ := newTestRouter(t, middleware.NewRateLimiterConfig(600, 3), nil)

	if got := loginAttempts(t, router, "203.0.113.7:4000", 10, true); got != 7 {
		t.Errorf("rate limited = %d, want 7 (spoofed headers must not reset the bucket)", got)
	}
}

func TestRouter_AuthRateLimitUsesClientIPBehindTrustedProxy(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	router, _, _ := newTestRouter(t, middleware.NewRateLimiterConfig(600, 3), trusted)

	// 信頼済みプロキシ経由ではクライアントごとに別のバケットとなる
	if got := loginAttempts(t, router, "10.0.0.5:4000", 10, true); got != 0 {
		t.Errorf("rate limited = %d, want 0 for distinct clients behind proxy", got)
	}
	// 信頼済みでない接続元は自身のアドレスで制限される
	if got := loginAttempts(t, router, "203.0.113.8:4000", 5, true); got != 2 {
		t.Errorf("rate limited = %d, want 2 for untrusted peer", got)
	}
}
