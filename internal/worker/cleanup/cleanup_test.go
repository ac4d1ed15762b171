package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/taskdesk/internal/metrics"
)

type fakeResult struct {
	rowsAffected int64
	err          error
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, r.err }

// Executor インターフェースに対するモック実装
type mockExecutor struct {
	mu     sync.Mutex
	calls  int
	query  string
	args   []interface{}
	result sql.Result
	err    error
}

func (m *mockExecutor) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.query = query
	m.args = args
	return m.result, m.err
}

func (m *mockExecutor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type cleanedCounter struct {
	metrics.Nop
	mu    sync.Mutex
	total int64
}

func (c *cleanedCounter) RecordResetTokensCleaned(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total += n
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func findLogField(t *testing.T, buf *bytes.Buffer, key string) (interface{}, bool) {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if v, ok := entry[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func TestResetTokenCleanupJob_Run_ClearsBothColumnsInOneStatement(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 3}}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	job := NewResetTokenCleanupJob(mock, newTestLogger(&buf), nil)
	job.now = func() time.Time { return now }

	cleared, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if cleared != 3 {
		t.Errorf("cleared = %d, want 3", cleared)
	}
	if mock.callCount() != 1 {
		t.Fatalf("ExecContext の呼び出し回数 = %d, want 1", mock.callCount())
	}

	for _, want := range []string{"UPDATE users", "reset_token = NULL", "reset_token_expires_at = NULL", "reset_token_expires_at <= $1"} {
		if !strings.Contains(mock.query, want) {
			t.Errorf("クエリに %q が含まれていない: %s", want, mock.query)
		}
	}

	if len(mock.args) != 1 {
		t.Fatalf("引数の数 = %d, want 1", len(mock.args))
	}
	if got, ok := mock.args[0].(time.Time); !ok || !got.Equal(now) {
		t.Errorf("基準時刻 = %v, want %v", mock.args[0], now)
	}
}

func TestResetTokenCleanupJob_Run_RecordsMetricsAndLogs(t *testing.T) {
	var buf bytes.Buffer
	counter := &cleanedCounter{}
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 42}}

	job := NewResetTokenCleanupJob(mock, newTestLogger(&buf), counter)
	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if counter.total != 42 {
		t.Errorf("メトリクスのクリア件数 = %d, want 42", counter.total)
	}
	if v, ok := findLogField(t, &buf, "cleared_count"); !ok || v != float64(42) {
		t.Errorf("ログに cleared_count=42 が記録されていない。ログ出力: %s", buf.String())
	}
	if _, ok := findLogField(t, &buf, "duration_ms"); !ok {
		t.Errorf("ログに duration_ms が記録されていない。ログ出力: %s", buf.String())
	}
}

func TestResetTokenCleanupJob_Run_Idempotent_ZeroRows(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 0}}
	job := NewResetTokenCleanupJob(mock, newTestLogger(&buf), nil)

	for i := 0; i < 2; i++ {
		if _, err := job.Run(context.Background()); err != nil {
			t.Fatalf("%d回目の Run() がエラーを返した: %v", i+1, err)
		}
	}
	if v, ok := findLogField(t, &buf, "cleared_count"); !ok || v != float64(0) {
		t.Errorf("0件でもログに cleared_count=0 が記録されるべき。ログ出力: %s", buf.String())
	}
}

func TestResetTokenCleanupJob_Run_ReturnsErrorOnDBFailure(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{err: sql.ErrConnDone}
	job := NewResetTokenCleanupJob(mock, newTestLogger(&buf), nil)

	_, err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DBエラー時に Run() は nil でないエラーを返すべき")
	}
	if !strings.Contains(err.Error(), "sql: connection is already closed") {
		t.Errorf("エラーメッセージが期待と異なる: %v", err)
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("エラー時にERRORレベルのログが記録されていない。ログ出力: %s", buf.String())
	}
}

func TestResetTokenCleanupJob_Run_ReturnsErrorOnRowsAffectedFailure(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{err: sql.ErrTxDone}}
	job := NewResetTokenCleanupJob(mock, newTestLogger(&buf), nil)

	if _, err := job.Run(context.Background()); err == nil {
		t.Fatal("RowsAffected失敗時に Run() はエラーを返すべき")
	}
}

func TestResetTokenCleanupJob_Start_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 0}}
	job := NewResetTokenCleanupJob(mock, newTestLogger(&buf), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for mock.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if mock.callCount() != 1 {
		t.Fatalf("起動直後に1回実行されるべき: calls = %d", mock.callCount())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("キャンセル後に Start() が終了しなかった")
	}
}

func TestResetTokenCleanupJob_Start_RepeatsOnInterval(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{err: sql.ErrConnDone}
	job := NewResetTokenCleanupJob(mock, newTestLogger(&buf), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go job.Start(ctx, 10*time.Millisecond)

	// 失敗しても次の周期で再実行される
	deadline := time.Now().Add(2 * time.Second)
	for mock.callCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if mock.callCount() < 3 {
		t.Errorf("周期実行されていない: calls = %d", mock.callCount())
	}
}
