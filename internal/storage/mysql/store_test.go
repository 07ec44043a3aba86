package mysql

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	xerrors "AgentHive/internal/errors"
	"AgentHive/internal/llm"
	"AgentHive/internal/memory"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	store := newStoreWithDB(db, 100)
	store.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return store, mock
}

func TestStoreSaveMessage(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec(insertMessageSQL).
		WithArgs(sqlmock.AnyArg(), "asst_1", "USER", "asst_1", "thread_1", "", "msg_1", "hello", "user",
			nil, "[0.5,0.5]", int64(1700000000000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := &memory.MessageRecord{
		AssistantID: "asst_1",
		SenderID:    "USER",
		ReceiverID:  "asst_1",
		ThreadID:    "thread_1",
		MessageID:   "msg_1",
		Content:     "hello",
		Role:        llm.RoleUser,
		Embedding:   []float64{0.5, 0.5},
	}
	if err := store.SaveMessage(context.Background(), rec); err != nil {
		t.Fatalf("save message: %v", err)
	}
	if len(rec.ID) != 36 {
		t.Fatalf("expected uuid id, got %q", rec.ID)
	}
	if rec.CreatedAt.UnixMilli() != 1700000000000 {
		t.Fatalf("unexpected created_at %v", rec.CreatedAt)
	}
}

func TestStoreSaveToolExecutionFailure(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec(insertToolExecutionSQL).
		WithArgs(sqlmock.AnyArg(), "thread_1", "run_1", "", "get_balance", `{"address":"0xabc"}`, `"1 ETH"`,
			"success", nil, "[1,0]", sqlmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err := store.SaveToolExecution(context.Background(), &memory.ToolExecutionRecord{
		ThreadID:  "thread_1",
		RunID:     "run_1",
		ToolName:  "get_balance",
		InputArgs: map[string]any{"address": "0xabc"},
		Output:    "1 ETH",
		Status:    memory.StatusSuccess,
		Embedding: []float64{1, 0},
	})
	if !xerrors.HasCode(err, xerrors.CodeStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestStoreSimilarMessagesRanksWindow(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "assistant_id", "sender_id", "receiver_id", "thread_id", "run_id", "message_id", "content", "role", "tool_calls", "embedding", "created_at"}).
		AddRow("m3", "a", "USER", "a", "t", "", "x3", "orthogonal", "user", nil, "[0,1]", int64(3)).
		AddRow("m2", "a", "a", "USER", "t", "r", "x2", "close", "assistant", `[{"ID":"c1","Name":"get_balance","Arguments":"{}"}]`, "[1,0.1]", int64(2)).
		AddRow("m1", "a", "USER", "a", "t", "", "x1", "exact", "user", nil, "[1,0]", int64(1))
	mock.ExpectQuery(selectMessagesSQL).WithArgs(100).WillReturnRows(rows)

	got, err := store.SimilarMessages(context.Background(), []float64{1, 0}, 0.7, 5)
	if err != nil {
		t.Fatalf("similar messages: %v", err)
	}
	if len(got) != 2 || got[0].ID != "m1" || got[1].ID != "m2" {
		t.Fatalf("unexpected ranking: %+v", got)
	}
	if got[1].Role != llm.RoleAssistant || len(got[1].ToolCalls) != 1 || got[1].ToolCalls[0].Name != "get_balance" {
		t.Fatalf("columns not decoded: %+v", got[1])
	}
}

func TestStoreSimilarToolExecutions(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "thread_id", "run_id", "message_id", "tool_name", "input_args", "output", "status", "error_message", "embedding", "created_at"}).
		AddRow("e1", "t", "r", "", "get_balance", `{"token":"USDC"}`, `"10 USDC"`, "success", nil, "[1,0]", int64(1)).
		AddRow("e2", "t", "r", "", "create_agent", `{}`, `"Error: boom"`, "error", "boom", "[0.8,0.6]", int64(2))
	mock.ExpectQuery(selectToolExecutionsSQL).WithArgs(100).WillReturnRows(rows)

	got, err := store.SimilarToolExecutions(context.Background(), []float64{1, 0}, 0.9, 5)
	if err != nil {
		t.Fatalf("similar tool executions: %v", err)
	}
	if len(got) != 1 || got[0].ID != "e1" {
		t.Fatalf("threshold not applied: %+v", got)
	}
	if got[0].Output != "10 USDC" || got[0].InputArgs["token"] != "USDC" || got[0].Status != memory.StatusSuccess {
		t.Fatalf("columns not decoded: %+v", got[0])
	}
}

func TestApplyMigrationsSkipsApplied(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	source := fstest.MapFS{
		"0001_memory.sql": {Data: []byte("CREATE TABLE a (id INT);")},
		"0002_extra.sql":  {Data: []byte("-- add b\nCREATE TABLE b (id INT);\nCREATE INDEX idx_b ON b (id);")},
	}

	mock.ExpectExec(createMigrationsTableSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version FROM schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0001"))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE b (id INT)").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX idx_b ON b (id)").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`).
		WithArgs("0002", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := applyMigrations(context.Background(), store.db, source); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
}

func TestEmbeddedMigrationsParse(t *testing.T) {
	files, err := loadMigrationFiles(embeddedFS())
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) == 0 || files[0].version != "0001" {
		t.Fatalf("unexpected migrations: %+v", files)
	}
	joined := strings.Join(files[0].statements, "\n")
	if !strings.Contains(joined, "CREATE TABLE IF NOT EXISTS messages") || !strings.Contains(joined, "CREATE TABLE IF NOT EXISTS tool_executions") {
		t.Fatalf("schema missing tables: %s", joined)
	}
}

func TestNormalizeDSN(t *testing.T) {
	dsn, err := normalizeDSN("user:pass@tcp(127.0.0.1:3306)/hive")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !strings.Contains(dsn, "parseTime=true") || !strings.Contains(dsn, "charset=utf8mb4") {
		t.Fatalf("options not applied: %s", dsn)
	}
	if _, err := normalizeDSN("  "); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}
