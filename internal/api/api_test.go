package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apimw "github.com/btouchard/tasklist/internal/api/middleware"
	"github.com/btouchard/tasklist/internal/board"
	"github.com/btouchard/tasklist/internal/config"
	"github.com/btouchard/tasklist/internal/notify"
	"github.com/btouchard/tasklist/internal/store"
	"github.com/btouchard/tasklist/internal/task"
)

type testEnv struct {
	srv      *httptest.Server
	registry *notify.Registry
}

func newTestEnv(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg := notify.NewRegistry()
	disp := notify.NewDispatcher(reg)
	ctx, cancel := context.WithCancel(context.Background())
	go disp.Run(ctx)

	opts := Options{
		AllowedOrigins: []string{"http://localhost:3000"},
		Realtime: config.RealtimeConfig{
			WriteTimeout: 2 * time.Second,
			PingInterval: 30 * time.Second,
			PongTimeout:  60 * time.Second,
			ReadLimit:    4096,
		},
		Version: "test",
	}
	for _, m := range mutate {
		m(&opts)
	}

	b := board.New(task.NewService(st, 100, 1000), disp)
	ts := httptest.NewServer(NewServer(b, reg, opts).Router())
	t.Cleanup(func() {
		reg.Close()
		ts.Close()
		cancel()
		<-disp.Done()
	})

	return &testEnv{srv: ts, registry: reg}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (e *testEnv) createTask(t *testing.T, title string) task.Task {
	t.Helper()
	code, body := e.do(t, http.MethodPost, "/api/tasks",
		fmt.Sprintf(`{"title":%q,"description":"d","assignee":"bob"}`, title))
	require.Equal(t, http.StatusOK, code, string(body))

	var got task.Task
	require.NoError(t, sonic.ConfigStd.Unmarshal(body, &got))
	return got
}

// observe connects an observer and waits until it is registered.
func (e *testEnv) observe(t *testing.T) *websocket.Conn {
	t.Helper()
	before := e.registry.Len()

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = ws.Close() })

	require.Eventually(t, func() bool { return e.registry.Len() > before },
		2*time.Second, 5*time.Millisecond)
	return ws
}

type pushed struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func readPush(t *testing.T, ws *websocket.Conn) pushed {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	kind, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)

	var p pushed
	require.NoError(t, sonic.ConfigStd.Unmarshal(data, &p))
	return p
}

func decodeMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, sonic.ConfigStd.Unmarshal(body, &m))
	return m
}

func TestCreateTask_RespondsAndNotifies(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ws := env.observe(t)

	code, body := env.do(t, http.MethodPost, "/api/tasks", `{"title":"A","description":"d","assignee":"bob"}`)
	require.Equal(t, http.StatusOK, code)

	got := decodeMap(t, body)
	assert.Equal(t, float64(1), got["id"])
	assert.Equal(t, "To Do", got["status"])
	assert.NotEmpty(t, got["created_at"])
	assert.Nil(t, got["updated_at"])

	p := readPush(t, ws)
	assert.Equal(t, "task_created", p.Type)
	assert.Equal(t, float64(1), p.Data["id"])
	assert.Equal(t, "To Do", p.Data["status"])
	assert.Equal(t, "A", p.Data["title"])
	assert.Equal(t, got["created_at"], p.Data["created_at"])
}

func TestUpdateTask_RespondsAndNotifies(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	created := env.createTask(t, "A")
	ws := env.observe(t)

	code, body := env.do(t, http.MethodPatch, fmt.Sprintf("/api/tasks/%d", created.ID), `{"status":"Done"}`)
	require.Equal(t, http.StatusOK, code)
	got := decodeMap(t, body)
	assert.Equal(t, "Done", got["status"])
	assert.NotNil(t, got["updated_at"])

	p := readPush(t, ws)
	assert.Equal(t, "task_updated", p.Type)
	assert.Equal(t, "Done", p.Data["status"])
	assert.Equal(t, got["updated_at"], p.Data["updated_at"])
}

func TestUpdateTask_MissingSendsNoNotification(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ws := env.observe(t)

	code, body := env.do(t, http.MethodPatch, "/api/tasks/999", `{"status":"Done"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.JSONEq(t, `{"detail":"Task not found"}`, string(body))

	// The next push must belong to the next successful mutation.
	env.createTask(t, "after")
	p := readPush(t, ws)
	assert.Equal(t, "task_created", p.Type)
	assert.Equal(t, "after", p.Data["title"])
}

func TestDeleteTask_ThenGetIsNotFound(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	created := env.createTask(t, "A")
	ws := env.observe(t)

	code, body := env.do(t, http.MethodDelete, fmt.Sprintf("/api/tasks/%d", created.ID), "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"message":"Task deleted successfully"}`, string(body))

	code, _ = env.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/%d", created.ID), "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = env.do(t, http.MethodDelete, fmt.Sprintf("/api/tasks/%d", created.ID), "")
	assert.Equal(t, http.StatusNotFound, code)

	p := readPush(t, ws)
	assert.Equal(t, "task_deleted", p.Type)
	assert.Equal(t, map[string]any{"id": float64(created.ID)}, p.Data)

	env.createTask(t, "next")
	assert.Equal(t, "task_created", readPush(t, ws).Type, "deletion announced exactly once")
}

func TestMutations_ReachEveryObserverInCommitOrder(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	observers := []*websocket.Conn{env.observe(t), env.observe(t), env.observe(t)}

	const n = 10
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.createTask(t, fmt.Sprintf("t%d", i))
		}()
	}
	wg.Wait()

	for _, ws := range observers {
		for want := 1; want <= n; want++ {
			p := readPush(t, ws)
			assert.Equal(t, "task_created", p.Type)
			assert.Equal(t, float64(want), p.Data["id"])
		}
	}
}

func TestObserver_DisconnectedPeerIsPruned(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	stay := env.observe(t)
	leave := env.observe(t)
	require.Equal(t, 2, env.registry.Len())

	require.NoError(t, leave.Close())
	require.Eventually(t, func() bool { return env.registry.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	env.createTask(t, "A")
	assert.Equal(t, "task_created", readPush(t, stay).Type)
}

func TestObserver_InboundMessagesAreIgnored(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ws := env.observe(t)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("hello")))
	env.createTask(t, "A")

	assert.Equal(t, "task_created", readPush(t, ws).Type)
	assert.Equal(t, 1, env.registry.Len())
}

func TestObserver_RejectsForeignOrigin(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, env.registry.Len())
}

func TestObserver_AcceptsConfiguredOrigin(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://localhost:3000"}}
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	_ = ws.Close()
}

func TestCreateTask_RejectsInvalidInput(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ws := env.observe(t)

	tests := []struct {
		name   string
		body   string
		detail string
	}{
		{"empty title", `{"title":"  ","description":"d","assignee":"bob"}`, "title must not be empty"},
		{"missing assignee", `{"title":"A","description":"d"}`, "assignee must not be empty"},
		{"title too long", fmt.Sprintf(`{"title":%q,"description":"d","assignee":"bob"}`, strings.Repeat("x", 201)), "title must be at most 200 characters"},
		{"malformed json", `{"title":`, "body must be a valid JSON object"},
		{"wrong type", `{"title":5,"description":"d","assignee":"bob"}`, "body must be a valid JSON object"},
	}

	for _, tt := range tests {
		code, body := env.do(t, http.MethodPost, "/api/tasks", tt.body)
		assert.Equal(t, http.StatusUnprocessableEntity, code, tt.name)
		assert.JSONEq(t, fmt.Sprintf(`{"detail":%q}`, tt.detail), string(body), tt.name)
	}

	env.createTask(t, "valid")
	p := readPush(t, ws)
	assert.Equal(t, "valid", p.Data["title"], "rejected creates were never announced")
}

func TestCreateTask_RejectsOversizedBody(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	body := fmt.Sprintf(`{"title":"A","description":%q,"assignee":"bob"}`, strings.Repeat("x", maxBodyBytes))
	code, resp := env.do(t, http.MethodPost, "/api/tasks", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
	assert.JSONEq(t, `{"detail":"Request body too large"}`, string(resp))

	code, _ = env.do(t, http.MethodGet, "/api/tasks", "")
	require.Equal(t, http.StatusOK, code)
}

func TestCreateTask_EscapesMarkup(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	got := env.createTask(t, "  <b>bold</b> ")
	assert.Equal(t, "&lt;b&gt;bold&lt;/b&gt;", got.Title)
}

func TestUpdateTask_RejectsBadInput(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	created := env.createTask(t, "A")
	path := fmt.Sprintf("/api/tasks/%d", created.ID)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"unknown status", path, `{"status":"Blocked"}`},
		{"missing status", path, `{}`},
		{"empty body", path, ``},
		{"non-numeric id", "/api/tasks/abc", `{"status":"Done"}`},
	}
	for _, tt := range tests {
		code, _ := env.do(t, http.MethodPatch, tt.path, tt.body)
		assert.Equal(t, http.StatusUnprocessableEntity, code, tt.name)
	}
}

func TestUpdateTask_AcceptsStatusCodes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	created := env.createTask(t, "A")

	code, body := env.do(t, http.MethodPatch, fmt.Sprintf("/api/tasks/%d", created.ID), `{"status":"in_progress"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "In Progress", decodeMap(t, body)["status"])
}

func TestListTasks(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodGet, "/api/tasks", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "[]", strings.TrimSpace(string(body)), "empty list is an array, not null")

	alpha := env.createTask(t, "Alpha")
	env.createTask(t, "beta")
	env.createTask(t, "ALPHABET")
	code, _ = env.do(t, http.MethodPatch, fmt.Sprintf("/api/tasks/%d", alpha.ID), `{"status":"Done"}`)
	require.Equal(t, http.StatusOK, code)

	titles := func(path string) []string {
		code, body := env.do(t, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, code, path)
		var tasks []task.Task
		require.NoError(t, sonic.ConfigStd.Unmarshal(body, &tasks))
		out := make([]string, len(tasks))
		for i, tk := range tasks {
			out[i] = tk.Title
		}
		return out
	}

	assert.Equal(t, []string{"ALPHABET", "beta", "Alpha"}, titles("/api/tasks"))
	assert.Equal(t, []string{"ALPHABET", "beta", "Alpha"}, titles("/api/tasks/"), "trailing slash tolerated")
	assert.Equal(t, []string{"ALPHABET", "Alpha"}, titles("/api/tasks?search=alpha"))
	assert.Equal(t, []string{"Alpha"}, titles("/api/tasks?status=Done"))
	assert.Equal(t, []string{"ALPHABET", "beta"}, titles("/api/tasks?status=To%20Do"))
	assert.Equal(t, []string{"beta"}, titles("/api/tasks?skip=1&limit=1"))
	assert.Empty(t, titles("/api/tasks?skip=10"))
}

func TestListTasks_RejectsBadQuery(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	for _, q := range []string{"skip=-1", "skip=x", "limit=0", "limit=x", "status=Blocked"} {
		code, body := env.do(t, http.MethodGet, "/api/tasks?"+q, "")
		assert.Equal(t, http.StatusUnprocessableEntity, code, q)
		assert.Contains(t, string(body), `"detail"`, q)
	}
}

func TestGetTask(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	created := env.createTask(t, "A")

	code, body := env.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/%d", created.ID), "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "A", decodeMap(t, body)["title"])

	code, body = env.do(t, http.MethodGet, "/api/tasks/42", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.JSONEq(t, `{"detail":"Task not found"}`, string(body))
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.observe(t)

	code, body := env.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"message":"Shared Task List API is running"}`, string(body))

	code, body = env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"healthy","service":"shared-task-list-api","version":"test","observers":1}`, string(body))
}

func TestCORS_PreflightFromAllowedOrigin(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodOptions, env.srv.URL+"/api/tasks", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMutations_AreRateLimited(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(o *Options) {
		o.RateLimit = config.RateLimitConfig{RequestsPerMinute: 1, Burst: 2}
	})

	env.createTask(t, "one")
	env.createTask(t, "two")
	code, _ := env.do(t, http.MethodPost, "/api/tasks", `{"title":"x","description":"d","assignee":"bob"}`)
	assert.Equal(t, http.StatusTooManyRequests, code)

	code, _ = env.do(t, http.MethodGet, "/api/tasks", "")
	assert.Equal(t, http.StatusOK, code, "reads are not limited")
}

func TestMCPRoute_RequiresToken(t *testing.T) {
	t.Parallel()
	mcpStub := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("mcp"))
	})
	env := newTestEnv(t, func(o *Options) {
		o.MCPHandler = mcpStub
		o.MCPTokens = []config.APITokenEntry{{Name: "ci", TokenHash: apimw.HashToken("tok")}}
	})

	code, _ := env.do(t, http.MethodPost, "/mcp", "{}")
	assert.Equal(t, http.StatusUnauthorized, code)

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/mcp", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer tok")
	resp, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "mcp", string(body))
}
