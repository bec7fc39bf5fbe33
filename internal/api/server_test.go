package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewmate/internal/chat"
	"github.com/reviewmate/internal/conversation"
	"github.com/reviewmate/internal/prcontext"
	"github.com/reviewmate/internal/providers"
	"github.com/reviewmate/internal/relay"
)

const prURL = "https://github.com/acme/shop/pull/42"

// fakeHost serves one pull request, a diff and a few files.
type fakeHost struct {
	mu      sync.Mutex
	prCalls int
	files   map[string]string
	paths   []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		files: map[string]string{
			"src/invoice.ts": "import { Line } from './line'\n\nexport function computeTotal(lines: Line[]) {\n  return 0\n}\n",
		},
		paths: []string{"src/invoice.ts"},
	}
}

func (h *fakeHost) FetchPullRequest(ctx context.Context, ref providers.PRRef) (*providers.PullRequest, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prCalls++
	if ref.Key() != "acme/shop#42" {
		return nil, errors.New("GitHub GraphQL: pull request not found (check permissions or login)")
	}
	return &providers.PullRequest{
		URL: prURL, Title: "Add invoice totals", BaseRef: "main", HeadRef: "totals",
		HeadOID: "abc123", HeadRepository: "acme/shop", Files: []string{"src/invoice.ts"}, TotalFiles: 1,
	}, nil
}

func (h *fakeHost) FetchDiff(ctx context.Context, prBaseURL string) (string, bool, error) {
	return "diff --git a/src/invoice.ts b/src/invoice.ts\n@@ -1 +1 @@\n-a\n+b\n", false, nil
}

func (h *fakeHost) FetchRawFile(ctx context.Context, repo, rev, path string, maxChars int) (*providers.RawFile, error) {
	text, ok := h.files[path]
	if !ok {
		return nil, nil
	}
	return &providers.RawFile{Path: path, URL: h.RawURL(repo, rev, path), Text: text}, nil
}

func (h *fakeHost) SearchCode(ctx context.Context, repo string, terms []string) ([]providers.SearchHit, error) {
	return []providers.SearchHit{{Path: "src/invoice.ts", Term: terms[0]}}, nil
}

func (h *fakeHost) SearchPaths(ctx context.Context, repo, query string, first int) ([]string, error) {
	return h.paths, nil
}

func (h *fakeHost) BlobURL(repo, rev, path string) string {
	return "https://github.com/" + repo + "/blob/" + rev + "/" + path
}

func (h *fakeHost) RawURL(repo, rev, path string) string {
	return "https://github.com/" + repo + "/raw/" + rev + "/" + path
}

func (h *fakeHost) Name() string { return "fake" }

type fakeRenderer struct{}

func (fakeRenderer) Render(ctx context.Context, code string) (string, error) {
	if strings.Contains(code, "broken") {
		return "", errors.New("Parse error on line 1")
	}
	return "<svg>" + code + "</svg>", nil
}

type fixture struct {
	server *Server
	host   *fakeHost
	store  *conversation.MemoryStore
}

func newFixture(t *testing.T, settings relay.Settings) *fixture {
	t.Helper()
	host := newFakeHost()
	store := conversation.NewMemoryStore(0)
	cache, err := prcontext.NewRepoWideCache(8)
	require.NoError(t, err)
	s, err := NewServer(Options{
		Host:           host,
		Store:          store,
		Settings:       relay.StaticSettings(settings),
		Limits:         prcontext.DefaultLimits(),
		RepoWideCache:  cache,
		Renderer:       fakeRenderer{},
		AllowedOrigins: []string{"https://github.com"},
	})
	require.NoError(t, err)
	return &fixture{server: s, host: host, store: store}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServerRequiresCollaborators(t *testing.T) {
	_, err := NewServer(Options{Settings: relay.StaticSettings{}})
	assert.EqualError(t, err, "code host is required")
	_, err = NewServer(Options{Host: newFakeHost()})
	assert.EqualError(t, err, "model settings are required")
}

func TestHealth(t *testing.T) {
	f := newFixture(t, relay.Settings{})
	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestBuildContext(t *testing.T) {
	f := newFixture(t, relay.Settings{})
	body := fmt.Sprintf(`{"pageUrl":%q,"userText":"where is computeTotal used?","selection":"computeTotal(lines)","selectionPath":"src/invoice.ts","include":{"changedFiles":true}}`, prURL+"/files")

	rec := f.do(t, http.MethodPost, "/api/v1/context", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[contextResponse](t, rec)

	assert.Contains(t, resp.Prompt, "PR title: Add invoice totals")
	assert.Contains(t, resp.Prompt, "Selected file: src/invoice.ts")
	assert.Contains(t, resp.Prompt, "Changed file contents")
	assert.Contains(t, resp.Prompt, "Repository-wide context")
	assert.True(t, strings.HasSuffix(resp.Compact, "Question/request:\nwhere is computeTotal used?"))
	assert.Contains(t, resp.Terms, "computeTotal")
	assert.Equal(t, 1, resp.Status.Files)
	assert.Equal(t, 1, resp.Status.RawFiles)
	assert.NotEmpty(t, resp.Summary)

	rec = f.do(t, http.MethodPost, "/api/v1/context", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.host.prCalls)
}

func TestBuildContextValidation(t *testing.T) {
	f := newFixture(t, relay.Settings{})
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/v1/context", `{"userText":"hi"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/v1/context", `{not json`).Code)
}

func TestFindDefinition(t *testing.T) {
	f := newFixture(t, relay.Settings{})

	rec := f.do(t, http.MethodPost, "/api/v1/definition", fmt.Sprintf(`{"pageUrl":%q,"selection":"computeTotal(lines)"}`, prURL))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[definitionResponse](t, rec)
	assert.Equal(t, "computeTotal", resp.Identifier)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "https://github.com/acme/shop/blob/abc123/src/invoice.ts#L3", resp.Hits[0].BlobURL)
	assert.Contains(t, resp.Message, "Definition candidates for computeTotal (top 1)")

	rec = f.do(t, http.MethodPost, "/api/v1/definition", fmt.Sprintf(`{"pageUrl":%q,"identifier":"Missing","path":"src/invoice.ts"}`, prURL))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no_pattern_match", string(decode[definitionResponse](t, rec).Outcome))

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/v1/definition", `{"pageUrl":"https://github.com/acme/shop","identifier":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/v1/definition", fmt.Sprintf(`{"pageUrl":%q,"selection":"  ++ "}`, prURL)).Code)

	rec = f.do(t, http.MethodPost, "/api/v1/definition", `{"pageUrl":"https://github.com/acme/other/pull/1","identifier":"x"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConversations(t *testing.T) {
	f := newFixture(t, relay.Settings{})
	key := providers.ConversationKey(prURL + "/files")
	require.NoError(t, f.store.Append(context.Background(), key,
		conversation.Message{Role: conversation.RoleUser, Content: "GitHub PR URL: ...\nQuestion/request:\nwhy?", Display: "why?"},
		conversation.Message{Role: conversation.RoleAssistant, Content: "because"},
	))

	rec := f.do(t, http.MethodGet, "/api/v1/conversations?key="+key, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Key      string `json:"key"`
		Messages []struct {
			Role string `json:"role"`
			Text string `json:"text"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, key, got.Key)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "why?", got.Messages[0].Text)
	assert.Equal(t, "because", got.Messages[1].Text)

	// a live session is cleared too
	f.do(t, http.MethodPost, "/api/v1/context", fmt.Sprintf(`{"pageUrl":%q,"userText":"x"}`, prURL))
	rec = f.do(t, http.MethodDelete, "/api/v1/conversations?pageUrl="+prURL+"/files", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	msgs, err := f.store.Load(context.Background(), key)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	sess, ok := f.server.sessions.peek(key)
	require.True(t, ok)
	assert.Empty(t, sess.ctrl.Messages())

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/conversations", "").Code)
}

func TestSettingsTest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-override" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"bad key"}`))
			return
		}
		w.Write([]byte(`{"data":[{"id":"m1"}]}`))
	}))
	defer upstream.Close()

	f := newFixture(t, relay.Settings{APIKey: "sk-configured", BaseURL: upstream.URL})

	rec := f.do(t, http.MethodPost, "/api/v1/settings/test", `{"apiKey":"sk-override"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, relay.CheckResult{OK: true, Message: "models=1"}, decode[relay.CheckResult](t, rec))

	rec = f.do(t, http.MethodPost, "/api/v1/settings/test", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, relay.CheckResult{Error: `HTTP 401 Unauthorized: {"error":"bad key"}`}, decode[relay.CheckResult](t, rec))
}

func TestRenderDiagrams(t *testing.T) {
	f := newFixture(t, relay.Settings{})
	text := "Overview\n```mermaid\ngraph TD\n  A-->B\n```\n```mermaid\nbroken\n```"
	body, _ := json.Marshal(diagramRequest{Text: text})

	rec := f.do(t, http.MethodPost, "/api/v1/diagrams", string(body))
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[struct {
		Diagrams []renderedDiagram `json:"diagrams"`
	}](t, rec)
	assert.Equal(t, []renderedDiagram{
		{Code: "graph TD\n  A-->B", SVG: "<svg>graph TD\n  A-->B</svg>"},
		{Code: "broken", Error: "Parse error on line 1"},
	}, got.Diagrams)
}

func TestRelayWebsocket(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data: {\"type\":\"response.output_text.delta\",\"delta\":\"LGTM\"}\n\ndata: [DONE]\n\n"))
	}))
	defer upstream.Close()

	f := newFixture(t, relay.Settings{APIKey: "sk", BaseURL: upstream.URL})
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"https://github.com"}})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(relay.Inbound{Type: relay.TypeStream, RequestID: "q1", Messages: []relay.ChatMessage{{Role: "user", Content: "review"}}}))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var events []relay.Outbound
	for {
		var evt relay.Outbound
		require.NoError(t, conn.ReadJSON(&evt))
		events = append(events, evt)
		if evt.Terminal() {
			break
		}
	}
	assert.Equal(t, []relay.Outbound{relay.DeltaEvent("q1", "LGTM"), relay.DoneEvent("q1")}, events)
}

func dialRelay(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(f.server.Handler())
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"https://github.com"}})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntilTerminal(t *testing.T, conn *websocket.Conn) []relay.Outbound {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var events []relay.Outbound
	for {
		var evt relay.Outbound
		require.NoError(t, conn.ReadJSON(&evt))
		events = append(events, evt)
		if evt.Terminal() {
			return events
		}
	}
}

func TestChatTurnIsRecorded(t *testing.T) {
	var prompts []string
	var mu sync.Mutex
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input []relay.ChatMessage `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		for _, m := range body.Input {
			prompts = append(prompts, m.Content)
		}
		mu.Unlock()
		w.Write([]byte("data: {\"type\":\"response.output_text.delta\",\"delta\":\"Looks \"}\n\n" +
			"data: {\"type\":\"response.output_text.delta\",\"delta\":\"fine\"}\n\ndata: [DONE]\n\n"))
	}))
	defer upstream.Close()

	f := newFixture(t, relay.Settings{APIKey: "sk", BaseURL: upstream.URL})
	conn := dialRelay(t, f)

	frame := fmt.Sprintf(`{"type":"chat","requestId":"c1","chat":{"pageUrl":%q,"userText":"is computeTotal safe?"}}`, prURL)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	assert.Equal(t, []relay.Outbound{
		relay.DeltaEvent("c1", "Looks "),
		relay.DeltaEvent("c1", "fine"),
		relay.DoneEvent("c1"),
	}, readUntilTerminal(t, conn))

	mu.Lock()
	require.NotEmpty(t, prompts)
	assert.Contains(t, prompts[len(prompts)-1], "PR diff:")
	mu.Unlock()

	rec := f.do(t, http.MethodGet, "/api/v1/conversations?pageUrl="+prURL, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[struct {
		Messages []struct {
			Role string `json:"role"`
			Text string `json:"text"`
		} `json:"messages"`
	}](t, rec)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "is computeTotal safe?", got.Messages[0].Text)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	assert.Equal(t, "Looks fine", got.Messages[1].Text)
}

func TestChatTurnErrors(t *testing.T) {
	f := newFixture(t, relay.Settings{})
	conn := dialRelay(t, f)

	frame := fmt.Sprintf(`{"type":"chat","requestId":"c2","chat":{"pageUrl":%q,"userText":"why?"}}`, prURL)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	assert.Equal(t, []relay.Outbound{relay.ErrorEvent("c2", chat.MissingKeyHint)}, readUntilTerminal(t, conn))

	msgs, err := f.store.Load(context.Background(), providers.ConversationKey(prURL))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.MissingKeyHint, msgs[0].Content)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat","requestId":"c3","chat":{"userText":"why?"}}`)))
	assert.Equal(t, []relay.Outbound{relay.ErrorEvent("c3", "pageUrl is required")}, readUntilTerminal(t, conn))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat","requestId":"c4"}`)))
	assert.Equal(t, []relay.Outbound{relay.ErrorEvent("c4", "invalid chat request")}, readUntilTerminal(t, conn))
}

func TestChatTurnAbortKeepsPartialAnswer(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data: {\"type\":\"response.output_text.delta\",\"delta\":\"Half\"}\n\n"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	f := newFixture(t, relay.Settings{APIKey: "sk", BaseURL: upstream.URL})
	conn := dialRelay(t, f)

	frame := fmt.Sprintf(`{"type":"chat","requestId":"c5","chat":{"pageUrl":%q,"userText":"explain"}}`, prURL)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var evt relay.Outbound
	require.NoError(t, conn.ReadJSON(&evt))
	require.Equal(t, relay.DeltaEvent("c5", "Half"), evt)

	require.NoError(t, conn.WriteJSON(relay.Inbound{Type: relay.TypeAbort, RequestID: "c5"}))

	key := providers.ConversationKey(prURL)
	require.Eventually(t, func() bool {
		sess, ok := f.server.sessions.peek(key)
		if !ok {
			return false
		}
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.ctrl.Streaming() == nil
	}, 5*time.Second, 10*time.Millisecond)

	msgs, err := f.store.Load(context.Background(), key)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Half", msgs[1].Content)
}
