package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"ResearchChat/module/chat/message"
	chatmodel "ResearchChat/module/chat/model"
	chatservice "ResearchChat/module/chat/service"
	"ResearchChat/module/research/model"
	"ResearchChat/module/research/poller"
	rservice "ResearchChat/module/research/service"
	"ResearchChat/module/research/store"
	"ResearchChat/service/chat"
	"ResearchChat/tools/clock"
	"ResearchChat/tools/errs"
	sec "ResearchChat/tools/security"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ===== fakes =====

type stubVerifier map[string]sec.SessionClaims

func (v stubVerifier) VerifyToken(token string) (*sec.SessionClaims, error) {
	c, ok := v[token]
	if !ok {
		return nil, errs.ErrAuthFailed.WrapMsg("bad token")
	}
	return &c, nil
}

type stubLogout struct {
	mu    sync.Mutex
	calls []bool
}

func (s *stubLogout) Logout(_ string, skip bool) bool {
	s.mu.Lock()
	s.calls = append(s.calls, skip)
	s.mu.Unlock()
	return true
}

type fakeLLM struct {
	research bool
	scope    func(last string) bool // 按最后一条用户消息决定，优先于 research
	report   *model.Report
}

func (f *fakeLLM) DecideScope(_ context.Context, window []chatmodel.Turn) (bool, error) {
	if f.scope != nil && len(window) > 0 {
		return f.scope(window[len(window)-1].Content), nil
	}
	return f.research, nil
}

func (f *fakeLLM) Research(context.Context, string, []chatmodel.Turn) (*model.Report, error) {
	cp := *f.report
	cp.Citations = append([]model.Citation(nil), f.report.Citations...)
	return &cp, nil
}

type okChecker struct{}

func (okChecker) ValidateCitationURLs(_ context.Context, cs []model.Citation) []model.CitationCheck {
	out := make([]model.CitationCheck, 0, len(cs))
	for _, c := range cs {
		out = append(out, model.CitationCheck{CitationID: c.ID, URL: c.URL, IsValid: true, IsAccessible: true, HasContent: true})
	}
	return out
}

// ===== harness =====

type harness struct {
	clk      *clock.Fake
	cm       *chat.ConnManager
	disp     *chat.Dispatcher
	jobs     *store.JobStore
	pipeline *rservice.Pipeline
	logout   *stubLogout
}

func newHarness(t *testing.T, llm *fakeLLM) *harness {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	cm := chat.NewConnManager(chat.ManagerConf{Clock: clk})
	jobs := store.NewJobStore(store.Options{Clock: clk})
	history := message.NewMemoryHistory()
	pipe := rservice.NewPipeline(jobs, llm, history, okChecker{}, rservice.PipelineOptions{Workers: 1, QueueSize: 4})
	pipe.Start()
	t.Cleanup(pipe.Stop)

	orch := chatservice.NewOrchestrator(llm, history, pipe, clk)
	poll := poller.New(jobs, cm, poller.Options{Clock: clk})
	lo := &stubLogout{}

	disp := chat.NewDispatcher(cm)
	disp.Register(
		NewAuthHandler(stubVerifier{"tok-1": {UserID: "u1", SessionID: "s1"}}, cm),
		NewMessageHandler(orch, cm, poll, MessageOptions{
			MaxContentLength: 50,
			Run:              func(_ string, f func()) { f() },
		}),
		NewLogoutHandler(lo, cm),
		NewPingHandler(cm),
	)
	return &harness{clk: clk, cm: cm, disp: disp, jobs: jobs, pipeline: pipe, logout: lo}
}

func (h *harness) connect(id string) *chat.Client {
	c := chat.NewClient(id, nil, 64, nil, h.clk.Now())
	h.cm.Add(c)
	return c
}

func (h *harness) send(c *chat.Client, frame map[string]any) {
	b, _ := json.Marshal(frame)
	h.disp.Dispatch(context.Background(), c, b)
}

func frames(c *chat.Client) []map[string]any {
	var out []map[string]any
	for {
		select {
		case b := <-c.Send:
			var m map[string]any
			_ = json.Unmarshal(b, &m)
			out = append(out, m)
		default:
			return out
		}
	}
}

func types(fs []map[string]any) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		if t, ok := f["type"].(string); ok {
			out = append(out, t)
		} else {
			out = append(out, "error")
		}
	}
	return out
}

func sampleReport() *model.Report {
	return &model.Report{
		ExecutiveSummary: "PG&E residential bills averaged about $180 last year【3:0†source】.",
		KeyDevelopments: []model.KeyDevelopment{
			{Number: 1, Title: "Rate increase", Description: "Rates rose in January.", Citations: []int{1}},
		},
		Citations: []model.Citation{{ID: 1, Title: "CPUC", URL: "https://cpuc.example/rates", RelevanceScore: 9}},
	}
}

func (h *harness) authed(t *testing.T) *chat.Client {
	t.Helper()
	c := h.connect("c-1")
	h.send(c, map[string]any{"type": "auth", "token": "tok-1"})
	fs := frames(c)
	require.Equal(t, []string{"auth_success"}, types(fs))
	assert.Equal(t, "u1", fs[0]["user_id"])
	return c
}

// ===== tests =====

func TestUserMessage_ResearchFlow(t *testing.T) {
	h := newHarness(t, &fakeLLM{research: true, report: sampleReport()})
	c := h.authed(t)

	h.send(c, map[string]any{"type": "user_message", "content": "What is my PG&E monthly average?"})
	fs := frames(c)
	require.Equal(t, []string{"ai_typing", "bot_message"}, types(fs))
	assert.Equal(t, true, fs[1]["research_pending"])
	assert.Equal(t, chatservice.PlaceholderReply, fs[1]["content"])

	require.Equal(t, 1, h.jobs.Len())

	// 每次推进一个轮询周期，直到后台任务完成并被推送
	var pushed []map[string]any
	require.Eventually(t, func() bool {
		h.clk.Advance(2 * time.Second)
		pushed = append(pushed, frames(c)...)
		return len(pushed) >= 3
	}, 5*time.Second, 20*time.Millisecond)
	fs = pushed
	require.Equal(t, []string{"ai_typing", "bot_message", "research_update"}, types(fs))
	final := fs[1]
	assert.Equal(t, false, final["research_pending"])
	assert.Equal(t, true, final["success"])
	assert.InDelta(t, 0.9, final["confidence_score"], 1e-9)
	require.Len(t, final["citations"], 1)
	assert.Contains(t, final["content"], "[1]")
	assert.NotContains(t, final["content"], "【")
	assert.Equal(t, false, fs[2]["research_pending"])

	hist := c.History()
	require.Len(t, hist, 2)
	assert.Equal(t, final["content"], hist[1].Content)
}

func TestUserMessage_ResearchReplacesItsOwnTurn(t *testing.T) {
	h := newHarness(t, &fakeLLM{
		scope:  func(last string) bool { return strings.Contains(last, "PG&E") },
		report: sampleReport(),
	})
	c := h.authed(t)

	h.send(c, map[string]any{"type": "user_message", "content": "What is my PG&E monthly average?"})
	h.send(c, map[string]any{"type": "user_message", "content": "Write me a poem"})
	fs := frames(c)
	require.Equal(t, []string{"ai_typing", "bot_message", "ai_typing", "bot_message"}, types(fs))
	assert.Equal(t, chatservice.PlaceholderReply, fs[1]["content"])
	assert.Equal(t, chatservice.FallbackReply, fs[3]["content"])

	var pushed []map[string]any
	require.Eventually(t, func() bool {
		h.clk.Advance(2 * time.Second)
		pushed = append(pushed, frames(c)...)
		return len(pushed) >= 3
	}, 5*time.Second, 20*time.Millisecond)
	final := pushed[1]

	hist := c.History()
	require.Len(t, hist, 4)
	assert.Equal(t, "What is my PG&E monthly average?", hist[0].Content)
	assert.Equal(t, final["content"], hist[1].Content, "placeholder of the research turn is replaced")
	assert.Equal(t, "Write me a poem", hist[2].Content)
	assert.Equal(t, chatservice.FallbackReply, hist[3].Content, "later reply is untouched")
}

func TestUserMessage_OutOfScope(t *testing.T) {
	h := newHarness(t, &fakeLLM{research: false})
	c := h.authed(t)

	h.send(c, map[string]any{"type": "user_message", "content": "Tell me a joke about pirates"})
	fs := frames(c)
	require.Equal(t, []string{"ai_typing", "bot_message"}, types(fs))
	assert.Equal(t, chatservice.FallbackReply, fs[1]["content"])
	assert.Equal(t, float64(0), fs[1]["confidence_score"])
	assert.Equal(t, false, fs[1]["research_pending"])
	assert.Equal(t, 0, h.jobs.Len())
}

func TestDispatch_Rejections(t *testing.T) {
	h := newHarness(t, &fakeLLM{})
	c := h.connect("c-1")

	h.disp.Dispatch(context.Background(), c, []byte("{not json"))
	h.send(c, map[string]any{"type": "user_message", "content": "hi"})
	h.send(c, map[string]any{"type": "auth", "token": "forged"})
	fs := frames(c)
	require.Len(t, fs, 3)
	assert.Equal(t, "Invalid message format", fs[0]["error"])
	assert.Equal(t, "Authentication required", fs[1]["error"])
	assert.Equal(t, "Authentication failed", fs[2]["error"])
	assert.False(t, c.Authenticated())
	assert.True(t, c.IsOpen(), "validation failures keep the connection open")

	h.send(c, map[string]any{"type": "auth", "token": "tok-1"})
	frames(c)
	h.send(c, map[string]any{"type": "dance"})
	h.send(c, map[string]any{"type": "user_message", "content": "   "})
	h.send(c, map[string]any{"type": "user_message", "content": string(make([]byte, 51))})
	fs = frames(c)
	require.Len(t, fs, 3)
	assert.Equal(t, "Unknown message type: dance", fs[0]["error"])
	assert.Equal(t, "Message content is required", fs[1]["error"])
	assert.Equal(t, "Message content is too long", fs[2]["error"])
}

func TestPingAndLogout(t *testing.T) {
	h := newHarness(t, &fakeLLM{})
	c := h.authed(t)

	h.send(c, map[string]any{"type": "ping"})
	assert.Equal(t, []string{"pong"}, types(frames(c)))

	h.send(c, map[string]any{"type": "logout"})
	assert.Equal(t, []string{"logged_out"}, types(frames(c)))
	assert.Equal(t, []bool{true}, h.logout.calls)
	assert.False(t, c.Authenticated())

	h.clk.Advance(time.Second)
	assert.False(t, c.IsOpen())
	assert.Equal(t, 0, h.cm.ConnCount())
}
