package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ResearchChat/module/chat/message"
	chatmodel "ResearchChat/module/chat/model"
	"ResearchChat/module/research/model"
	"ResearchChat/module/research/store"
	"ResearchChat/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResearcher struct {
	report *model.Report
	err    error
	panics bool
	block  chan struct{}

	mu      sync.Mutex
	prompts []string
	windows [][]chatmodel.Turn
}

func (f *fakeResearcher) Research(_ context.Context, prompt string, window []chatmodel.Turn) (*model.Report, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.windows = append(f.windows, window)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if f.panics {
		panic("provider exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.report == nil {
		return nil, nil
	}
	cp := *f.report
	cp.KeyDevelopments = append([]model.KeyDevelopment(nil), f.report.KeyDevelopments...)
	cp.Citations = append([]model.Citation(nil), f.report.Citations...)
	return &cp, nil
}

// fakeChecker marks citations usable by id.
type fakeChecker struct {
	good map[int]bool

	mu  sync.Mutex
	got []model.Citation
}

func (f *fakeChecker) ValidateCitationURLs(_ context.Context, cs []model.Citation) []model.CitationCheck {
	f.mu.Lock()
	f.got = append(f.got, cs...)
	f.mu.Unlock()
	out := make([]model.CitationCheck, len(cs))
	for i, c := range cs {
		ok := f.good[c.ID]
		out[i] = model.CitationCheck{CitationID: c.ID, URL: c.URL, IsValid: true, IsAccessible: ok, HasContent: ok}
		if !ok {
			out[i].Error = "unreachable"
		}
	}
	return out
}

type fakePublisher struct {
	mu   sync.Mutex
	ids  []string
	done chan struct{}
}

func (f *fakePublisher) PublishOnce(_ context.Context, biz string, _ []byte, _ map[string]string, msgID string) error {
	f.mu.Lock()
	f.ids = append(f.ids, biz+"/"+msgID)
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func sampleReport() *model.Report {
	return &model.Report{
		ExecutiveSummary: "Average bill is $120【3:0†source】.",
		KeyDevelopments: []model.KeyDevelopment{
			{Number: 1, Title: "Rate change", Description: "Rates rose【3:1†source】.", Citations: []int{1, 2}},
		},
		Citations: []model.Citation{
			{ID: 1, Title: "PUC filing", URL: "https://puc.example/a", RelevanceScore: 9},
			{ID: 2, Title: "Blog", URL: "https://blog.example/b", RelevanceScore: 3},
		},
	}
}

func window() []chatmodel.Turn {
	return []chatmodel.Turn{
		{Role: chatmodel.RoleUser, Content: "hi"},
		{Role: chatmodel.RoleAssistant, Content: "hello"},
		{Role: chatmodel.RoleUser, Content: "a"},
		{Role: chatmodel.RoleAssistant, Content: "b"},
		{Role: chatmodel.RoleUser, Content: "c"},
		{Role: chatmodel.RoleAssistant, Content: "d"},
		{Role: chatmodel.RoleUser, Content: "What is my PG&E monthly average?"},
	}
}

func newPipeline(r *fakeResearcher, c *fakeChecker) (*Pipeline, *store.JobStore, *message.MemoryHistory) {
	jobs := store.NewJobStore(store.Options{})
	hist := message.NewMemoryHistory()
	p := NewPipeline(jobs, r, hist, c, PipelineOptions{LocationHint: "San Francisco, CA"})
	return p, jobs, hist
}

func TestPipeline_Completes(t *testing.T) {
	r := &fakeResearcher{report: sampleReport()}
	c := &fakeChecker{good: map[int]bool{1: true}}
	p, jobs, hist := newPipeline(r, c)
	pub := &fakePublisher{done: make(chan struct{}, 1)}
	p.SetEvents(pub)

	_, err := jobs.Create("t1", "u1")
	require.NoError(t, err)
	p.Run(context.Background(), Request{TurnID: "t1", UserID: "u1", SessionID: "s1", Window: window()})

	j, ok := jobs.Get("t1")
	require.True(t, ok)
	require.Equal(t, model.StatusCompleted, j.Status)
	assert.Equal(t, "Average bill is $120[1].", j.ExecutiveSummary)
	assert.Equal(t, "Rates rose[2].", j.KeyDevelopments[0].Description)

	require.Len(t, j.Citations, 2)
	assert.Equal(t, "https://puc.example/a", j.Citations[0].URL)
	assert.Empty(t, j.Citations[1].URL)
	assert.True(t, j.Citations[1].Unverified)
	assert.Len(t, j.CitationValidation, 2)
	assert.Contains(t, j.FinalText, "1. Rate change")
	assert.NotEmpty(t, j.ResultMessageID)

	// 窗口只取最近 5 条，并带上位置提示
	require.Len(t, r.windows, 1)
	assert.Len(t, r.windows[0], 5)
	assert.Contains(t, r.prompts[0], "What is my PG&E monthly average?")
	assert.Contains(t, r.prompts[0], "San Francisco, CA")

	msgs, _ := hist.ListByConversation(context.Background(), "conv:u1", 10)
	require.Len(t, msgs, 1)
	assert.Equal(t, j.FinalText, msgs[0].Content)
	assert.Equal(t, j.ResultMessageID, msgs[0].MessageID)

	select {
	case <-pub.done:
	case <-time.After(time.Second):
		t.Fatal("event not published")
	}
	assert.Equal(t, []string{"research/t1:completed"}, pub.ids)
}

func TestPipeline_NoResultFails(t *testing.T) {
	p, jobs, _ := newPipeline(&fakeResearcher{}, &fakeChecker{})
	_, _ = jobs.Create("t1", "u1")
	p.Run(context.Background(), Request{TurnID: "t1", UserID: "u1", Window: window()})

	j, _ := jobs.Get("t1")
	assert.Equal(t, model.StatusFailed, j.Status)
	assert.NotEmpty(t, j.Error)
}

func TestPipeline_ProviderErrorFails(t *testing.T) {
	p, jobs, hist := newPipeline(&fakeResearcher{err: errs.ErrUpstreamMalformed.WrapMsg("bad json")}, &fakeChecker{})
	_, _ = jobs.Create("t1", "u1")
	p.Run(context.Background(), Request{TurnID: "t1", UserID: "u1", Window: window()})

	j, _ := jobs.Get("t1")
	assert.Equal(t, model.StatusFailed, j.Status)
	assert.Contains(t, j.Error, "bad json")
	msgs, _ := hist.ListByConversation(context.Background(), "conv:u1", 10)
	assert.Empty(t, msgs)
}

func TestPipeline_PanicFails(t *testing.T) {
	p, jobs, _ := newPipeline(&fakeResearcher{panics: true}, &fakeChecker{})
	_, _ = jobs.Create("t1", "u1")
	assert.NotPanics(t, func() {
		p.Run(context.Background(), Request{TurnID: "t1", UserID: "u1", Window: window()})
	})
	j, _ := jobs.Get("t1")
	assert.Equal(t, model.StatusFailed, j.Status)
	assert.Contains(t, j.Error, "provider exploded")
}

func TestPipeline_PersistenceFailureDoesNotFail(t *testing.T) {
	jobs := store.NewJobStore(store.Options{})
	p := NewPipeline(jobs, &fakeResearcher{report: sampleReport()}, failingHistory{}, &fakeChecker{}, PipelineOptions{})
	_, _ = jobs.Create("t1", "u1")
	p.Run(context.Background(), Request{TurnID: "t1", UserID: "u1", Window: window()})

	j, _ := jobs.Get("t1")
	assert.Equal(t, model.StatusCompleted, j.Status)
	assert.NotEmpty(t, j.ResultMessageID)
}

func TestPipeline_EnqueueRunsInBackground(t *testing.T) {
	p, jobs, _ := newPipeline(&fakeResearcher{report: sampleReport()}, &fakeChecker{good: map[int]bool{1: true, 2: true}})
	p.Start()
	defer p.Stop()

	require.NoError(t, p.Enqueue(Request{TurnID: "t1", UserID: "u1", Window: window()}))
	assert.Eventually(t, func() bool {
		j, ok := jobs.Get("t1")
		return ok && j.Status == model.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	err := p.Enqueue(Request{TurnID: "t1", UserID: "u1"})
	assert.True(t, errors.Is(err, errs.ErrArgs), "duplicate turn")
}

func TestPipeline_QueueFullFailsImmediately(t *testing.T) {
	block := make(chan struct{})
	r := &fakeResearcher{report: sampleReport(), block: block}
	jobs := store.NewJobStore(store.Options{})
	p := NewPipeline(jobs, r, message.NewMemoryHistory(), &fakeChecker{}, PipelineOptions{Workers: 1, QueueSize: 1})
	p.Start()
	defer func() {
		close(block)
		p.Stop()
	}()

	require.NoError(t, p.Enqueue(Request{TurnID: "t1", UserID: "u1", Window: window()}))
	// 等 worker 取走 t1，队列腾空
	assert.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.prompts) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Enqueue(Request{TurnID: "t2", UserID: "u1", Window: window()}))
	require.NoError(t, p.Enqueue(Request{TurnID: "t3", UserID: "u1", Window: window()}))

	j, ok := jobs.Get("t3")
	require.True(t, ok)
	assert.Equal(t, model.StatusFailed, j.Status)
	assert.Equal(t, "research queue is full", j.Error)

	j2, _ := jobs.Get("t2")
	assert.Equal(t, model.StatusPending, j2.Status)
}

type failingHistory struct{}

func (failingHistory) RecordUserTurn(context.Context, string, string, message.Owner) (*chatmodel.ChatMessage, error) {
	return nil, errs.ErrPersistence.WrapMsg("down")
}

func (failingHistory) RecordBotTurn(context.Context, string, string, map[string]any, message.Owner) (*chatmodel.ChatMessage, error) {
	return nil, errs.ErrPersistence.WrapMsg("down")
}

func (failingHistory) ListByConversation(context.Context, string, int) ([]*chatmodel.ChatMessage, error) {
	return nil, errs.ErrPersistence.WrapMsg("down")
}
