package poller

import (
	"sync"
	"testing"
	"time"

	"ResearchChat/module/research/model"
	"ResearchChat/module/research/store"
	"ResearchChat/service/chat"
	"ResearchChat/tools/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTarget struct {
	mu       sync.Mutex
	open     bool
	replaced []string
}

func (t *fakeTarget) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *fakeTarget) UserID() string { return "u1" }

func (t *fakeTarget) ReplaceAssistantTurn(turnID, content string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replaced = append(t.replaced, turnID+":"+content)
	return true
}

func (t *fakeTarget) close() {
	t.mu.Lock()
	t.open = false
	t.mu.Unlock()
}

type recordingSender struct {
	mu     sync.Mutex
	frames []chat.Outbound
}

func (s *recordingSender) SendToRoom(_ string, f chat.Outbound) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return 1
}

func (s *recordingSender) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		out = append(out, f.FrameType())
	}
	return out
}

func setup(t *testing.T, maxAttempts int) (*Poller, *store.JobStore, *recordingSender, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	jobs := store.NewJobStore(store.Options{Clock: clk})
	sender := &recordingSender{}
	p := New(jobs, sender, Options{Interval: 2 * time.Second, MaxAttempts: maxAttempts, Clock: clk})
	return p, jobs, sender, clk
}

func TestPoller_PushesCompletedResult(t *testing.T) {
	p, jobs, sender, clk := setup(t, 300)
	_, err := jobs.Create("t1", "u1")
	require.NoError(t, err)
	target := &fakeTarget{open: true}
	p.Watch(target, "t1")

	clk.Advance(2 * time.Second)
	assert.Empty(t, sender.types(), "nothing pushed while pending")
	assert.Equal(t, 1, p.Active())

	require.NoError(t, jobs.Complete("t1", model.Result{
		Report: model.Report{
			ExecutiveSummary: "Rates rose [1].",
			Citations: []model.Citation{
				{ID: 1, Title: "PUC", URL: "https://example.com", RelevanceScore: 8},
				{ID: 2, Title: "Blog (source could not be verified)", RelevanceScore: 2, Unverified: true},
			},
		},
		FinalText:       "Rates rose [1].",
		ResultMessageID: "m-final",
	}))
	clk.Advance(2 * time.Second)

	assert.Equal(t, []string{chat.TypeTyping, chat.TypeBotMessage, chat.TypeResearchUpdate}, sender.types())
	bot := sender.frames[1].(chat.BotMessage)
	assert.Equal(t, "m-final", bot.MessageID)
	assert.Len(t, bot.Citations, 2)
	assert.True(t, bot.Success)
	assert.False(t, bot.ResearchPending)
	assert.InDelta(t, 0.8, bot.ConfidenceScore, 1e-9)
	upd := sender.frames[2].(chat.ResearchUpdate)
	assert.False(t, upd.ResearchPending)
	assert.Equal(t, []string{"t1:Rates rose [1]."}, target.replaced)
	assert.Equal(t, 0, p.Active())

	clk.Advance(time.Minute)
	assert.Len(t, sender.types(), 3, "no further pushes once finished")
}

func TestPoller_PushesFailure(t *testing.T) {
	p, jobs, sender, clk := setup(t, 300)
	_, _ = jobs.Create("t1", "u1")
	require.NoError(t, jobs.Fail("t1", "provider down"))
	target := &fakeTarget{open: true}
	p.Watch(target, "t1")

	clk.Advance(2 * time.Second)
	require.Equal(t, []string{chat.TypeTyping, chat.TypeBotMessage, chat.TypeResearchUpdate}, sender.types())
	bot := sender.frames[1].(chat.BotMessage)
	assert.False(t, bot.Success)
	assert.Equal(t, FailedReply, bot.Content)
	assert.NotContains(t, bot.Content, "provider down")
	assert.Empty(t, target.replaced)
}

func TestPoller_StopsOnClosedConnection(t *testing.T) {
	p, jobs, sender, clk := setup(t, 300)
	_, _ = jobs.Create("t1", "u1")
	target := &fakeTarget{open: true}
	p.Watch(target, "t1")

	clk.Advance(2 * time.Second)
	target.close()
	clk.Advance(2 * time.Second)
	assert.Equal(t, 0, p.Active())

	require.NoError(t, jobs.Complete("t1", model.Result{FinalText: "x"}))
	clk.Advance(10 * time.Second)
	assert.Empty(t, sender.types())
	j, ok := jobs.Get("t1")
	require.True(t, ok, "job is left for explicit collection")
	assert.Equal(t, model.StatusCompleted, j.Status)
}

func TestPoller_StopsWhenJobMissing(t *testing.T) {
	p, _, sender, clk := setup(t, 300)
	p.Watch(&fakeTarget{open: true}, "ghost")
	clk.Advance(2 * time.Second)
	assert.Equal(t, 0, p.Active())
	assert.Empty(t, sender.types())
}

func TestPoller_GivesUpAfterMaxAttempts(t *testing.T) {
	p, jobs, sender, clk := setup(t, 3)
	_, _ = jobs.Create("t1", "u1")
	p.Watch(&fakeTarget{open: true}, "t1")

	clk.Advance(4 * time.Second)
	assert.Equal(t, 1, p.Active())
	clk.Advance(2 * time.Second)
	assert.Equal(t, 0, p.Active())

	require.NoError(t, jobs.Complete("t1", model.Result{FinalText: "late"}))
	clk.Advance(time.Minute)
	assert.Empty(t, sender.types())
}

func TestPoller_StopCancelsWatches(t *testing.T) {
	p, jobs, _, clk := setup(t, 300)
	_, _ = jobs.Create("t1", "u1")
	p.Watch(&fakeTarget{open: true}, "t1")
	p.Stop()
	assert.Equal(t, 0, p.Active())
	clk.Advance(time.Minute)
	p.Watch(&fakeTarget{open: true}, "t1")
	assert.Equal(t, 0, p.Active())
}

func TestConfidence(t *testing.T) {
	assert.Zero(t, Confidence(nil))
	assert.Zero(t, Confidence([]model.Citation{{ID: 1, RelevanceScore: 9, Unverified: true}}))
	assert.InDelta(t, 0.65, Confidence([]model.Citation{
		{ID: 1, RelevanceScore: 5},
		{ID: 2, RelevanceScore: 8},
	}), 1e-9)
	assert.InDelta(t, 1.0, Confidence([]model.Citation{{ID: 1, RelevanceScore: 14}}), 1e-9)
}
