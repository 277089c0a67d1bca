package chat

import (
	"testing"
	"time"

	chatmodel "ResearchChat/module/chat/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_HistoryIsCapped(t *testing.T) {
	c := NewClient("c-1", nil, 4, nil, time.Now())
	c.SetHistoryLimit(3)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		c.AppendHistory(chatmodel.Turn{Role: chatmodel.RoleUser, Content: s})
	}
	hist := c.History()
	require.Len(t, hist, 3)
	assert.Equal(t, "c", hist[0].Content)
	assert.Equal(t, "e", hist[2].Content)

	c.SetHistoryLimit(0)
	for i := 0; i < DefaultHistoryLimit+10; i++ {
		c.AppendHistory(chatmodel.Turn{Role: chatmodel.RoleUser, Content: "x"})
	}
	assert.Len(t, c.History(), DefaultHistoryLimit)
}

func TestClient_ReplaceAssistantTurn(t *testing.T) {
	c := NewClient("c-1", nil, 4, nil, time.Now())
	c.AppendHistory(
		chatmodel.Turn{Role: chatmodel.RoleUser, Content: "q1"},
		chatmodel.Turn{Role: chatmodel.RoleAssistant, Content: "looking", TurnID: "t1"},
		chatmodel.Turn{Role: chatmodel.RoleUser, Content: "q2"},
		chatmodel.Turn{Role: chatmodel.RoleAssistant, Content: "fallback", TurnID: "t2"},
	)

	assert.True(t, c.ReplaceAssistantTurn("t1", "final"))
	hist := c.History()
	assert.Equal(t, "final", hist[1].Content)
	assert.Equal(t, "fallback", hist[3].Content)

	assert.False(t, c.ReplaceAssistantTurn("t9", "x"))
	assert.False(t, c.ReplaceAssistantTurn("", "x"))
}

func TestClient_TurnsRunInOrder(t *testing.T) {
	c := NewClient("c-1", nil, 4, nil, time.Now())
	var got []string

	require.True(t, c.QueueTurn(func() {
		got = append(got, "1")
		// 执行中入队的轮次排在已排队的之后
		assert.False(t, c.QueueTurn(func() { got = append(got, "3") }))
	}))
	assert.False(t, c.QueueTurn(func() { got = append(got, "2") }), "a drain is already owed")

	c.DrainTurns()
	assert.Equal(t, []string{"1", "2", "3"}, got)
	assert.True(t, c.QueueTurn(func() {}), "queue is idle again")
}
