package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID    string   `json:"id"`
	Score float64  `json:"score"`
	Count int      `json:"count"`
	Refs  []string `json:"refs"`
}

type payload struct {
	Summary string         `json:"summary"`
	Items   []item         `json:"items"`
	Extra   map[string]any `json:"extra"`
}

func TestDecodeJSON_WeakTypesAndFences(t *testing.T) {
	raw := "Here you go:\n```json\n" + `{
  "summary": "s",
  "items": [{"id": 1, "score": "7.5", "count": 3.0, "refs": [1, "b"]}],
  "extra": "{\"k\": \"v\"}"
}` + "\n```"

	p, err := DecodeJSON[payload](raw)
	require.NoError(t, err)
	assert.Equal(t, "s", p.Summary)
	require.Len(t, p.Items, 1)
	assert.Equal(t, "1", p.Items[0].ID)
	assert.Equal(t, 7.5, p.Items[0].Score)
	assert.Equal(t, 3, p.Items[0].Count)
	assert.Equal(t, []string{"1", "b"}, p.Items[0].Refs)
	assert.Equal(t, "v", p.Extra["k"])
}

func TestDecodeJSON_Errors(t *testing.T) {
	_, err := DecodeJSON[payload]("no object here")
	assert.Error(t, err)

	_, err = DecodeJSON[payload]("{not json}")
	assert.Error(t, err)

	_, err = DecodeMap[payload](nil)
	assert.Error(t, err)
}

func TestDecodeMap_ErrorUnused(t *testing.T) {
	_, err := DecodeMap[item](map[string]any{"id": "x", "bogus": 1}, Options{WeaklyTypedInput: true, ErrorUnused: true})
	assert.Error(t, err)
}
