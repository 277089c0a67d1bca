package tools

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("RC_T_STR", "v")
	t.Setenv("RC_T_INT", "12")
	t.Setenv("RC_T_BADINT", "x")
	t.Setenv("RC_T_BOOL", "Yes")
	t.Setenv("RC_T_DUR", "3s")
	t.Setenv("RC_T_MS", "250")

	assert.Equal(t, "v", GetEnv("RC_T_STR", "d"))
	assert.Equal(t, "d", GetEnv("RC_T_UNSET", "d"))
	assert.Equal(t, 12, GetEnvInt("RC_T_INT", 1))
	assert.Equal(t, 1, GetEnvInt("RC_T_BADINT", 1))
	assert.True(t, GetEnvBool("RC_T_BOOL", false))
	assert.Equal(t, 3*time.Second, GetEnvDuration("RC_T_DUR", time.Second))
	assert.Equal(t, 250*time.Millisecond, GetEnvDuration("RC_T_MS", time.Second))
	assert.Equal(t, time.Second, GetEnvDuration("RC_T_UNSET", time.Second))
}

func TestSplitCSVAndHdr(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitCSV("a, b,,c"))
	assert.Nil(t, SplitCSV(""))
	assert.Equal(t, map[string]string{"k1": "v1", "k2": "v=2"}, ParseHdr("k1=v1, k2=v=2, bad"))
}
