package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedup(t *testing.T) {
	out := Dedup([]string{"http://a/", "http://a", " http://b ", "", "http://b/"})
	assert.Equal(t, []string{"http://a", "http://b"}, out)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"ws://x:1", "ws://y:2"}, SplitList("ws://x:1, ws://y:2,,ws://x:1/"))
	assert.Empty(t, SplitList(""))
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "0:00:00.00", FormatSeconds(0))
	assert.Equal(t, "0:01:05.50", FormatSeconds(65.5))
	assert.Equal(t, "2:00:03.25", FormatSeconds(7203.25))
	assert.Equal(t, "0:00:00.00", FormatSeconds(-3))
}

func TestEnv(t *testing.T) {
	t.Setenv("SUBNETX_TEST_SET", "value")
	t.Setenv("SUBNETX_TEST_EMPTY", "")

	assert.Equal(t, "value", Env("SUBNETX_TEST_SET", "fallback"))
	assert.Equal(t, "fallback", Env("SUBNETX_TEST_EMPTY", "fallback"))
	assert.Equal(t, "fallback", Env("SUBNETX_TEST_MISSING", "fallback"))
}
