// SPDX-License-Identifier: MIT

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseHelpers(t *testing.T) {
	t.Setenv("VIDBEAT_T_INT", "12")
	t.Setenv("VIDBEAT_T_BADINT", "twelve")
	t.Setenv("VIDBEAT_T_EMPTY", "")
	t.Setenv("VIDBEAT_T_FLOAT", "2.5")
	t.Setenv("VIDBEAT_T_DUR", "750ms")
	t.Setenv("VIDBEAT_T_SECS", "7")
	t.Setenv("VIDBEAT_T_BOOL", "YES")
	t.Setenv("VIDBEAT_T_BADBOOL", "maybe")

	assert.Equal(t, 12, ParseInt("VIDBEAT_T_INT", 1))
	assert.Equal(t, 1, ParseInt("VIDBEAT_T_BADINT", 1))
	assert.Equal(t, 1, ParseInt("VIDBEAT_T_EMPTY", 1))
	assert.Equal(t, 1, ParseInt("VIDBEAT_T_UNSET", 1))
	assert.Equal(t, int64(12), ParseInt64("VIDBEAT_T_INT", 0))
	assert.InDelta(t, 2.5, ParseFloat("VIDBEAT_T_FLOAT", 0), 0)
	assert.Equal(t, 750*time.Millisecond, ParseDuration("VIDBEAT_T_DUR", 0))
	assert.Equal(t, 7*time.Second, ParseDuration("VIDBEAT_T_SECS", 0))
	assert.True(t, ParseBool("VIDBEAT_T_BOOL", false))
	assert.True(t, ParseBool("VIDBEAT_T_BADBOOL", true))
	assert.Equal(t, "fallback", ParseString("VIDBEAT_T_EMPTY", "fallback"))
}

func TestIsSensitiveKey(t *testing.T) {
	assert.True(t, isSensitiveKey("VIDBEAT_CSRF_TOKEN"))
	assert.True(t, isSensitiveKey("VIDBEAT_SESSION_ID"))
	assert.True(t, isSensitiveKey("VIDBEAT_SIGN"))
	assert.False(t, isSensitiveKey("VIDBEAT_SPEED"))
}
