package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "rc_rt_k4jh…", MaskSecret("rc_rt_k4jh2w9xqp"))
	assert.Equal(t, "rc_sec_abcd…", MaskSecret("rc_sec_abcdef123456"))
	assert.Equal(t, "abcd…", MaskSecret("abcdef"))
	assert.Equal(t, "***", MaskSecret("abc"))
	assert.Equal(t, "", MaskSecret("  "))
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "o…@e….com", MaskEmail("owner@example.com"))
	assert.Equal(t, "n…l", MaskEmail("not-an-email"))
	assert.Equal(t, "", MaskEmail(""))
}
