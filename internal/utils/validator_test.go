package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlug(t *testing.T) {
	assert.Equal(t, "go_lang", NormalizeSlug("  @Go_Lang "))

	for _, s := range []string{"abc", "go_lang_2024", "a_b_c_d_e_f_g_h_i_j_k_l_m_n_o_p_"} {
		assert.True(t, ValidateSlug(s), s)
	}
	for _, s := range []string{"", "ab", "Go", "has space", "dash-ed", "toolongtoolongtoolongtoolongtoolo"} {
		assert.False(t, ValidateSlug(s), s)
	}
}

func TestIsValidEmoji(t *testing.T) {
	assert.True(t, IsValidEmoji("👍"))
	assert.True(t, IsValidEmoji("🔥"))
	assert.True(t, IsValidEmoji("😂"))

	assert.False(t, IsValidEmoji(""))
	assert.False(t, IsValidEmoji("a"))
	assert.False(t, IsValidEmoji(":thumbsup:"))
	assert.False(t, IsValidEmoji("👍👍"))
}

func TestGenerateInviteCode(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		code, err := GenerateInviteCode(12)
		require.NoError(t, err)
		assert.Len(t, code, 12)
		_, dup := seen[code]
		assert.False(t, dup)
		seen[code] = struct{}{}
	}

	code, err := GenerateInviteCode(0)
	require.NoError(t, err)
	assert.Len(t, code, 12)
}

func TestTrimNonBlank(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, TrimNonBlank([]string{" a ", "", "  ", "b"}))
	assert.Empty(t, TrimNonBlank(nil))
}
