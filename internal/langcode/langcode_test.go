package langcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"en", "en"},
		{"eng", "en"},
		{"ENG", "en"},
		{" nl ", "nl"},
		{"nld", "nl"},
		{"dut", "nl"},
		{"ger", "de"},
		{"fre", "fr"},
		{"bos", "bs"},
		{"pt-BR", "pt"},
		{"pt_BR", "pt"},
		{"chi", "zh"},
		{"und", ""},
		{"", ""},
		{"not-a-language", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeListKeepsOrderAndDedupes(t *testing.T) {
	got := NormalizeList([]string{"EN", "nl", "eng", "bs", "", "dut"})
	assert.Equal(t, []string{"en", "nl", "bs"}, got)
}

func TestHintFromTitle(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"English SDH", "en"},
		{"Brazilian Portuguese", "pt"},
		{"Portuguese", "pt"},
		{"简体中文", "zh"},
		{"Forced", ""},
		{"Englishman", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HintFromTitle(tt.title), tt.title)
	}
}

func TestIsHearingImpaired(t *testing.T) {
	assert.True(t, IsHearingImpaired("English (SDH)"))
	assert.True(t, IsHearingImpaired("Closed Captions"))
	assert.True(t, IsHearingImpaired("for the deaf"))
	assert.False(t, IsHearingImpaired("Deafening Silence commentary"))
	assert.False(t, IsHearingImpaired("English"))
	assert.False(t, IsHearingImpaired(""))
}
