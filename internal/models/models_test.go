package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("0123456789abcdef"))
	assert.True(t, ValidID("a1b2c3d4-e5f6-7890-abcd-ef1234567890"))

	assert.False(t, ValidID(""), "empty")
	assert.False(t, ValidID("abc123"), "too short")
	assert.False(t, ValidID(strings.Repeat("a", 65)), "too long")
	assert.False(t, ValidID("0123456789ABCDEF"), "uppercase rejected")
	assert.False(t, ValidID("0123456789abcdeg"), "non-hex letter")
	assert.False(t, ValidID("0123456789abcde_"), "underscore")
}

func TestValidLevelAndScene(t *testing.T) {
	for _, lvl := range []string{LevelAsset, LevelText, LevelAudioOnly} {
		assert.True(t, ValidLevel(lvl), lvl)
	}
	assert.False(t, ValidLevel("video"))
	assert.False(t, ValidLevel(""))

	for _, scene := range []string{"meeting", "lecture", "interview", "idea"} {
		assert.True(t, ValidScene(scene), scene)
	}
	assert.False(t, ValidScene("party"))
	assert.False(t, ValidScene(""))
}

func TestTaskTypeForLevel(t *testing.T) {
	assert.Equal(t, TypeTranscribeAnalyze, TaskTypeForLevel(LevelAsset))
	assert.Equal(t, TypeTranscribe, TaskTypeForLevel(LevelText))
}
