package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoryContentToleratesLooseModelOutput(t *testing.T) {
	raw := `{
		"story": {
			"title": "Relief Work",
			"narrative": "In 1918 the association opened its buildings.",
			"timeline": 1918,
			"locations": ["Chicago", "Boston"],
			"keyPeople": null
		},
		"lessonsAndThemes": "Service",
		"suggestedFollowUps": ["What came next?", 2, ""]
	}`

	var content StoryContent
	require.NoError(t, json.Unmarshal([]byte(raw), &content))

	assert.Equal(t, "1918", content.Story.Timeline.String())
	assert.Equal(t, "Chicago, Boston", content.Story.Locations.String())
	assert.Empty(t, content.Story.KeyPeople)
	assert.Equal(t, FlexList{"Service"}, content.LessonsAndThemes)
	assert.Equal(t, FlexList{"What came next?", "2"}, content.SuggestedFollowUps)
}

func TestResponseTypeValid(t *testing.T) {
	assert.True(t, ResponseNarrative.Valid())
	assert.False(t, ResponseType("partial").Valid())
}
