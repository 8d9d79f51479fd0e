// Package story turns model output into one of the three answer shapes the
// API returns: structured, narrative or error. Every Answer built here
// carries a non-empty story narrative.
package story

import (
	"encoding/json"
	"strings"

	"github.com/archive-agent/backend/internal/storage/models"
)

type Answer struct {
	Type      models.ResponseType
	Content   models.StoryContent
	RawText   string
	Fallback  bool
	Citations []models.Citation
}

// wrapDefaults fills the non-narrative fields when the model returned prose
// instead of the requested JSON.
type wrapDefaults struct {
	title            string
	timeline         string
	locations        string
	keyPeople        string
	whyItMatters     string
	lessons          []string
	modernReflection string
	followUps        []string
}

var groundedDefaults = wrapDefaults{
	title:        "Historical Archive Insights",
	timeline:     "Historical period",
	locations:    "Various archive locations",
	keyPeople:    "Organization leaders and community members",
	whyItMatters: "Understanding our heritage helps guide our future mission",
	lessons: []string{
		"Historical continuity in the organization's mission",
		"Community resilience and adaptation",
	},
	modernReflection: "These historical insights remind us of an enduring commitment to community service and adaptation in times of change.",
	followUps: []string{
		"What other historical periods would you like to explore?",
		"How did the organization adapt to other major challenges?",
	},
}

var fallbackDefaults = wrapDefaults{
	title:        "Archive Information",
	whyItMatters: "Understanding the organization's mission and history",
	followUps: []string{
		"What specific programs interest you?",
		"Would you like to know about the history in your area?",
	},
}

const (
	apologyRawText   = "Technical error occurred"
	apologyNarrative = "I apologize, but I'm experiencing technical difficulties accessing the archives at the moment. Please contact your local branch for assistance with historical inquiries."
)

// FromGrounded interprets the text of a grounded generation call.
func FromGrounded(raw string) Answer {
	return parse(raw, groundedDefaults, false)
}

// FromFallback interprets the text of an ungrounded generation call.
func FromFallback(raw string) Answer {
	return parse(raw, fallbackDefaults, true)
}

// Apology is the answer used when no generation path produced text.
func Apology() Answer {
	return Answer{
		Type:    models.ResponseError,
		Content: apologyContent(),
		RawText: apologyRawText,
	}
}

func apologyContent() models.StoryContent {
	return models.StoryContent{
		Story: models.Story{
			Title:        "Technical Difficulties",
			Narrative:    apologyNarrative,
			WhyItMatters: "Your questions about our history are important and deserve proper attention.",
		},
		SuggestedFollowUps: models.FlexList{
			"Try asking your question again in a few minutes",
			"Contact your local branch directly for historical information",
		},
	}
}

// ServerErrorContent is the fixed body returned with HTTP 500.
func ServerErrorContent() models.StoryContent {
	return models.StoryContent{
		Story: models.Story{
			Title:        "Technical Difficulties",
			Narrative:    "I apologize, but I encountered an error processing your request. Please try again or contact your local branch for assistance.",
			WhyItMatters: "Your questions about our history and programs are important to us.",
		},
		SuggestedFollowUps: models.FlexList{
			"Try rephrasing your question",
			"Contact your local branch directly",
		},
	}
}

// Normalize repairs an Answer so that its Type is one of the three known
// shapes and its narrative is non-empty.
func Normalize(a Answer) Answer {
	if a.Citations == nil {
		a.Citations = []models.Citation{}
	}
	if a.Content.SuggestedFollowUps == nil {
		a.Content.SuggestedFollowUps = models.FlexList{}
	}

	narrativeOK := strings.TrimSpace(string(a.Content.Story.Narrative)) != ""

	switch {
	case a.Type == models.ResponseError:
		if !narrativeOK {
			a.Content = apologyContent()
		}
		if a.RawText == "" {
			a.RawText = apologyRawText
		}
		return a
	case a.Type.Valid() && narrativeOK:
		return a
	}

	if strings.TrimSpace(a.RawText) == "" {
		repaired := Apology()
		repaired.Fallback = a.Fallback
		repaired.Citations = a.Citations
		return repaired
	}

	defaults := groundedDefaults
	if a.Fallback {
		defaults = fallbackDefaults
	}
	a.Type = models.ResponseNarrative
	a.Content = wrap(a.RawText, defaults)
	return a
}

func parse(raw string, defaults wrapDefaults, fallback bool) Answer {
	answer := Answer{RawText: raw, Fallback: fallback}

	if content, ok := decode(raw); ok {
		answer.Type = models.ResponseStructured
		answer.Content = content
	} else {
		answer.Type = models.ResponseNarrative
		answer.Content = wrap(raw, defaults)
	}
	return Normalize(answer)
}

func wrap(raw string, d wrapDefaults) models.StoryContent {
	return models.StoryContent{
		Story: models.Story{
			Title:        models.FlexString(d.title),
			Narrative:    models.FlexString(raw),
			Timeline:     models.FlexString(d.timeline),
			Locations:    models.FlexString(d.locations),
			KeyPeople:    models.FlexString(d.keyPeople),
			WhyItMatters: models.FlexString(d.whyItMatters),
		},
		LessonsAndThemes:   append(models.FlexList(nil), d.lessons...),
		ModernReflection:   models.FlexString(d.modernReflection),
		SuggestedFollowUps: append(models.FlexList{}, d.followUps...),
	}
}

// decode accepts the contracted JSON object, optionally inside a markdown
// code fence, and also the flattened variant where story fields sit at the
// top level. A decoded object without a narrative is rejected.
func decode(raw string) (models.StoryContent, bool) {
	text := stripFence(strings.TrimSpace(raw))
	if !strings.HasPrefix(text, "{") {
		return models.StoryContent{}, false
	}

	var content models.StoryContent
	if err := json.Unmarshal([]byte(text), &content); err != nil {
		return models.StoryContent{}, false
	}

	if strings.TrimSpace(string(content.Story.Narrative)) == "" {
		var flat models.Story
		if err := json.Unmarshal([]byte(text), &flat); err != nil {
			return models.StoryContent{}, false
		}
		content.Story = flat
	}

	if strings.TrimSpace(string(content.Story.Narrative)) == "" {
		return models.StoryContent{}, false
	}
	return content, true
}

func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	text = strings.TrimSpace(text)
	return strings.TrimSpace(strings.TrimSuffix(text, "```"))
}
