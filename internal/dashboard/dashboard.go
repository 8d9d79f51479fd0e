// Package dashboard aggregates persisted analytics and conversation rows into
// the admin overview.
package dashboard

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/archive-agent/backend/internal/storage/models"
)

var ErrUnknownRange = errors.New("unknown time range")

const (
	DefaultRange      = "7d"
	ConversationLimit = 100
	trendingLimit     = 20
	recentLimit       = 10
	minTopicLength    = 5
)

var ranges = map[string]time.Duration{
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
}

// Since returns the start of the window named by r. An empty range means the
// default window.
func Since(r string, now time.Time) (time.Time, error) {
	if r == "" {
		r = DefaultRange
	}
	d, ok := ranges[r]
	if !ok {
		return time.Time{}, ErrUnknownRange
	}
	return now.Add(-d), nil
}

type Stats struct {
	TotalQueries       int            `json:"totalQueries"`
	SuccessRate        float64        `json:"successRate"`
	AvgProcessingTime  float64        `json:"avgProcessingTime"`
	AvgCitations       float64        `json:"avgCitations"`
	LanguageBreakdown  map[string]int `json:"languageBreakdown"`
	UniqueUsers        int            `json:"uniqueUsers"`
	TotalConversations int            `json:"totalConversations"`
}

type Topic struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type RecentQuery struct {
	Timestamp      string `json:"timestamp"`
	Query          string `json:"query"`
	Language       string `json:"language"`
	Citations      int    `json:"citations"`
	ProcessingTime int64  `json:"processingTime"`
}

type Overview struct {
	Stats          Stats         `json:"stats"`
	TrendingTopics []Topic       `json:"trendingTopics"`
	UsageTimeline  []DayCount    `json:"usageTimeline"`
	RecentQueries  []RecentQuery `json:"recentQueries"`
	TimeRange      string        `json:"timeRange"`
}

// Build aggregates rows already filtered to the window. conversations should
// hold at most ConversationLimit turns.
func Build(timeRange string, analytics []models.AnalyticsRecord, conversations []models.ChatTurn) Overview {
	if timeRange == "" {
		timeRange = DefaultRange
	}
	return Overview{
		Stats:          buildStats(analytics),
		TrendingTopics: trendingTopics(conversations),
		UsageTimeline:  usageTimeline(analytics),
		RecentQueries:  recentQueries(conversations),
		TimeRange:      timeRange,
	}
}

func buildStats(analytics []models.AnalyticsRecord) Stats {
	stats := Stats{
		TotalQueries:      len(analytics),
		LanguageBreakdown: make(map[string]int),
	}
	if len(analytics) == 0 {
		return stats
	}

	users := make(map[string]struct{})
	conversations := make(map[string]struct{})
	var succeeded int
	var processing int64
	var citations int

	for _, a := range analytics {
		if a.Success {
			succeeded++
		}
		processing += a.ProcessingTimeMs
		citations += a.CitationsFound

		lang := a.Language
		if lang == "" {
			lang = "unknown"
		}
		stats.LanguageBreakdown[lang]++
		users[a.UserID] = struct{}{}
		conversations[a.ConversationID] = struct{}{}
	}

	n := float64(len(analytics))
	stats.SuccessRate = float64(succeeded) / n
	stats.AvgProcessingTime = float64(processing) / n
	stats.AvgCitations = float64(citations) / n
	stats.UniqueUsers = len(users)
	stats.TotalConversations = len(conversations)
	return stats
}

// trendingTopics counts lowercased words longer than four characters. Ties
// are broken alphabetically so the output is stable.
func trendingTopics(conversations []models.ChatTurn) []Topic {
	counts := make(map[string]int)
	for _, c := range conversations {
		for _, word := range strings.Fields(strings.ToLower(c.UserMessage)) {
			if len([]rune(word)) >= minTopicLength {
				counts[word]++
			}
		}
	}

	topics := make([]Topic, 0, len(counts))
	for word, n := range counts {
		topics = append(topics, Topic{Topic: word, Count: n})
	}
	sort.Slice(topics, func(i, j int) bool {
		if topics[i].Count != topics[j].Count {
			return topics[i].Count > topics[j].Count
		}
		return topics[i].Topic < topics[j].Topic
	})
	if len(topics) > trendingLimit {
		topics = topics[:trendingLimit]
	}
	return topics
}

func usageTimeline(analytics []models.AnalyticsRecord) []DayCount {
	byDay := make(map[string]int)
	for _, a := range analytics {
		byDay[a.Timestamp.UTC().Format(time.DateOnly)]++
	}

	timeline := make([]DayCount, 0, len(byDay))
	for date, n := range byDay {
		timeline = append(timeline, DayCount{Date: date, Count: n})
	}
	sort.Slice(timeline, func(i, j int) bool { return timeline[i].Date < timeline[j].Date })
	return timeline
}

func recentQueries(conversations []models.ChatTurn) []RecentQuery {
	sorted := make([]models.ChatTurn, len(conversations))
	copy(sorted, conversations)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.After(sorted[j].Timestamp) })
	if len(sorted) > recentLimit {
		sorted = sorted[:recentLimit]
	}

	out := make([]RecentQuery, len(sorted))
	for i, c := range sorted {
		out[i] = RecentQuery{
			Timestamp:      c.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			Query:          c.UserMessage,
			Language:       c.UserLanguage,
			Citations:      c.CitationsCount,
			ProcessingTime: c.ProcessingTimeMs,
		}
	}
	return out
}
