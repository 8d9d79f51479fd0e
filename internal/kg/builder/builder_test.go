package builder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archive-agent/backend/internal/kg/neo4j"
	"github.com/archive-agent/backend/internal/storage/models"
)

type fakeGraph struct {
	indexed  []neo4j.Entity
	page     int
	queried  []string
	mentions []neo4j.Mention
	err      error
}

func (f *fakeGraph) IndexMentions(ctx context.Context, doc neo4j.DocumentRef, page int, entities []neo4j.Entity) error {
	f.indexed = entities
	f.page = page
	return f.err
}

func (f *fakeGraph) RelatedMentions(ctx context.Context, names []string, limit int) ([]neo4j.Mention, error) {
	f.queried = names
	return f.mentions, f.err
}

func staticExtractor(entities ...models.KGEntity) func(string) []models.KGEntity {
	return func(string) []models.KGEntity { return normalizeEntities(entities) }
}

func TestNormalizeEntitiesDeduplicates(t *testing.T) {
	got := normalizeEntities([]models.KGEntity{
		{Name: "George  Williams", Type: "person"},
		{Name: "george williams", Type: "person"},
		{Name: "London,", Type: "place"},
		{Name: "NY", Type: "place"},
	})

	assert.Equal(t, []models.KGEntity{
		{Name: "George Williams", Type: "person"},
		{Name: "London", Type: "place"},
	}, got)
}

func TestIndexPage(t *testing.T) {
	graph := &fakeGraph{}
	b := NewBuilder(graph)
	b.extract = staticExtractor(models.KGEntity{Name: "Boston", Type: "place"})

	n, err := b.IndexPage(context.Background(), neo4j.DocumentRef{ID: "doc-1"}, 3, "text")

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, graph.page)
	assert.Equal(t, []neo4j.Entity{{Name: "Boston", Type: "place"}}, graph.indexed)
}

func TestIndexPageWithoutEntitiesSkipsGraph(t *testing.T) {
	graph := &fakeGraph{err: errors.New("should not be called")}
	b := NewBuilder(graph)
	b.extract = staticExtractor()

	n, err := b.IndexPage(context.Background(), neo4j.DocumentRef{ID: "doc-1"}, 1, "text")

	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLookupFormatsMentions(t *testing.T) {
	graph := &fakeGraph{mentions: []neo4j.Mention{{
		Entity:        neo4j.Entity{Name: "Chicago", Type: "place"},
		DocumentTitle: "Annual Report 1919",
		Page:          12,
		Related:       []string{"John Mott"},
	}}}
	b := NewBuilder(graph)
	b.extract = staticExtractor(models.KGEntity{Name: "Chicago", Type: "place"})

	facts, n, err := b.Lookup(context.Background(), "What happened in Chicago?")

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"Chicago"}, graph.queried)
	assert.Equal(t, "- Chicago (place) appears in \"Annual Report 1919\", page 12; mentioned alongside John Mott\n", facts)
}

func TestLookupPropagatesGraphError(t *testing.T) {
	b := NewBuilder(&fakeGraph{err: errors.New("graph down")})
	b.extract = staticExtractor(models.KGEntity{Name: "Chicago", Type: "place"})

	_, _, err := b.Lookup(context.Background(), "Chicago")

	assert.Error(t, err)
}
