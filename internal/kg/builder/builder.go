package builder

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/archive-agent/backend/internal/kg/neo4j"
	"github.com/archive-agent/backend/internal/storage/models"
	"github.com/archive-agent/backend/pkg/logger"
)

// Graph is the part of the neo4j client the builder uses.
type Graph interface {
	IndexMentions(ctx context.Context, doc neo4j.DocumentRef, page int, entities []neo4j.Entity) error
	RelatedMentions(ctx context.Context, names []string, limit int) ([]neo4j.Mention, error)
}

// Builder extracts people and places from archive text and keeps the
// mention graph in step with the corpus.
type Builder struct {
	graph   Graph
	extract func(text string) []models.KGEntity
	limit   int
}

func NewBuilder(graph Graph) *Builder {
	return &Builder{
		graph:   graph,
		extract: ExtractEntities,
		limit:   10,
	}
}

var entityLabels = map[string]string{
	"PERSON": "person",
	"GPE":    "place",
}

// ExtractEntities runs prose's named-entity recognizer and keeps people and
// places, deduplicated by name.
func ExtractEntities(text string) []models.KGEntity {
	doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
	if err != nil {
		logger.Debug("Entity extraction failed", zap.Error(err))
		return nil
	}

	var found []models.KGEntity
	for _, ent := range doc.Entities() {
		kind, ok := entityLabels[ent.Label]
		if !ok {
			continue
		}
		found = append(found, models.KGEntity{Name: ent.Text, Type: kind})
	}
	return normalizeEntities(found)
}

func normalizeEntities(entities []models.KGEntity) []models.KGEntity {
	seen := make(map[string]bool, len(entities))
	out := make([]models.KGEntity, 0, len(entities))
	for _, e := range entities {
		name := strings.Join(strings.Fields(e.Name), " ")
		name = strings.TrimFunc(name, func(r rune) bool { return unicode.IsPunct(r) })
		if len([]rune(name)) < 3 {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, models.KGEntity{Name: name, Type: e.Type})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IndexPage adds the entities of one page to the graph and returns how many
// were found.
func (b *Builder) IndexPage(ctx context.Context, doc neo4j.DocumentRef, page int, text string) (int, error) {
	entities := b.extract(text)
	if len(entities) == 0 {
		return 0, nil
	}

	refs := make([]neo4j.Entity, len(entities))
	for i, e := range entities {
		refs[i] = neo4j.Entity{Name: e.Name, Type: e.Type}
	}

	if err := b.graph.IndexMentions(ctx, doc, page, refs); err != nil {
		return 0, fmt.Errorf("failed to index page %d of %s: %w", page, doc.ID, err)
	}
	return len(refs), nil
}

// Lookup returns graph facts about the entities named in query, formatted as
// context lines for a prompt. An empty string means nothing was found.
func (b *Builder) Lookup(ctx context.Context, query string) (string, int, error) {
	entities := b.extract(query)
	if len(entities) == 0 {
		return "", 0, nil
	}

	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.Name
	}

	mentions, err := b.graph.RelatedMentions(ctx, names, b.limit)
	if err != nil {
		return "", 0, err
	}

	logger.Debug("Graph lookup completed",
		zap.Strings("entities", names),
		zap.Int("mentions", len(mentions)),
	)

	return formatMentions(mentions), len(mentions), nil
}

func formatMentions(mentions []neo4j.Mention) string {
	if len(mentions) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, m := range mentions {
		fmt.Fprintf(&sb, "- %s (%s) appears in %q", m.Entity.Name, m.Entity.Type, m.DocumentTitle)
		if m.Page > 0 {
			fmt.Fprintf(&sb, ", page %d", m.Page)
		}
		if len(m.Related) > 0 {
			fmt.Fprintf(&sb, "; mentioned alongside %s", strings.Join(m.Related, ", "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
