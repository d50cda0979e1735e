package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// maxHits bounds how many paper ids a single full-text lookup may return.
const maxHits = 1000

// Document is the searchable projection of a paper.
type Document struct {
	ID          string
	Title       string
	Description string
	Journal     string
	Authors     []string
	Tags        []string
	SDGs        []string
}

// PaperIndex wraps a bleve index of catalog papers.
type PaperIndex struct {
	index bleve.Index
}

// NewMapping returns the field mapping used for paper documents.
func NewMapping() mapping.IndexMapping {
	english := bleve.NewTextFieldMapping()
	english.Analyzer = en.AnalyzerName

	plain := bleve.NewTextFieldMapping()
	plain.Analyzer = simple.Name

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("title", english)
	doc.AddFieldMappingsAt("description", english)
	doc.AddFieldMappingsAt("journal", plain)
	doc.AddFieldMappingsAt("authors", plain)
	doc.AddFieldMappingsAt("tags", plain)
	doc.AddFieldMappingsAt("sdgs", plain)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// Open opens the index at path, creating it when missing. An empty path keeps
// the index in memory.
func Open(path string) (*PaperIndex, error) {
	if path == "" {
		return NewMemOnly()
	}
	index, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		index, err = bleve.New(path, NewMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open search index: %w", err)
	}
	return &PaperIndex{index: index}, nil
}

// NewMemOnly builds a volatile index.
func NewMemOnly() (*PaperIndex, error) {
	index, err := bleve.NewMemOnly(NewMapping())
	if err != nil {
		return nil, fmt.Errorf("create memory index: %w", err)
	}
	return &PaperIndex{index: index}, nil
}

// Close releases the index.
func (p *PaperIndex) Close() error {
	if p.index == nil {
		return nil
	}
	return p.index.Close()
}

// Index adds or replaces a document.
func (p *PaperIndex) Index(doc Document) error {
	return p.index.Index(doc.ID, doc.fields())
}

// Delete removes a document. Unknown ids are not an error.
func (p *PaperIndex) Delete(id string) error {
	return p.index.Delete(id)
}

// Rebuild replaces the whole index content with docs.
func (p *PaperIndex) Rebuild(docs []Document) error {
	existing, err := p.allIDs()
	if err != nil {
		return err
	}
	batch := p.index.NewBatch()
	keep := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		keep[doc.ID] = struct{}{}
		if err := batch.Index(doc.ID, doc.fields()); err != nil {
			return fmt.Errorf("batch index %s: %w", doc.ID, err)
		}
	}
	for _, id := range existing {
		if _, ok := keep[id]; !ok {
			batch.Delete(id)
		}
	}
	if err := p.index.Batch(batch); err != nil {
		return fmt.Errorf("apply index batch: %w", err)
	}
	return nil
}

// Count reports the number of indexed documents.
func (p *PaperIndex) Count() (uint64, error) {
	return p.index.DocCount()
}

// Search returns ids of papers matching every word of text, best match first.
// Each word may prefix-match the title, description, journal, authors, tags or SDGs.
func (p *PaperIndex) Search(ctx context.Context, text string) ([]string, error) {
	q := p.wordsQuery(text)
	if q == nil {
		return []string{}, nil
	}
	req := bleve.NewSearchRequestOptions(q, maxHits, 0, false)
	res, err := p.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	ids := make([]string, len(res.Hits))
	for i, hit := range res.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

func (p *PaperIndex) wordsQuery(text string) query.Query {
	words := strings.Fields(text)
	ands := make([]query.Query, 0, len(words))
	for _, word := range words {
		q := orQ(
			p.prefixes(en.AnalyzerName, "title", word),
			p.prefixes(en.AnalyzerName, "description", word),
			p.prefixes(simple.Name, "journal", word),
			p.prefixes(simple.Name, "authors", word),
			p.prefixes(simple.Name, "tags", word),
			p.prefixes(simple.Name, "sdgs", word),
		)
		if q != nil {
			ands = append(ands, q)
		}
	}
	return andQ(ands...)
}

func (p *PaperIndex) prefixes(analyzerName, field, word string) query.Query {
	analyzer := p.index.Mapping().AnalyzerNamed(analyzerName)
	if analyzer == nil {
		return nil
	}
	tokens := analyzer.Analyze([]byte(word))
	if len(tokens) == 0 {
		return nil
	}
	conjuncts := make([]query.Query, len(tokens))
	for i, token := range tokens {
		pq := query.NewPrefixQuery(string(token.Term))
		pq.SetField(field)
		conjuncts[i] = pq
	}
	return query.NewConjunctionQuery(conjuncts)
}

func (p *PaperIndex) allIDs() ([]string, error) {
	count, err := p.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("count index: %w", err)
	}
	if count == 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(query.NewMatchAllQuery(), int(count), 0, false)
	res, err := p.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("list index: %w", err)
	}
	ids := make([]string, len(res.Hits))
	for i, hit := range res.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

func (d Document) fields() map[string]interface{} {
	return map[string]interface{}{
		"title":       d.Title,
		"description": d.Description,
		"journal":     d.Journal,
		"authors":     d.Authors,
		"tags":        d.Tags,
		"sdgs":        d.SDGs,
	}
}

func andQ(qs ...query.Query) query.Query {
	ands := make([]query.Query, 0, len(qs))
	for _, q := range qs {
		if q != nil {
			ands = append(ands, q)
		}
	}
	if len(ands) == 0 {
		return nil
	}
	return query.NewConjunctionQuery(ands)
}

func orQ(qs ...query.Query) query.Query {
	ors := make([]query.Query, 0, len(qs))
	for _, q := range qs {
		if q != nil {
			ors = append(ors, q)
		}
	}
	if len(ors) == 0 {
		return nil
	}
	return query.NewDisjunctionQuery(ors)
}
