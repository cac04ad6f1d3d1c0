package worklog

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// index wraps the Bleve index. Document ids are entry positions in the log.
type index struct {
	bleve bleve.Index
}

func openIndex(path string) (*index, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create in-memory index: %w", err)
		}
		return &index{bleve: idx}, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		idx, err := bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
		return &index{bleve: idx}, nil
	}

	idx, err := bleve.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return &index{bleve: idx}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	entryMapping := bleve.NewDocumentMapping()

	descriptionField := bleve.NewTextFieldMapping()
	descriptionField.Analyzer = standard.Name

	timestampField := bleve.NewKeywordFieldMapping()

	entryMapping.AddFieldMappingsAt("description", descriptionField)
	entryMapping.AddFieldMappingsAt("timestamp", timestampField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = entryMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

func (i *index) add(position int, entry Entry) error {
	return i.bleve.Index(docID(position), entry)
}

// catchUp indexes entries the index has not seen. Entries are append-only,
// so the document count is the position of the first missing entry.
func (i *index) catchUp(entries []Entry) error {
	count, err := i.bleve.DocCount()
	if err != nil {
		return err
	}
	if int(count) > len(entries) {
		// The log was replaced by a shorter one; start over.
		for pos := len(entries); pos < int(count); pos++ {
			if err := i.bleve.Delete(docID(pos)); err != nil {
				return err
			}
		}
		count = 0
	}
	if int(count) == len(entries) {
		return nil
	}

	batch := i.bleve.NewBatch()
	for pos := int(count); pos < len(entries); pos++ {
		if err := batch.Index(docID(pos), entries[pos]); err != nil {
			return err
		}
	}
	return i.bleve.Batch(batch)
}

func (i *index) search(ctx context.Context, text string, limit int) ([]Entry, uint64, error) {
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(text))
	req.Size = limit
	req.Fields = []string{"timestamp", "description"}

	result, err := i.bleve.SearchInContext(ctx, req)
	if err != nil {
		return nil, 0, fmt.Errorf("search failed: %w", err)
	}

	entries := make([]Entry, 0, len(result.Hits))
	for _, hit := range result.Hits {
		timestamp, _ := hit.Fields["timestamp"].(string)
		description, _ := hit.Fields["description"].(string)
		entries = append(entries, Entry{Timestamp: timestamp, Description: description})
	}
	return entries, result.Total, nil
}

func (i *index) close() error {
	return i.bleve.Close()
}
