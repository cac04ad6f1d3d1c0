package tools

import (
	"context"

	"github.com/vinayprograms/devsupport/errors"
	"github.com/vinayprograms/devsupport/worklog"
)

// LogWorkResult is the result of log_work.
type LogWorkResult struct {
	Timestamp   string `json:"timestamp,omitempty"`
	Description string `json:"description"`
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
}

// SearchResult is the result of search_work_log.
type SearchResult struct {
	Entries []worklog.Entry `json:"entries"`
	Total   uint64          `json:"total"`
}

// RegisterWorkLogTools registers log_work and search_work_log.
func RegisterWorkLogTools(r *Registry, log *worklog.Log) {
	r.Register(&logWorkTool{log: log})
	r.Register(&searchWorkLogTool{log: log})
}

// logWorkTool implements log_work.
type logWorkTool struct {
	log *worklog.Log
}

func (t *logWorkTool) Name() string { return "log_work" }

func (t *logWorkTool) Description() string {
	return "Append a timestamped entry describing work done to the work log."
}

func (t *logWorkTool) Parameters() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"description": map[string]interface{}{
			"type":        "string",
			"description": "What was done",
		},
	}, "description")
}

func (t *logWorkTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	description, err := args.String("description")
	if err != nil {
		return &LogWorkResult{Success: false, Message: errors.As(err).Message()}, nil
	}

	entry, err := t.log.Append(ctx, description)
	if err != nil {
		if errors.Is(err, errors.ErrCodeInvalidInput) {
			return &LogWorkResult{Description: description, Success: false, Message: errors.As(err).Message()}, nil
		}
		return nil, err
	}

	return &LogWorkResult{
		Timestamp:   entry.Timestamp,
		Description: entry.Description,
		Success:     true,
	}, nil
}

// searchWorkLogTool implements search_work_log.
type searchWorkLogTool struct {
	log *worklog.Log
}

func (t *searchWorkLogTool) Name() string { return "search_work_log" }

func (t *searchWorkLogTool) Description() string {
	return "Full-text search over work log entries, best match first."
}

func (t *searchWorkLogTool) Parameters() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"query": map[string]interface{}{
			"type":        "string",
			"description": "Words to search for",
		},
		"limit": map[string]interface{}{
			"type":        "integer",
			"description": "Maximum number of entries to return (default 10, max 100)",
			"minimum":     1,
		},
	}, "query")
}

func (t *searchWorkLogTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	query, err := args.String("query")
	if err != nil {
		return nil, err
	}
	limit, err := args.IntOr("limit", 0)
	if err != nil {
		return nil, err
	}

	entries, total, err := t.log.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return &SearchResult{Entries: entries, Total: total}, nil
}
