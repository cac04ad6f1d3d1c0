package tools

import (
	"context"

	"github.com/vinayprograms/devsupport/analyzer"
	"github.com/vinayprograms/devsupport/errors"
)

// RegisterAnalyzeTool registers analyze_file. Paths are checked against the
// registry's policy.
func RegisterAnalyzeTool(r *Registry) {
	r.Register(&analyzeFileTool{registry: r})
}

// analyzeFileTool implements analyze_file.
type analyzeFileTool struct {
	registry *Registry
}

func (t *analyzeFileTool) Name() string { return "analyze_file" }

func (t *analyzeFileTool) Description() string {
	return "Report line count and whether a file contains TODOs, function definitions or comments."
}

func (t *analyzeFileTool) Parameters() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"file_path": map[string]interface{}{
			"type":        "string",
			"description": "Path to the file to analyze",
		},
	}, "file_path")
}

func (t *analyzeFileTool) Execute(ctx context.Context, args Args) (interface{}, error) {
	path, err := args.String("file_path")
	if err != nil {
		return nil, err
	}

	if allowed, reason := t.registry.Policy().CheckPath(t.Name(), path); !allowed {
		return nil, errors.PermissionDenied("policy denied: "+reason, errors.WithPath(path))
	}

	analysis, err := analyzer.AnalyzeFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}
