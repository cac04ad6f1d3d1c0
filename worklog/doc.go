// Package worklog records free-form, timestamped notes about work done.
//
// Entries are appended to a JSON array file and indexed with Bleve so they
// can be searched by content. The file is the source of truth; the index is
// rebuilt from it when it is in memory or behind the file.
//
// Usage:
//
//	log, err := worklog.Open(worklog.Config{Path: "logs/work_log.json"})
//	if err != nil {
//	    return err
//	}
//	defer log.Close()
//
//	entry, err := log.Append(ctx, "reviewed the storage layer")
//	hits, total, err := log.Search(ctx, "storage", 10)
package worklog
