package worklog

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vinayprograms/devsupport/bus"
	"github.com/vinayprograms/devsupport/errors"
	"github.com/vinayprograms/devsupport/jsonfile"
	"github.com/vinayprograms/devsupport/logging"
)

// Entry is one work log record.
type Entry struct {
	Timestamp   string `json:"timestamp"`
	Description string `json:"description"`
}

// Config configures a Log.
type Config struct {
	// Path is the JSON array file holding every entry.
	Path string

	// IndexPath is the Bleve index directory. Empty keeps the index in memory.
	IndexPath string

	Logger *logging.Logger
	Clock  func() time.Time

	// Events, when set, receives worklog.logged after each append.
	Events *bus.Emitter
}

// Log is an append-only work log with full-text search.
// It is safe for concurrent use.
type Log struct {
	path   string
	mu     sync.Mutex
	index  *index
	now    func() time.Time
	logger *logging.Logger
	events *bus.Emitter
}

// Open opens the log at cfg.Path and brings its index up to date.
// A corrupt log file does not prevent opening: the index starts empty and
// Append reports CORRUPT_STATE until the file is repaired.
func Open(cfg Config) (*Log, error) {
	if cfg.Path == "" {
		return nil, errors.InvalidInput("work log path is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	idx, err := openIndex(cfg.IndexPath)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeIO, "open work log index", errors.WithPath(cfg.IndexPath))
	}

	l := &Log{
		path:   cfg.Path,
		index:  idx,
		now:    cfg.Clock,
		logger: cfg.Logger.WithComponent("worklog"),
		events: cfg.Events,
	}

	entries, err := l.read()
	if err != nil {
		l.logger.Warn("work_log_unreadable", map[string]interface{}{
			"path":  l.path,
			"code":  errors.Code(err),
			"error": err.Error(),
		})
		return l, nil
	}
	if err := l.index.catchUp(entries); err != nil {
		idx.close()
		return nil, errors.WrapWithCode(err, errors.ErrCodeIO, "rebuild work log index", errors.WithPath(cfg.IndexPath))
	}
	return l, nil
}

// Path returns the log file location.
func (l *Log) Path() string {
	return l.path
}

// Append records description with the current time and persists the log
// before returning.
func (l *Log) Append(ctx context.Context, description string) (Entry, error) {
	if strings.TrimSpace(description) == "" {
		return Entry{}, errors.InvalidInput("description must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, errors.Wrap(err, "append work log entry")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Other processes append to the same file.
	lock, err := jsonfile.LockFile(ctx, l.path+".lock", appendLockTimeout)
	if err != nil {
		switch {
		case stderrors.Is(err, jsonfile.ErrLockTimeout):
			return Entry{}, errors.ResourceBusy("work log is locked by another process", errors.WithPath(l.path))
		case ctx.Err() != nil:
			return Entry{}, errors.Wrap(ctx.Err(), "wait for work log lock")
		default:
			return Entry{}, errors.WrapWithCode(err, errors.ErrCodeIO, "lock work log", errors.WithPath(l.path))
		}
	}
	defer lock.Unlock()

	entries, err := l.read()
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{
		Timestamp:   l.now().UTC().Format(time.RFC3339Nano),
		Description: description,
	}
	entries = append(entries, entry)

	data, err := jsonfile.MarshalStable(entries)
	if err != nil {
		return Entry{}, errors.Wrap(err, "encode work log")
	}
	if err := jsonfile.WriteAtomic(l.path, data, 0o644); err != nil {
		return Entry{}, errors.WrapWithCode(err, errors.ErrCodeIO, "write work log", errors.WithPath(l.path))
	}

	// The file is authoritative; a lagging index is caught up on next open.
	if err := l.index.add(len(entries)-1, entry); err != nil {
		l.logger.Warn("work_log_index_failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	l.logger.WorkLogged(entry.Timestamp)
	l.events.Emit(bus.EventWorkLogged, entry)
	return entry, nil
}

// Entries returns every entry in append order.
func (l *Log) Entries(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "read work log")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

// Search returns up to limit entries whose description matches query, best
// match first, and the total number of matches.
func (l *Log) Search(ctx context.Context, query string, limit int) ([]Entry, uint64, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, 0, errors.InvalidInput("query must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "search work log")
	}

	entries, total, err := l.index.search(ctx, query, clampLimit(limit))
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, errors.Wrap(ctx.Err(), "search work log")
		}
		return nil, 0, errors.WrapWithCode(err, errors.ErrCodeIO, "search work log")
	}
	return entries, total, nil
}

// Close releases the index.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.index.close()
}

// read loads the log file. A missing file is an empty log.
func (l *Log) read() ([]Entry, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, errors.WrapWithCode(err, errors.ErrCodeIO, "read work log", errors.WithPath(l.path))
	}

	var entries []Entry
	if err := jsonfile.Decode(data, &entries); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCorruptState, "work log is not a valid JSON array of entries", errors.WithPath(l.path))
	}
	if entries == nil {
		return nil, errors.CorruptState("work log is null", errors.WithPath(l.path))
	}
	return entries, nil
}

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100

	appendLockTimeout = 5 * time.Second
)

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultSearchLimit
	case limit > maxSearchLimit:
		return maxSearchLimit
	default:
		return limit
	}
}

func docID(position int) string {
	return strconv.Itoa(position)
}
