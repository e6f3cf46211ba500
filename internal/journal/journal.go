// Package journal keeps an on-disk history of watcher statuses in an
// embedded Pebble store. Entry keys embed a big-endian sequence so key
// order is append order, and values carry a CRC frame so a torn or
// corrupt entry is skipped rather than served.
package journal

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"vigil/internal/logging"
	"vigil/internal/status"
)

const trimBatchLimit = 1024

// ErrClosed is returned by every operation after Close. Reporters that
// race shutdown can test for it and stay quiet.
var ErrClosed = errors.New("journal is closed")

// Record is the persisted form of one status report. Seq is assigned
// per watcher on append and ascends across process restarts.
type Record struct {
	Seq         uint64           `json:"seq"`
	Watcher     string           `json:"watcher"`
	Kind        string           `json:"kind"`
	Severity    status.Severity  `json:"severity"`
	Time        time.Time        `json:"time"`
	Description string           `json:"description"`
	Lines       []status.LogLine `json:"lines,omitempty"`
}

// Journal is an append-only status history shared by all watchers.
// One mutex covers every operation; status rates are low and trims
// run rarely, so contention is not a concern here.
type Journal struct {
	db     *pebble.DB
	logger *logging.Logger

	mu      sync.Mutex
	lastSeq map[string]uint64
	closed  bool
}

// Open creates or reopens the store under dir. Commits are not synced
// per append; a clean Close loses nothing, a crash may drop the most
// recent statuses.
func Open(dir string, logger *logging.Logger) (*Journal, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("journal directory is required")
	}
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal at %s: %w", dir, err)
	}
	journal := &Journal{
		db:      db,
		logger:  logger.With(map[string]string{"component": "journal"}),
		lastSeq: make(map[string]uint64),
	}
	journal.logger.Debug("journal open", map[string]string{"dir": dir})
	return journal, nil
}

// Append stores one status under the next sequence for its watcher.
// The entry and the sequence metadata commit as a single batch.
func (j *Journal) Append(entry status.Status) (uint64, error) {
	if entry.Watcher == "" {
		return 0, errors.New("status has no watcher name")
	}
	if strings.ContainsRune(entry.Watcher, '/') {
		return 0, fmt.Errorf("watcher name %q must not contain '/'", entry.Watcher)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return 0, ErrClosed
	}

	seq, err := j.nextSeqLocked(entry.Watcher)
	if err != nil {
		return 0, err
	}

	payload, err := json.Marshal(Record{
		Seq:         seq,
		Watcher:     entry.Watcher,
		Kind:        entry.Kind,
		Severity:    entry.Severity,
		Time:        entry.Time,
		Description: entry.Description(),
		Lines:       entry.Lines,
	})
	if err != nil {
		return 0, err
	}

	batch := j.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(entryKey(entry.Watcher, seq), encodeValue(timeHeader(entry.Time), payload), nil); err != nil {
		return 0, err
	}
	if err := batch.Set(metaKey(entry.Watcher), appendBE8(nil, seq), nil); err != nil {
		return 0, err
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return 0, err
	}
	j.lastSeq[entry.Watcher] = seq
	return seq, nil
}

// nextSeqLocked returns the sequence to assign, loading the persisted
// counter on the first append for a watcher after open.
func (j *Journal) nextSeqLocked(watcher string) (uint64, error) {
	if last, ok := j.lastSeq[watcher]; ok {
		return last + 1, nil
	}
	value, closer, err := j.db.Get(metaKey(watcher))
	if errors.Is(err, pebble.ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	var last uint64
	if len(value) >= 8 {
		last = binary.BigEndian.Uint64(value[:8])
	}
	if err := closer.Close(); err != nil {
		return 0, err
	}
	return last + 1, nil
}

// ReadLast returns up to limit most recent records for a watcher in
// append order, oldest first. A limit of zero or less means all.
// Entries that fail the checksum or do not parse are skipped.
func (j *Journal) ReadLast(watcher string, limit int) ([]Record, error) {
	if watcher == "" {
		return nil, errors.New("watcher name is required")
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}

	low := entryKey(watcher, 0)
	high := entryKey(watcher, ^uint64(0))
	iter, err := j.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(high, 0x00)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var records []Record
	for ok := iter.Last(); ok && (limit <= 0 || len(records) < limit); ok = iter.Prev() {
		key := iter.Key()
		seq := binary.BigEndian.Uint64(key[len(key)-8:])
		_, payload, valid := decodeValue(iter.Value())
		if !valid {
			j.logger.Warn("skipping corrupt journal entry", map[string]string{
				"watcher": watcher,
				"seq":     strconv.FormatUint(seq, 10),
			})
			continue
		}
		var record Record
		if err := json.Unmarshal(payload, &record); err != nil {
			j.logger.Warn("skipping unreadable journal entry", map[string]string{
				"watcher": watcher,
				"seq":     strconv.FormatUint(seq, 10),
				"error":   err.Error(),
			})
			continue
		}
		record.Seq = seq
		records = append(records, record)
	}
	for left, right := 0, len(records)-1; left < right; left, right = left+1, right-1 {
		records[left], records[right] = records[right], records[left]
	}
	return records, nil
}

// Watchers lists the names with stored history, in byte order.
func (j *Journal) Watchers() ([]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}
	return j.watchersLocked()
}

func (j *Journal) watchersLocked() ([]string, error) {
	high := []byte(keyPrefix)
	high[len(high)-1]++
	iter, err := j.db.NewIter(&pebble.IterOptions{LowerBound: []byte(keyPrefix), UpperBound: high})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var names []string
	for ok := iter.First(); ok; {
		rest := iter.Key()[len(keyPrefix):]
		end := bytes.IndexByte(rest, '/')
		if end < 0 {
			ok = iter.Next()
			continue
		}
		name := string(rest[:end])
		names = append(names, name)
		// The meta key is the last key of a name's range; jump past it.
		ok = iter.SeekGE(append(metaKey(name), 0x00))
	}
	return names, nil
}

// TrimOlderThan deletes entries whose status time is before cutoff,
// committing in batches. The sequence metadata survives so numbering
// keeps ascending after a trim. Returns the number of deleted entries.
func (j *Journal) TrimOlderThan(cutoff time.Time) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return 0, ErrClosed
	}

	names, err := j.watchersLocked()
	if err != nil {
		return 0, err
	}
	cutoffMillis := cutoff.UnixMilli()
	deleted := 0
	for _, name := range names {
		n, err := j.trimWatcherLocked(name, cutoffMillis)
		deleted += n
		if err != nil {
			return deleted, err
		}
	}
	if deleted > 0 {
		j.logger.Debug("journal trimmed", map[string]string{
			"deleted": strconv.Itoa(deleted),
			"cutoff":  cutoff.UTC().Format(time.RFC3339),
		})
	}
	return deleted, nil
}

func (j *Journal) trimWatcherLocked(watcher string, cutoffMillis int64) (int, error) {
	low := entryKey(watcher, 0)
	high := entryKey(watcher, ^uint64(0))
	iter, err := j.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(high, 0x00)})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	deleted := 0
	batch := j.db.NewBatch()
	pending := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		header, _, valid := decodeValue(iter.Value())
		if valid {
			if millis, ok := headerMillis(header); ok && millis >= cutoffMillis {
				break
			}
		}
		// Entries are appended in time order, so everything up to the
		// first young one goes; undecodable values go with them.
		if err := batch.Delete(iter.Key(), nil); err != nil {
			batch.Close()
			return deleted, err
		}
		pending++
		if pending >= trimBatchLimit {
			if err := batch.Commit(pebble.NoSync); err != nil {
				batch.Close()
				return deleted, err
			}
			deleted += pending
			batch.Close()
			batch = j.db.NewBatch()
			pending = 0
		}
	}
	if pending > 0 {
		if err := batch.Commit(pebble.NoSync); err != nil {
			batch.Close()
			return deleted, err
		}
		deleted += pending
	}
	batch.Close()
	return deleted, nil
}

// Close flushes and closes the store. Safe to call more than once.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}
