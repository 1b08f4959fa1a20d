// SPDX-License-Identifier: GPL-2.0-or-later

package log

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const dbAPIversion = "1"

const defaultMaxKeys = 100000

// NewDB new log database.
func NewDB(dbPath string, wg *sync.WaitGroup) *DB {
	return &DB{
		dbPath:  dbPath,
		maxKeys: defaultMaxKeys,

		wg:     wg,
		saveWG: &sync.WaitGroup{},
	}
}

// DB log database.
type DB struct {
	dbPath  string
	maxKeys int

	db *bolt.DB
	wg *sync.WaitGroup

	// Keep track of the previous entry time to ensure
	// that the next entry will have a unique key.
	prevEntryTime UnixMicro

	// Wait for last log to be saved before closing db.
	saveWG *sync.WaitGroup
}

// Init opens the database, it is closed when ctx is canceled.
func (logDB *DB) Init(ctx context.Context) error {
	dbOpts := &bolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bolt.Open(logDB.dbPath, 0o600, dbOpts)
	if err != nil {
		return fmt.Errorf("open database: %w: %v", err, logDB.dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(dbAPIversion))
		return err
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("create bucket: %v, %w", dbAPIversion, err)
	}

	logDB.db = db

	logDB.wg.Add(1)
	go func() {
		<-ctx.Done()
		logDB.saveWG.Wait()
		db.Close()
		logDB.wg.Done()
	}()

	return nil
}

// SaveLogs saves logs from the logger into the database until ctx is canceled.
func (logDB *DB) SaveLogs(ctx context.Context, l *Logger) {
	feed, cancel := l.Subscribe()
	defer cancel()

	logDB.saveWG.Add(1)
	defer logDB.saveWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-feed:
			if !ok {
				return
			}
			if err := logDB.saveLog(entry); err != nil {
				fmt.Fprintf(os.Stderr, "could not save log: %v %v\n", entry.Msg, err)
			}
		}
	}
}

func (logDB *DB) saveLog(entry Entry) error {
	if entry.Time <= logDB.prevEntryTime {
		entry.Time = logDB.prevEntryTime + 1
	}
	logDB.prevEntryTime = entry.Time

	key := encodeKey(uint64(entry.Time))
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	return logDB.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dbAPIversion))

		if b.Stats().KeyN >= logDB.maxKeys {
			if err := deleteFirstKey(b); err != nil {
				return fmt.Errorf("delete first key: %w", err)
			}
		}
		return b.Put(key, value)
	})
}

func deleteFirstKey(b *bolt.Bucket) error {
	k, _ := b.Cursor().First()
	return b.Delete(k)
}

// Query database query.
type Query struct {
	Levels  []Level
	Time    UnixMicro // Only entries before this time, zero means now.
	Sources []string
	Files   []string
	Limit   int
}

// Query returns matching entries, newest first.
func (logDB *DB) Query(q Query) ([]Entry, error) {
	var entries []Entry

	limit := q.Limit
	if limit == 0 {
		limit = defaultMaxKeys
	}

	err := logDB.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(dbAPIversion)).Cursor()

		var key, value []byte
		if q.Time == 0 {
			key, value = c.Last()
		} else {
			if k, _ := c.Seek(encodeKey(uint64(q.Time))); k == nil {
				key, value = c.Last()
			} else {
				key, value = c.Prev()
			}
		}

		for ; key != nil && len(entries) < limit; key, value = c.Prev() {
			var entry Entry
			if err := json.Unmarshal(value, &entry); err != nil {
				return fmt.Errorf("unmarshal entry: %w", err)
			}
			if !LevelInLevels(entry.Level, q.Levels) ||
				!StringInStrings(entry.Src, q.Sources) ||
				!StringInStrings(entry.File, q.Files) {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// LevelInLevels returns true if level is in levels or if levels is empty.
func LevelInLevels(level Level, levels []Level) bool {
	if len(levels) == 0 {
		return true
	}
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}

// StringInStrings returns true if source is in sources or if sources is empty.
func StringInStrings(source string, sources []string) bool {
	if len(sources) == 0 {
		return true
	}
	for _, src := range sources {
		if src == source {
			return true
		}
	}
	return false
}

func encodeKey(key uint64) []byte {
	output := make([]byte, 8)
	binary.BigEndian.PutUint64(output, key)
	return output
}
