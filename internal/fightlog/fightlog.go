// Package fightlog writes the optional, human-readable fight log and
// end-of-session JSON snapshot: os.MkdirAll with an explicit directory
// permission constant, path.Join-based target construction, and a
// pgzip-backed compressed archive of the finished log.
package fightlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	gzip "github.com/klauspost/pgzip"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DirectoryPermission is the mode used for newly created session
// directories, inlined since this repo has no defaults package of its
// own.
const DirectoryPermission = 0o755

// ErrWriterClosed is returned by Append, AppendProto and Snapshot after
// the session's log has already been finalized. Close itself is
// idempotent and returns nil when called again.
var ErrWriterClosed = errors.New("fightlog: writer already closed")

// Writer is an append-only UTF-8 text writer for one capture session's
// fight log, plus a JSON snapshot dump at session end.
type Writer struct {
	mu        sync.Mutex
	dir       string
	file      *os.File
	protoFile *os.File
	log       *zap.Logger
	closed    bool
}

// NewWriter creates <root>/<sessionID>/fight.log and returns a Writer
// appending to it. The pulsewatch command passes the session start time
// in Unix milliseconds as sessionID.
func NewWriter(root string, sessionID string, log *zap.Logger) (*Writer, error) {
	dir := path.Join(root, sessionID)

	if err := os.MkdirAll(dir, DirectoryPermission); err != nil {
		return nil, errors.Wrap(err, "fightlog: create session directory")
	}

	f, err := os.OpenFile(filepath.Join(dir, "fight.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "fightlog: open fight.log")
	}

	pf, err := os.OpenFile(filepath.Join(dir, "fight.pb"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "fightlog: open fight.pb")
	}

	return &Writer{dir: dir, file: f, protoFile: pf, log: log}, nil
}

// AppendProto writes ev's length-delimited protobuf encoding to fight.pb,
// the compact binary counterpart to Append's human-readable line.
func (w *Writer) AppendProto(ev *EventEnvelope) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	b, err := MarshalEnvelope(ev)
	if err != nil {
		return errors.Wrap(err, "fightlog: marshal envelope")
	}

	if _, err := w.protoFile.Write(b); err != nil {
		return errors.Wrap(err, "fightlog: append proto")
	}

	return nil
}

// Append writes one human-readable line to the fight log, prefixed with
// a wall-clock timestamp.
func (w *Writer) Append(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	_, err := fmt.Fprintf(w.file, "[%s] %s\n", time.Now().Format(time.RFC3339Nano), line)
	if err != nil {
		return errors.Wrap(err, "fightlog: append")
	}

	return nil
}

// Snapshot writes v as pretty-printed JSON to snapshot.json in the
// session directory. Called once at session end with the final
// combat.Snapshot() result.
func (w *Writer) Snapshot(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "fightlog: marshal snapshot")
	}

	if err := os.WriteFile(filepath.Join(w.dir, "snapshot.json"), b, 0o644); err != nil {
		return errors.Wrap(err, "fightlog: write snapshot")
	}

	return nil
}

// Close finalizes the session: closes fight.log and writes a
// gzip-compressed archive copy alongside it, keeping both the raw and
// compressed forms.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.file.Close(); err != nil {
		return errors.Wrap(err, "fightlog: close fight.log")
	}

	if err := w.protoFile.Close(); err != nil {
		return errors.Wrap(err, "fightlog: close fight.pb")
	}

	return w.compressLocked()
}

func (w *Writer) compressLocked() error {
	raw, err := os.ReadFile(filepath.Join(w.dir, "fight.log"))
	if err != nil {
		return errors.Wrap(err, "fightlog: read fight.log for archival")
	}

	archive, err := os.Create(filepath.Join(w.dir, "fight.log.gz"))
	if err != nil {
		return errors.Wrap(err, "fightlog: create archive")
	}
	defer archive.Close()

	gw := gzip.NewWriter(archive)
	defer gw.Close()

	if _, err := gw.Write(raw); err != nil {
		w.log.Warn("fightlog: failed to compress session log", zap.Error(err))

		return errors.Wrap(err, "fightlog: compress")
	}

	return nil
}
