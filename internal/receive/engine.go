package receive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/landrop-server/landrop-server/internal/models"
	"github.com/landrop-server/landrop-server/internal/registry"
)

const partDir = ".landrop-part"

// Engine persists inbound file bytes under the download directory.
//
// Writes are strictly append-only: a chunk is accepted only when its start
// offset equals the current on-disk size, so duplicate or out-of-order
// delivery can be rejected but can never corrupt the file. Partial files
// live in a per-session staging directory and are moved to their final
// name once complete.
type Engine struct {
	dir    string
	verify bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a receipt engine rooted at dir
func NewEngine(dir string, verifyChecksums bool) *Engine {
	return &Engine{
		dir:    dir,
		verify: verifyChecksums,
		locks:  make(map[string]*sync.Mutex),
	}
}

// fileLock returns the mutex serializing all writes to one file. The
// offset check is only meaningful while no other writer can move the
// on-disk size, so the lock spans check, copy and finalize.
func (e *Engine) fileLock(sessionID, fileID string) *sync.Mutex {
	key := sessionID + "/" + fileID
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}

// partPath is the deterministic staging location of a file while it is
// being received. Resume probes and writes must agree on it.
func (e *Engine) partPath(sessionID, fileID string) string {
	// file ids come off the wire; never let them escape the staging dir
	return filepath.Join(e.dir, partDir, sessionID, sanitize(fileID))
}

// Probe reports whether a partial file exists and its current size,
// letting the sender compute the next write offset. Read-only.
func (e *Engine) Probe(sessionID, fileID string) (int64, bool, error) {
	info, err := os.Stat(e.partPath(sessionID, fileID))
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("stat partial file: %w", err)
	}
	return info.Size(), true, nil
}

// WriteResult describes the outcome of one upload call.
type WriteResult struct {
	Written   int64
	Size      int64
	Complete  bool
	FinalPath string
}

// Write appends body bytes for the given file. offset < 0 means the call
// carried no byte range: the file is (re)written from the start. A
// non-negative offset must exactly match the current on-disk size or the
// write is rejected with ErrRangeInvalid and the file is left untouched.
//
// When the on-disk size reaches the declared size the file is verified
// (if enabled and a checksum was declared) and moved to its final name.
//
// abort is polled between chunks; a non-nil return stops the write
// mid-body. Used to abort uploads whose session was cancelled
// concurrently.
//
// Concurrent writes for the same file are serialized; of two duplicate
// chunks exactly one is accepted, the other fails the offset check.
func (e *Engine) Write(ctx context.Context, sessionID string, info models.FileMetadata, offset int64, body io.Reader, abort func() error) (WriteResult, error) {
	var res WriteResult

	lock := e.fileLock(sessionID, info.ID)
	lock.Lock()
	defer lock.Unlock()

	path := e.partPath(sessionID, info.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return res, fmt.Errorf("create staging dir: %w", err)
	}

	current, _, err := e.Probe(sessionID, info.ID)
	if err != nil {
		return res, err
	}

	flags := os.O_CREATE | os.O_WRONLY
	switch {
	case offset < 0:
		// no range: a plain upload replaces whatever partial state exists
		flags |= os.O_TRUNC
		offset = 0
	case offset != current:
		return res, fmt.Errorf("offset %d, on-disk size %d: %w", offset, current, registry.ErrRangeInvalid)
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return res, fmt.Errorf("open partial file: %w", err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return res, fmt.Errorf("seek to offset: %w", err)
	}

	written, err := copyChunks(ctx, f, body, abort)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return res, fmt.Errorf("write body: %w", err)
	}
	res.Written = written
	res.Size = offset + written

	if res.Size < info.Size {
		return res, nil
	}

	if e.verify && info.SHA256 != "" {
		if err := e.verifyChecksum(path, info.SHA256); err != nil {
			return res, err
		}
	}

	finalPath, err := e.finalize(path, info.FileName)
	if err != nil {
		return res, err
	}
	res.Complete = true
	res.FinalPath = finalPath

	log.Info().
		Str("file", info.FileName).
		Str("path", finalPath).
		Int64("size", res.Size).
		Msg("File received")

	return res, nil
}

// Discard removes the staging directory of a session and drops its
// file locks. Called on cancel.
func (e *Engine) Discard(sessionID string) {
	e.mu.Lock()
	for key := range e.locks {
		if strings.HasPrefix(key, sessionID+"/") {
			delete(e.locks, key)
		}
	}
	e.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(e.dir, partDir, sessionID)); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("Failed to discard partial files")
	}
}

// finalize moves a complete partial file to a collision-safe name in the
// download directory.
func (e *Engine) finalize(partial, fileName string) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	name := sanitize(fileName)
	if name == "" {
		name = "received"
	}
	target := filepath.Join(e.dir, name)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(target); os.IsNotExist(err) {
			break
		}
		target = filepath.Join(e.dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
	}

	if err := os.Rename(partial, target); err != nil {
		return "", fmt.Errorf("move received file: %w", err)
	}
	return target, nil
}

// verifyChecksum compares the file's SHA-256 digest with the declared one.
func (e *Engine) verifyChecksum(path, declared string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash file: %w", err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, declared) {
		return fmt.Errorf("checksum mismatch: declared %s, got %s", declared, got)
	}
	return nil
}

// copyChunks copies in chunks, stopping between chunks when the context
// is cancelled or the abort check fails.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, abort func() error) (int64, error) {
	buf := make([]byte, 128*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if abort != nil {
			if err := abort(); err != nil {
				return written, err
			}
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if wn < n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// sanitize strips path separators and traversal sequences from names that
// arrive over the network.
func sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimLeft(name, ".")
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, name)
}
