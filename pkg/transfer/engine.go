package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/semaphore"

	"plexmover/pkg/logger"
	"plexmover/pkg/sshpool"
)

// ExistenceCache remembers which remote paths are already present with what
// size, so re-runs skip files without a remote round trip. Nil disables it.
type ExistenceCache interface {
	Get(ctx context.Context, hostID, remotePath string) (size int64, ok bool)
	Put(ctx context.Context, hostID, remotePath string, size int64)
}

// Engine drives one SCP-style transfer over an already acquired session.
// The file is streamed to a hidden temp path, verified, then renamed into
// place; a failed attempt never leaves a partial file at the destination.
type Engine struct {
	cache ExistenceCache

	// checks bounds concurrent remote existence stats; a cache-miss storm at
	// the start of a large batch must not flood the hosts.
	checks *semaphore.Weighted
	log    *logger.Logger
}

func NewEngine(cache ExistenceCache, maxConcurrentChecks int) *Engine {
	if maxConcurrentChecks <= 0 {
		maxConcurrentChecks = 10
	}
	return &Engine{
		cache:  cache,
		checks: semaphore.NewWeighted(int64(maxConcurrentChecks)),
		log:    logger.NewDefault(),
	}
}

// Transfer moves job's source file to its destination over sess. The result
// status is Success only when the transferred byte count matches the expected
// size. Attempt accounting is the retry coordinator's business.
func (e *Engine) Transfer(ctx context.Context, job *Job, sess sshpool.Session) Result {
	start := time.Now()

	fail := func(kind ErrorKind, msg string, cause error) Result {
		err := newError(kind, msg, cause)
		return Result{
			JobID:     job.ID,
			Status:    StatusFailed,
			Elapsed:   time.Since(start),
			ErrorKind: kind,
			Error:     err.Error(),
		}
	}
	success := func(bytes int64) Result {
		return Result{
			JobID:            job.ID,
			Status:           StatusSuccess,
			BytesTransferred: bytes,
			Elapsed:          time.Since(start),
		}
	}

	info, err := os.Stat(job.SourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return fail(KindLocalSourceMissing, "local source file missing", err)
		}
		return fail(KindIOError, "stat local file", err)
	}

	expected := job.ExpectedSize
	if expected == 0 {
		expected = info.Size()
	}
	if info.Size() != expected {
		return fail(KindSizeMismatch, fmt.Sprintf("local size %d does not match expected %d", info.Size(), expected), nil)
	}

	destPath := path.Clean(job.DestPath)
	if destPath == "" || destPath == "." || destPath == "/" {
		return fail(KindInvalidDestination, "destination path is empty", nil)
	}

	fs := sess.Files()

	if e.alreadyPresent(ctx, fs, job.DestHostID, destPath, expected) {
		e.log.Info("destination already up to date, skipping upload", map[string]any{
			"host": job.DestHostID,
			"path": destPath,
		})
		return success(expected)
	}

	localHash, err := hashFile(job.SourcePath)
	if err != nil {
		return fail(KindIOError, "hash local file", err)
	}
	if job.ExpectedChecksum != "" && localHash != job.ExpectedChecksum {
		return fail(KindChecksumMismatch, fmt.Sprintf("local checksum %s does not match expected %s", localHash, job.ExpectedChecksum), nil)
	}

	tempPath := tempKey(destPath, localHash)

	cleanup := func() {
		if err := fs.Remove(tempPath); err != nil && !os.IsNotExist(err) {
			e.log.Warn("failed to remove partial upload", map[string]any{
				"host":  job.DestHostID,
				"path":  tempPath,
				"error": err.Error(),
			})
		}
	}

	if err := fs.MkdirAll(path.Dir(destPath)); err != nil {
		return fail(classify(err), "create remote directory", err)
	}

	written, err := e.upload(ctx, fs, job.SourcePath, tempPath, localHash)
	if err != nil {
		cleanup()
		return fail(KindOf(err), "upload file", err)
	}
	if written != expected {
		cleanup()
		return fail(KindSizeMismatch, fmt.Sprintf("transferred %d bytes, expected %d", written, expected), nil)
	}

	stat, err := fs.Stat(tempPath)
	if err != nil {
		cleanup()
		return fail(classify(err), "stat uploaded file", err)
	}
	if stat.Size() != expected {
		cleanup()
		return fail(KindSizeMismatch, fmt.Sprintf("remote size %d, expected %d", stat.Size(), expected), nil)
	}

	if err := fs.Rename(tempPath, destPath); err != nil {
		cleanup()
		return fail(classify(err), "rename uploaded file", err)
	}

	if e.cache != nil {
		e.cache.Put(ctx, job.DestHostID, destPath, expected)
	}

	return success(written)
}

// alreadyPresent checks the cache and then the remote host for a destination
// file that already matches the expected size.
func (e *Engine) alreadyPresent(ctx context.Context, fs sshpool.FS, hostID, destPath string, expected int64) bool {
	if e.cache != nil {
		if size, ok := e.cache.Get(ctx, hostID, destPath); ok && size == expected {
			return true
		}
	}

	if err := e.checks.Acquire(ctx, 1); err != nil {
		return false
	}
	stat, err := fs.Stat(destPath)
	e.checks.Release(1)
	if err != nil || stat.Size() != expected {
		return false
	}
	if e.cache != nil {
		e.cache.Put(ctx, hostID, destPath, expected)
	}
	return true
}

// upload streams the local file to the remote temp path, hashing the bytes as
// they go. A digest drift from the pre-upload hash means the source changed
// underneath us.
func (e *Engine) upload(ctx context.Context, fs sshpool.FS, localPath, tempPath, wantHash string) (int64, error) {
	local, err := os.Open(localPath)
	if err != nil {
		return 0, newError(KindIOError, "open local file", err)
	}
	defer func() { _ = local.Close() }()

	remote, err := fs.Create(tempPath)
	if err != nil {
		return 0, err
	}

	digest := xxhash.New()
	written, copyErr := copyWithContext(ctx, io.MultiWriter(remote, digest), local)
	closeErr := remote.Close()

	if copyErr != nil {
		return written, copyErr
	}
	if closeErr != nil {
		return written, closeErr
	}
	if got := fmt.Sprintf("%016x", digest.Sum64()); got != wantHash {
		return written, newError(KindChecksumMismatch, fmt.Sprintf("streamed checksum %s does not match %s", got, wantHash), nil)
	}
	return written, nil
}

func hashFile(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer func() { _ = file.Close() }()

	h := xxhash.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// tempKey hides an in-flight upload as a dotfile next to its destination.
func tempKey(destPath, hash string) string {
	dir := path.Dir(destPath)
	tempName := fmt.Sprintf(".%s.%s", path.Base(destPath), hash)
	if dir == "." {
		return tempName
	}
	return path.Join(dir, tempName)
}

type readerFunc func(p []byte) (n int, err error)

func (rf readerFunc) Read(p []byte) (n int, err error) { return rf(p) }

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, readerFunc(func(p []byte) (int, error) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
			return src.Read(p)
		}
	}))
}
