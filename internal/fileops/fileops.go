// Package fileops implements a remote filesystem on top of the raw REPL by
// generating small Python snippets and decoding what they print.
package fileops

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"micropython-service/internal/repl"
)

// DefaultReadChunk is the size of each remote read in Read and ReadBytes.
const DefaultReadChunk = 256

// Runner is the part of a REPL session the filesystem needs.
// *repl.Session implements it.
type Runner interface {
	WithRaw(ctx context.Context, name string, fn func(ctx context.Context) error) error
	Execute(ctx context.Context, code []byte, timeout time.Duration, onChunk repl.ChunkFunc) (*repl.ResponseFrame, error)
}

// ProgressFunc receives the percentage of an upload completed so far.
type ProgressFunc func(percent int)

// Options tunes transfers.
type Options struct {
	// UploadPlan sets the payload bytes per write execution and the pause
	// between executions.
	UploadPlan repl.ChunkPlan
	// ReadChunk is the remote read size.
	ReadChunk int
	// Timeout bounds each execution; zero waits forever.
	Timeout time.Duration
}

// DefaultOptions returns the transfer settings used when none are configured.
func DefaultOptions() Options {
	return Options{
		UploadPlan: repl.DefaultUploadPlan,
		ReadChunk:  DefaultReadChunk,
		Timeout:    30 * time.Second,
	}
}

// FS runs filesystem operations on the board behind a Runner.
type FS struct {
	runner  Runner
	options Options
	local   afero.Fs
	logger  *zap.Logger
}

// New creates an FS. local is the host filesystem used by Put and Get; nil
// means the OS filesystem.
func New(runner Runner, options Options, local afero.Fs, logger *zap.Logger) *FS {
	if local == nil {
		local = afero.NewOsFs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if options.ReadChunk <= 0 {
		options.ReadChunk = DefaultReadChunk
	}
	if options.UploadPlan.Size <= 0 {
		options.UploadPlan.Size = repl.DefaultUploadPlan.Size
	}
	return &FS{
		runner:  runner,
		options: options,
		local:   local,
		logger:  logger.With(zap.String("component", "fileops")),
	}
}

func pathRequired(op string) error {
	return repl.NewError(repl.KindPathRequired, op, nil, nil)
}

// exec runs one snippet as its own raw-mode operation and returns stdout.
// A traceback comes back as a *repl.RemoteError.
func (fs *FS) exec(ctx context.Context, op, code string) ([]byte, error) {
	var frame *repl.ResponseFrame
	err := fs.runner.WithRaw(ctx, op, func(ctx context.Context) error {
		var err error
		frame, err = fs.runner.Execute(ctx, []byte(code), fs.options.Timeout, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := frame.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return frame.Stdout, nil
}

// Exists reports whether path can be opened for reading.
func (fs *FS) Exists(ctx context.Context, path string) (bool, error) {
	if path == "" {
		return false, pathRequired("exists")
	}
	out, err := fs.exec(ctx, "exists", existsSnippet(path))
	if err != nil {
		return false, err
	}
	return decodeFlag("exists", out)
}

// List returns the names in dir, or an empty list when dir does not exist.
// An empty dir lists the board's current directory.
func (fs *FS) List(ctx context.Context, dir string) ([]string, error) {
	out, err := fs.exec(ctx, "list", listSnippet(dir))
	if err != nil {
		return nil, err
	}
	return decodeNameList("list", out)
}

// ListDetailed returns typed entries for dir, or none when dir does not exist.
func (fs *FS) ListDetailed(ctx context.Context, dir string) ([]DirEntry, error) {
	out, err := fs.exec(ctx, "list detailed", listDetailedSnippet(dir))
	if err != nil {
		return nil, err
	}
	return decodeEntries("list detailed", out)
}

// Read returns the text content of path with CRLF line endings turned
// into LF.
func (fs *FS) Read(ctx context.Context, path string) ([]byte, error) {
	if path == "" {
		return nil, pathRequired("read")
	}
	out, err := fs.exec(ctx, "read", readTextSnippet(path, fs.options.ReadChunk))
	if err != nil {
		return nil, err
	}
	return bytes.ReplaceAll(out, []byte("\r\n"), []byte("\n")), nil
}

// ReadBytes returns the exact content of path.
func (fs *FS) ReadBytes(ctx context.Context, path string) ([]byte, error) {
	if path == "" {
		return nil, pathRequired("read bytes")
	}
	out, err := fs.exec(ctx, "read bytes", readBinarySnippet(path, fs.options.ReadChunk))
	if err != nil {
		return nil, err
	}
	return decodeByteValues("read bytes", out)
}

// Write replaces path with content. The file is opened once, each upload
// chunk is written by its own execution, and the file is closed at the end.
// progress, if set, is called after every chunk. The returned output is the
// concatenated stdout of every execution.
func (fs *FS) Write(ctx context.Context, path string, content []byte, progress ProgressFunc) ([]byte, error) {
	if path == "" {
		return nil, pathRequired("write")
	}

	plan := fs.options.UploadPlan
	chunks := plan.Split(content)
	var output bytes.Buffer
	start := time.Now()

	err := fs.runner.WithRaw(ctx, "write", func(ctx context.Context) error {
		step := func(code string) error {
			frame, err := fs.runner.Execute(ctx, []byte(code), fs.options.Timeout, nil)
			if err != nil {
				return err
			}
			output.Write(frame.Stdout)
			return frame.Err()
		}

		if err := step(openWriteSnippet(path)); err != nil {
			return err
		}
		written := 0
		for i, chunk := range chunks {
			if i > 0 && plan.Delay > 0 {
				if err := pause(ctx, plan.Delay); err != nil {
					return err
				}
			}
			if err := step(writeChunkSnippet(chunk)); err != nil {
				return err
			}
			written += len(chunk)
			if progress != nil {
				progress(written * 100 / len(content))
			}
		}
		return step(closeWriteSnippet)
	})
	if err != nil {
		fs.logger.Error("Upload failed", zap.String("path", path), zap.Int("bytes", len(content)), zap.Error(err))
		return nil, fmt.Errorf("write %s: %w", path, err)
	}

	fs.logger.Info("Upload completed",
		zap.String("path", path),
		zap.Int("bytes", len(content)),
		zap.Int("chunks", len(chunks)),
		zap.Duration("duration", time.Since(start)),
	)
	return output.Bytes(), nil
}

// Save is Write with the content first.
func (fs *FS) Save(ctx context.Context, content []byte, path string, progress ProgressFunc) ([]byte, error) {
	return fs.Write(ctx, path, content, progress)
}

// Put uploads a host file to dest.
func (fs *FS) Put(ctx context.Context, src, dest string, progress ProgressFunc) ([]byte, error) {
	if src == "" || dest == "" {
		return nil, pathRequired("put")
	}
	content, err := afero.ReadFile(fs.local, src)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", src, err)
	}
	return fs.Write(ctx, dest, content, progress)
}

// Get downloads src to the host file dest and returns the byte count.
func (fs *FS) Get(ctx context.Context, src, dest string) (int, error) {
	if src == "" || dest == "" {
		return 0, pathRequired("get")
	}
	content, err := fs.ReadBytes(ctx, src)
	if err != nil {
		return 0, err
	}
	if err := afero.WriteFile(fs.local, dest, content, 0o644); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return len(content), nil
}

// Remove deletes a file and reports whether the board accepted it.
func (fs *FS) Remove(ctx context.Context, path string) (bool, error) {
	return fs.remove(ctx, "remove", path)
}

// Rmdir deletes an empty directory and reports whether the board accepted it.
func (fs *FS) Rmdir(ctx context.Context, path string) (bool, error) {
	return fs.remove(ctx, "rmdir", path)
}

func (fs *FS) remove(ctx context.Context, fn, path string) (bool, error) {
	if path == "" {
		return false, pathRequired(fn)
	}
	out, err := fs.exec(ctx, fn, removeSnippet(fn, path))
	if err != nil {
		return false, err
	}
	return decodeFlag(fn, out)
}

// Rename moves from to to. A remote OSError comes back as a
// *repl.RemoteError.
func (fs *FS) Rename(ctx context.Context, from, to string) error {
	if from == "" || to == "" {
		return pathRequired("rename")
	}
	_, err := fs.exec(ctx, "rename", renameSnippet(from, to))
	return err
}

// Mkdir creates a directory. A remote OSError comes back as a
// *repl.RemoteError.
func (fs *FS) Mkdir(ctx context.Context, path string) error {
	if path == "" {
		return pathRequired("mkdir")
	}
	_, err := fs.exec(ctx, "mkdir", mkdirSnippet(path))
	return err
}

func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
