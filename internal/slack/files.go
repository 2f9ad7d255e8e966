package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"slackbridge/internal/domain"
	"slackbridge/internal/metrics"
)

// DefaultMaxFileSize caps individual attachment downloads.
const DefaultMaxFileSize = 20 * 1024 * 1024 // 20 MiB

// DefaultFileTTL is how long fetched attachments stay on disk.
const DefaultFileTTL = 7 * 24 * time.Hour

// FileFetcher downloads event attachments into a directory tree namespaced
// by conversation and event id, and sweeps aged-out entries on a timer.
type FileFetcher struct {
	api     fileAPI
	baseDir string
	maxSize int64
	ttl     time.Duration
	logger  *slog.Logger
}

type FileFetcherOptions struct {
	API     fileAPI
	BaseDir string
	MaxSize int64
	TTL     time.Duration
	Logger  *slog.Logger
}

func NewFileFetcher(opts FileFetcherOptions) *FileFetcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultFileTTL
	}
	return &FileFetcher{
		api:     opts.API,
		baseDir: opts.BaseDir,
		maxSize: maxSize,
		ttl:     ttl,
		logger:  logger,
	}
}

// Fetch downloads each referenced attachment. Failures are per-file: a bad
// reference is logged and omitted from the result, never aborting the rest.
// Re-fetching the same event reuses files already stored for it.
func (f *FileFetcher) Fetch(ctx context.Context, conversationID, eventID string, refs []domain.FileRef) []domain.Attachment {
	dir := filepath.Join(f.baseDir, safePathComponent(conversationID), safePathComponent(eventID))
	var out []domain.Attachment
	for _, ref := range refs {
		att, err := f.fetchOne(ctx, dir, ref)
		if err != nil {
			metrics.Collector.Counter("slackbridge_files_skipped_total", "Attachments skipped or failed", "").Inc()
			f.logger.Warn("attachment skipped", "conversation", conversationID, "event", eventID, "file", ref.Name, "err", err)
			continue
		}
		metrics.Collector.Counter("slackbridge_files_fetched_total", "Attachments downloaded", "").Inc()
		out = append(out, att)
	}
	return out
}

func (f *FileFetcher) fetchOne(ctx context.Context, dir string, ref domain.FileRef) (domain.Attachment, error) {
	if ref.DownloadURL == "" {
		return domain.Attachment{}, errors.New("no download url")
	}
	if ref.Size > f.maxSize {
		return domain.Attachment{}, fmt.Errorf("declared size %d exceeds cap %d", ref.Size, f.maxSize)
	}
	name := ref.Name
	if name == "" {
		name = ref.ID
	}
	path := filepath.Join(dir, safePathComponent(name))
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		// Already stored for this event (e.g. an edit re-delivered the refs).
		return domain.Attachment{Name: name, MimeType: ref.MimeType, Size: info.Size(), Path: path}, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.Attachment{}, fmt.Errorf("create attachment dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("create temp file: %w", err)
	}
	if err := f.api.GetFileContext(ctx, ref.DownloadURL, tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return domain.Attachment{}, fmt.Errorf("download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return domain.Attachment{}, err
	}
	info, err := os.Stat(tmp.Name())
	if err != nil {
		os.Remove(tmp.Name())
		return domain.Attachment{}, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return domain.Attachment{}, fmt.Errorf("store attachment: %w", err)
	}
	// Trust the stored byte count, not the declared size.
	return domain.Attachment{Name: name, MimeType: ref.MimeType, Size: info.Size(), Path: path}, nil
}

// Sweep removes event directories older than the TTL and prunes conversation
// directories left empty. It only touches aged-out directories, so running
// concurrently with ingestion is safe.
func (f *FileFetcher) Sweep(now time.Time) {
	cutoff := now.Add(-f.ttl)
	convs, err := os.ReadDir(f.baseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			f.logger.Warn("attachment sweep failed", "dir", f.baseDir, "err", err)
		}
		return
	}
	for _, conv := range convs {
		if !conv.IsDir() {
			continue
		}
		convDir := filepath.Join(f.baseDir, conv.Name())
		events, err := os.ReadDir(convDir)
		if err != nil {
			continue
		}
		remaining := len(events)
		for _, event := range events {
			info, err := event.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			path := filepath.Join(convDir, event.Name())
			if err := os.RemoveAll(path); err != nil {
				f.logger.Warn("cannot remove aged attachment dir", "path", path, "err", err)
				continue
			}
			remaining--
		}
		if remaining == 0 {
			os.Remove(convDir)
		}
	}
}

// RunSweeper sweeps on a fixed interval until ctx is done. The timer is
// independent of message flow.
func (f *FileFetcher) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			f.Sweep(time.Now())
		}
	}
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// safePathComponent makes an id usable as a single path element.
func safePathComponent(s string) string {
	s = unsafePathChars.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
