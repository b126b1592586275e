// Package blobcache implements the content-addressed archive cache from
// spec §4.1: world archives are downloaded once per (world_id, version),
// verified against an expected digest, and written atomically to a
// per-key path on the local filesystem. Concurrent requests for the same
// key collapse onto a single in-flight download, the same shape the
// content-addressed registry in the example pack uses for its Fetch path.
package blobcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/archipelago-lobby/lobby/internal/core"
)

// Key identifies one cached archive.
type Key struct {
	WorldID string
	Version string
}

func (k Key) filename() string {
	return fmt.Sprintf("%s-%s.apworld", k.WorldID, k.Version)
}

func (k Key) String() string {
	return k.WorldID + "@" + k.Version
}

// Blob is a cached archive: its local path and verified digest (spec §3:
// "a file keyed by (world_id, version) with a 32-byte content digest").
type Blob struct {
	Key    Key
	Path   string
	Digest string // hex-encoded sha256
}

// Resolver answers "where do I download this world/version from", sourced
// from the catalog snapshot in force at call time (C2). Decoupling the
// cache from the catalog package keeps blobcache testable without a full
// catalog fixture.
type Resolver interface {
	ResolveURL(worldID, version string) (string, error)
}

// Downloader fetches url into w. The production implementation is an
// *http.Client; tests substitute an in-memory fake.
type Downloader interface {
	Download(ctx context.Context, url string, w io.Writer) error
}

// HTTPDownloader is the production Downloader.
type HTTPDownloader struct {
	Client *http.Client
}

// Download performs a GET and copies the response body to w.
func (d *HTTPDownloader) Download(ctx context.Context, url string, w io.Writer) error {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// Cache is the blob cache from spec §4.1.
type Cache struct {
	baseDir    string
	resolver   Resolver
	downloader Downloader
	logger     *slog.Logger
	group      singleflight.Group
}

// New builds a Cache rooted at baseDir. baseDir must already exist.
func New(baseDir string, resolver Resolver, downloader Downloader, logger *slog.Logger) *Cache {
	if downloader == nil {
		downloader = &HTTPDownloader{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		baseDir:    baseDir,
		resolver:   resolver,
		downloader: downloader,
		logger:     logger.With("component", "blobcache"),
	}
}

// Get returns the cached Blob for key, downloading it on miss. If
// expectedDigest is non-empty and the downloaded content's digest does
// not match, the fetch is retried once; a second mismatch fails with
// core.KindCorrupt (spec §4.1).
func (c *Cache) Get(ctx context.Context, key Key, expectedDigest string) (Blob, error) {
	const op = "blobcache.get"

	path := filepath.Join(c.baseDir, key.filename())
	if digest, ok := c.verifyExisting(path, expectedDigest); ok {
		return Blob{Key: key, Path: path, Digest: digest}, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		return c.fetchWithRetry(ctx, key, path, expectedDigest)
	})
	if err != nil {
		return Blob{}, err
	}
	blob := v.(Blob)
	return blob, nil
}

// EnsureMany resolves every key concurrently-safe via Get and returns the
// full key→Blob map, or the first error encountered (spec §4.1
// ensure_many).
func (c *Cache) EnsureMany(ctx context.Context, requests map[Key]string) (map[Key]Blob, error) {
	out := make(map[Key]Blob, len(requests))
	for key, digest := range requests {
		blob, err := c.Get(ctx, key, digest)
		if err != nil {
			return nil, err
		}
		out[key] = blob
	}
	return out, nil
}

// verifyExisting checks whether path already holds content matching
// expectedDigest (or any content, if no digest was supplied). It never
// returns an error: a missing or unreadable file is simply a cache miss.
func (c *Cache) verifyExisting(path, expectedDigest string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	digest, err := digestOf(f)
	if err != nil {
		return "", false
	}
	if expectedDigest != "" && digest != expectedDigest {
		return "", false
	}
	return digest, true
}

func (c *Cache) fetchWithRetry(ctx context.Context, key Key, path, expectedDigest string) (interface{}, error) {
	const op = "blobcache.fetch"

	url, err := c.resolver.ResolveURL(key.WorldID, key.Version)
	if err != nil {
		return nil, core.NewError(core.KindNotFound, op, "resolve archive url", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		digest, err := c.downloadOnce(ctx, url, path)
		if err != nil {
			lastErr = err
			continue
		}
		if expectedDigest != "" && digest != expectedDigest {
			lastErr = core.NewError(core.KindCorrupt, op,
				fmt.Sprintf("digest mismatch for %s: want %s got %s", key, expectedDigest, digest), nil)
			c.logger.Warn("blob digest mismatch", "key", key.String(), "attempt", attempt+1)
			continue
		}
		c.logger.Info("blob cached", "key", key.String(), "digest", digest)
		return Blob{Key: key, Path: path, Digest: digest}, nil
	}

	if core.IsKind(lastErr, core.KindCorrupt) {
		return nil, lastErr
	}
	return nil, core.NewError(core.KindTransient, op, "download archive", lastErr)
}

func (c *Cache) downloadOnce(ctx context.Context, url, path string) (string, error) {
	tmp, err := os.CreateTemp(c.baseDir, ".download-*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hasher := sha256.New()
	if err := c.downloader.Download(ctx, url, io.MultiWriter(tmp, hasher)); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	if err := os.Rename(tmpPath, path); err != nil {
		return "", err
	}
	return digest, nil
}

func digestOf(r io.Reader) (string, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// ExpandURL substitutes {{version}} in a templated default_url, matching
// the per-world descriptor format from spec §4.2.
func ExpandURL(template, version string) string {
	return strings.ReplaceAll(template, "{{version}}", version)
}
