package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrFetchStatus = errors.New("host: unexpected fetch status")
	ErrEmptySource    = errors.New("host: fetched source is empty")
	ErrSourceTooLarge = errors.New("host: source exceeds size limit")
)

// DefaultFetchTimeout bounds one source fetch when the fetcher has no client.
const DefaultFetchTimeout = 10 * time.Second

// MaxSourceSize bounds a worker source read from any origin.
const MaxSourceSize = 4 << 20

// ScriptIndex resolves selector-style names to inline worker source.
type ScriptIndex interface {
	Lookup(selector string) (string, bool)
}

// MapIndex is a ScriptIndex over a fixed set of inline sources.
type MapIndex map[string]string

func (m MapIndex) Lookup(selector string) (string, bool) {
	text, ok := m[strings.TrimSpace(selector)]
	return text, ok
}

// DirIndex resolves "#name" selectors to Dir/name.js.
type DirIndex struct {
	Dir string
}

func (d DirIndex) Lookup(selector string) (string, bool) {
	selector = strings.TrimSpace(selector)
	name, ok := strings.CutPrefix(selector, "#")
	if !ok || name == "" || strings.ContainsAny(name, `/\`) || d.Dir == "" {
		return "", false
	}
	data, err := os.ReadFile(filepath.Join(d.Dir, name+".js"))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Fetcher loads worker source from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// HTTPFetcher fetches http(s) URLs with Client. file:// URLs are read as
// given; bare paths are read relative to BaseDir when it is set.
type HTTPFetcher struct {
	Client  *http.Client
	BaseDir string
}

func NewHTTPFetcher(timeout time.Duration, baseDir string) HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return HTTPFetcher{
		Client:  &http.Client{Timeout: timeout},
		BaseDir: baseDir,
	}
}

func (f HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("host: parse source url: %w", err)
	}
	var text string
	switch u.Scheme {
	case "http", "https":
		text, err = f.fetchHTTP(ctx, u.String())
	case "file":
		text, err = readFile(u.Path)
	case "":
		text, err = readFile(f.resolve(rawURL))
	default:
		return "", fmt.Errorf("host: unsupported source scheme %q", u.Scheme)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptySource
	}
	return text, nil
}

func (f HTTPFetcher) fetchHTTP(ctx context.Context, target string) (string, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s", ErrFetchStatus, resp.Status)
	}
	return readLimited(resp.Body)
}

// resolve treats bare paths, rooted or not, as relative to BaseDir.
func (f HTTPFetcher) resolve(path string) string {
	if f.BaseDir == "" {
		return path
	}
	return filepath.Join(f.BaseDir, filepath.FromSlash(path))
}

func readFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return readLimited(f)
}

// readLimited reads one byte past MaxSourceSize so an oversized source fails
// instead of being cut short.
func readLimited(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSourceSize+1))
	if err != nil {
		return "", err
	}
	if len(data) > MaxSourceSize {
		return "", fmt.Errorf("%w: more than %d bytes", ErrSourceTooLarge, MaxSourceSize)
	}
	return string(data), nil
}
