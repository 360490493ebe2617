package gtfsrt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/MrSnakeDoc/livefeed/internal/domain"
	"github.com/MrSnakeDoc/livefeed/internal/utils"
)

const acceptHeader = "application/x-protobuf, application/octet-stream;q=0.9, application/json;q=0.5"

// DefaultMaxBodyBytes caps a single feed payload. Large city feeds are a
// few megabytes.
const DefaultMaxBodyBytes = 64 << 20

// Fetcher retrieves the raw feed payload from an HTTP(S) URL or a local
// file. The caller's context bounds the whole operation, body read included.
type Fetcher struct {
	source     string
	filePath   string
	userAgent  string
	maxBytes   int64
	httpClient *http.Client
}

// NewFetcher creates a fetcher for source. Anything that isn't an
// http:// or https:// URL is treated as a file path; a file:// prefix is
// stripped.
func NewFetcher(source, userAgent string) *Fetcher {
	f := &Fetcher{
		source:     source,
		userAgent:  userAgent,
		maxBytes:   DefaultMaxBodyBytes,
		httpClient: &http.Client{},
	}
	if !isHTTP(source) {
		f.filePath = strings.TrimPrefix(source, "file://")
	}
	return f
}

// Fetch returns the payload bytes, or a *domain.NetworkError /
// *domain.UpstreamStatusError. A payload larger than the cap is a
// NetworkError.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	if f.filePath != "" {
		return f.readFile(ctx)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.source, http.NoBody)
	if err != nil {
		return nil, domain.NewNetworkError(f.source, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", acceptHeader)
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewNetworkError(f.source, err)
	}
	defer utils.DrainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.UpstreamStatusError{URL: f.source, StatusCode: resp.StatusCode}
	}

	return f.readAll(resp.Body)
}

func (f *Fetcher) readFile(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewNetworkError(f.source, err)
	}
	file, err := os.Open(f.filePath)
	if err != nil {
		return nil, domain.NewNetworkError(f.source, err)
	}
	defer func() { _ = file.Close() }()

	return f.readAll(file)
}

// readAll reads at most maxBytes, one extra byte tells an oversize payload
// apart from one of exactly the cap.
func (f *Fetcher) readAll(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, domain.NewNetworkError(f.source, fmt.Errorf("read body: %w", err))
	}
	if int64(len(body)) > f.maxBytes {
		return nil, domain.NewNetworkError(f.source, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, f.maxBytes))
	}
	return body, nil
}

// ErrBodyTooLarge is wrapped in the NetworkError of an oversize payload.
var ErrBodyTooLarge = errors.New("feed payload too large")

func isHTTP(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}
