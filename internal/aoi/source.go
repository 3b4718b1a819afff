package aoi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// defaultMaxSourceBytes caps fetched AOI documents. Regions are small; a
// multi-hundred-megabyte response is a wrong URL, not an AOI.
const defaultMaxSourceBytes = 64 << 20

// Loader resolves AOI sources: local file paths and http(s) URLs, in KML or
// GeoJSON form. The zero value reads files only.
type Loader struct {
	// HTTP enables URL sources when set.
	HTTP *http.Client
	// MaxBytes caps a fetched document; 0 means the default cap.
	MaxBytes int64
}

// Load reads the source and builds a region from it. The format is sniffed
// from the content, with the file extension as tie-break.
func (l *Loader) Load(ctx context.Context, source string) (*AreaOfInterest, error) {
	data, err := l.read(ctx, source)
	if err != nil {
		return nil, err
	}
	return parseSource(data, source)
}

func (l *Loader) read(ctx context.Context, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return l.fetch(ctx, source)
	}
	data, err := os.ReadFile(filepath.Clean(source))
	if err != nil {
		return nil, &InvalidGeometryError{Source: source, Reason: "read: " + err.Error()}
	}
	return data, nil
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	if l.HTTP == nil {
		return nil, &InvalidGeometryError{Source: url, Reason: "url sources are not enabled"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &InvalidGeometryError{Source: url, Reason: "request: " + err.Error()}
	}
	resp, err := l.HTTP.Do(req)
	if err != nil {
		return nil, &InvalidGeometryError{Source: url, Reason: "fetch: " + err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, &InvalidGeometryError{Source: url, Reason: fmt.Sprintf("fetch: status %d", resp.StatusCode)}
	}
	limit := l.MaxBytes
	if limit <= 0 {
		limit = defaultMaxSourceBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &InvalidGeometryError{Source: url, Reason: "fetch: " + err.Error()}
	}
	if int64(len(data)) > limit {
		return nil, &InvalidGeometryError{Source: url, Reason: "fetch: document exceeds size cap"}
	}
	return data, nil
}

func parseSource(data []byte, source string) (*AreaOfInterest, error) {
	switch sniffFormat(data, source) {
	case "kml":
		return ParseKML(bytes.NewReader(data), source)
	case "geojson":
		return ParseGeoJSON(data, source)
	}
	return nil, &InvalidGeometryError{Source: source, Reason: "unrecognized source format"}
}

func sniffFormat(data []byte, source string) string {
	head := bytes.TrimLeft(data, " \t\r\n\xef\xbb\xbf")
	switch {
	case len(head) > 0 && head[0] == '<':
		return "kml"
	case len(head) > 0 && head[0] == '{':
		return "geojson"
	}
	switch strings.ToLower(filepath.Ext(source)) {
	case ".kml":
		return "kml"
	case ".json", ".geojson":
		return "geojson"
	}
	return ""
}
