package notify

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"

	"github.com/capturekit/resilience/internal/stats"
	"github.com/capturekit/resilience/internal/taxonomy"
)

// Bundle is the diagnostic payload behind the copy-details and report
// notification actions: the triggering record plus enough surrounding
// history to reproduce the failure.
type Bundle struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Record      *taxonomy.Record   `json:"record"`
	Recent      []*taxonomy.Record `json:"recent,omitempty"`
	Stats       stats.Summary      `json:"stats"`
}

// EncodeBundle serializes and gzip-compresses a bundle. Bundles travel in
// clipboard payloads and issue-report attachments, so size matters more
// than readability.
func EncodeBundle(b *Bundle) ([]byte, error) {
	raw, err := sonic.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress bundle: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress bundle: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeBundle reverses EncodeBundle.
func DecodeBundle(data []byte) (*Bundle, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress bundle: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress bundle: %w", err)
	}

	var b Bundle
	if err := sonic.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	return &b, nil
}

// ReportURL builds a pre-filled issue URL for the report action.
func ReportURL(base string, rec *taxonomy.Record) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("title", fmt.Sprintf("[%s/%s] %s", rec.Kind, rec.Severity, rec.Message))
	body := rec.UserMessage
	if rec.Suggestion != "" {
		body += "\n\n" + rec.Suggestion
	}
	body += fmt.Sprintf("\n\nerror id: %s\noccurred at: %s", rec.ID, rec.Timestamp.Format(time.RFC3339))
	q.Set("body", body)
	u.RawQuery = q.Encode()
	return u.String()
}
