package service

import (
	"compress/gzip"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// encodingWriter is an io.Writer that can be closed, the common shape of
// gzip.Writer/brotli.Writer/zstd.Encoder.
type encodingWriter interface {
	io.Writer
	Close() error
}

// CompressionConfig controls response compression negotiation at the
// service layer (SPEC_FULL.md §2 ADDED "Response compression").
type CompressionConfig struct {
	Enabled      bool
	Level        int
	MinSize      int
	ContentTypes []string
	Algorithms   []string
}

// algoOrder is the server-preferred algorithm order.
var algoOrder = []string{"br", "zstd", "gzip"}

// AlgorithmMetrics tracks compression counters for one algorithm.
type AlgorithmMetrics struct {
	BytesOut atomic.Int64
	Count    atomic.Int64
}

// Compressor negotiates and performs response compression for the guest
// responses the HTTP Service Layer forwards to clients: one process-wide
// instance, since wassel has a single dispatch point rather than per-route
// middleware chains.
type Compressor struct {
	enabled      bool
	level        int
	minSize      int
	contentTypes map[string]bool
	algorithms   map[string]bool
	order        []string
	metrics      map[string]*AlgorithmMetrics
}

// NewCompressor builds a Compressor from cfg, applying defaults of level 6,
// a 1KiB minimum size, and a text/JSON/XML content-type allowlist.
func NewCompressor(cfg CompressionConfig) *Compressor {
	c := &Compressor{
		enabled:      cfg.Enabled,
		level:        cfg.Level,
		minSize:      cfg.MinSize,
		contentTypes: make(map[string]bool),
		algorithms:   make(map[string]bool),
		metrics:      make(map[string]*AlgorithmMetrics),
	}

	if c.level <= 0 || c.level > 11 {
		c.level = 6
	}
	if c.minSize <= 0 {
		c.minSize = 1024
	}

	if len(cfg.Algorithms) > 0 {
		for _, a := range cfg.Algorithms {
			c.algorithms[a] = true
		}
	} else {
		c.algorithms["gzip"] = true
		c.algorithms["br"] = true
		c.algorithms["zstd"] = true
	}
	for _, a := range algoOrder {
		if c.algorithms[a] {
			c.order = append(c.order, a)
			c.metrics[a] = &AlgorithmMetrics{}
		}
	}

	if len(cfg.ContentTypes) > 0 {
		for _, ct := range cfg.ContentTypes {
			c.contentTypes[ct] = true
		}
	} else {
		for _, ct := range []string{
			"text/html", "text/css", "text/plain", "text/javascript",
			"application/javascript", "application/json", "application/xml",
			"text/xml", "image/svg+xml",
		} {
			c.contentTypes[ct] = true
		}
	}

	return c
}

// IsEnabled reports whether compression is configured on.
func (c *Compressor) IsEnabled() bool { return c.enabled }

type encodingPref struct {
	encoding string
	quality  float64
}

func parseAcceptEncoding(header string) []encodingPref {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	prefs := make([]encodingPref, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		enc := part
		q := 1.0
		if idx := strings.Index(part, ";"); idx != -1 {
			enc = strings.TrimSpace(part[:idx])
			params := strings.TrimSpace(part[idx+1:])
			if strings.HasPrefix(params, "q=") {
				if v, err := strconv.ParseFloat(params[2:], 64); err == nil {
					q = v
				}
			}
		}
		prefs = append(prefs, encodingPref{encoding: enc, quality: q})
	}
	return prefs
}

// NegotiateEncoding picks the best algorithm for r's Accept-Encoding header,
// per RFC 7231 §5.3.4, returning "" when none is acceptable or compression
// is disabled.
func (c *Compressor) NegotiateEncoding(r *http.Request) string {
	if !c.enabled {
		return ""
	}
	ae := r.Header.Get("Accept-Encoding")
	if ae == "" {
		return ""
	}
	prefs := parseAcceptEncoding(ae)
	if len(prefs) == 0 {
		return ""
	}

	clientPrefs := make(map[string]float64, len(prefs))
	hasWildcard := false
	wildcardQ := 0.0
	for _, p := range prefs {
		if p.encoding == "*" {
			hasWildcard = true
			wildcardQ = p.quality
		} else {
			clientPrefs[p.encoding] = p.quality
		}
	}

	best, bestQ := "", -1.0
	for _, algo := range c.order {
		q, explicit := clientPrefs[algo]
		if !explicit {
			if hasWildcard {
				q = wildcardQ
			} else {
				continue
			}
		}
		if q <= 0 {
			continue
		}
		if q > bestQ {
			bestQ, best = q, algo
		}
	}
	return best
}

func (c *Compressor) isCompressibleType(contentType string) bool {
	if len(c.contentTypes) == 0 {
		return true
	}
	ct := contentType
	if idx := strings.Index(ct, ";"); idx != -1 {
		ct = strings.TrimSpace(ct[:idx])
	}
	return c.contentTypes[ct]
}

func (c *Compressor) newEncodingWriter(w io.Writer, algo string) encodingWriter {
	switch algo {
	case "br":
		return brotli.NewWriterLevel(w, c.level)
	case "zstd":
		level := zstd.SpeedDefault
		if c.level > 0 {
			level = zstd.EncoderLevelFromZstd(c.level)
		}
		enc, _ := zstd.NewWriter(w, zstd.WithEncoderLevel(level))
		return enc
	default:
		level := c.level
		if level > 9 {
			level = 9
		}
		gz, _ := gzip.NewWriterLevel(w, level)
		return gz
	}
}

func (c *Compressor) record(algo string, bytesOut int) {
	if m, ok := c.metrics[algo]; ok {
		m.BytesOut.Add(int64(bytesOut))
		m.Count.Add(1)
	}
}

// Stats returns per-algorithm compression counters for the admin surface.
func (c *Compressor) Stats() map[string]AlgorithmSnapshot {
	out := make(map[string]AlgorithmSnapshot, len(c.metrics))
	for algo, m := range c.metrics {
		out[algo] = AlgorithmSnapshot{BytesOut: m.BytesOut.Load(), Count: m.Count.Load()}
	}
	return out
}

// AlgorithmSnapshot is the JSON-serializable form of AlgorithmMetrics.
type AlgorithmSnapshot struct {
	BytesOut int64 `json:"bytes_out"`
	Count    int64 `json:"count"`
}
