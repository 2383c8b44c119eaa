// Package naming derives store-relative paths for uploaded assets and
// normalizes paths read back from the registry or the store.
package naming

import (
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultCollection is the top-level store directory holding uploaded assets.
const DefaultCollection = "uploads"

// Namer issues asset paths of the form
// <collection>/artist-<id>-<unix-millis><ext>. Stamps are strictly
// increasing across every call on the same Namer, so two uploads in the
// same millisecond never share a path within one process.
type Namer struct {
	collection string
	now        func() time.Time

	mu   sync.Mutex
	last int64
}

// Option configures a Namer.
type Option func(*Namer)

// WithClock replaces the wall clock used to derive stamps.
func WithClock(now func() time.Time) Option {
	return func(n *Namer) { n.now = now }
}

// New creates a Namer for the given collection. An empty collection means
// DefaultCollection.
func New(collection string, opts ...Option) *Namer {
	collection = strings.Trim(Normalize(collection), "/")
	if collection == "" {
		collection = DefaultCollection
	}
	n := &Namer{collection: collection, now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Next returns a fresh path for an asset uploaded for artistID. The
// extension of originalName is kept as given; it may be empty.
func (n *Namer) Next(artistID int64, originalName string) string {
	stamp := n.stamp()
	ext := filepath.Ext(path.Base(strings.ReplaceAll(originalName, `\`, "/")))
	return n.collection + "/artist-" + strconv.FormatInt(artistID, 10) + "-" + strconv.FormatInt(stamp, 10) + ext
}

func (n *Namer) stamp() int64 {
	ms := n.now().UnixMilli()
	n.mu.Lock()
	defer n.mu.Unlock()
	if ms <= n.last {
		ms = n.last + 1
	}
	n.last = ms
	return ms
}

// Normalize converts a stored path to its canonical store-relative form:
// forward slashes, no "." segments, no leading separator.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if p == "" {
		return ""
	}
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// Valid reports whether p is a usable store-relative path: non-empty after
// normalization and never escaping the store root.
func Valid(p string) bool {
	raw := strings.ReplaceAll(p, `\`, "/")
	for _, seg := range strings.Split(raw, "/") {
		if seg == ".." {
			return false
		}
	}
	n := Normalize(p)
	return n != "" && n != "."
}
