// Package evidence locates the screenshots captured for a test case and
// encodes them as step attachments.
package evidence

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/viant/afs"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/logging"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/model"
)

// ContentType is the media type sent with every attachment.
const ContentType = "image/png"

// stepToken finds the step reference in a file name such as
// "T-1-3-20240101.png", searched after the test key.
var stepToken = regexp.MustCompile(`-(\d+)-`)

// Attachment is one screenshot bound to a step.
type Attachment struct {
	Path      string
	StepIndex int
	RuntimeID int64
}

// Payload is the attachment body accepted by the step attachment endpoint.
type Payload struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Data        string `json:"data"`
}

// Store reads screenshots from local paths or any URL afs understands.
type Store struct {
	fs      afs.Service
	dir     string
	pattern string
	logger  *log.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithFS replaces the afs service.
func WithFS(service afs.Service) Option {
	return func(s *Store) { s.fs = service }
}

// New returns a Store that searches dir with pattern when a test case has no
// recorded screenshots. An empty dir disables the search.
func New(dir, pattern string, opts ...Option) *Store {
	s := &Store{dir: dir, pattern: pattern}
	for _, opt := range opts {
		opt(s)
	}
	if s.fs == nil {
		s.fs = afs.New()
	}
	if s.pattern == "" {
		s.pattern = "**/*.png"
	}
	if s.logger == nil {
		s.logger = logging.New(logging.ComponentEvidence)
	}
	return s
}

// StepIndex extracts the step reference from a screenshot path. When the
// file name carries key, only the text after the key is searched, so the
// number inside the key itself is never taken for the step.
func StepIndex(key, p string) (int, bool) {
	name := filepath.Base(p)
	if key != "" {
		if i := strings.Index(name, key); i >= 0 {
			name = name[i+len(key):]
		}
	}
	m := stepToken.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Files returns the screenshots of tc. Recorded screenshots win; otherwise
// files under the evidence dir matching the pattern and carrying the test
// key in their name are used.
func (s *Store) Files(tc *model.TestCase) ([]string, error) {
	if len(tc.Screenshots) > 0 {
		return tc.Screenshots, nil
	}
	if s.dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		return nil, nil
	}

	matches, err := doublestar.Glob(os.DirFS(s.dir), s.pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", s.dir, err)
	}
	var out []string
	for _, m := range matches {
		if strings.Contains(path.Base(m), tc.Key) {
			out = append(out, filepath.Join(s.dir, filepath.FromSlash(m)))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Attachments maps the screenshots of tc to steps. Files without a step
// token, or pointing past the last step, or at a step without a runtime id,
// are skipped.
func (s *Store) Attachments(tc *model.TestCase) ([]Attachment, error) {
	files, err := s.Files(tc)
	if err != nil {
		return nil, err
	}
	var out []Attachment
	for _, f := range files {
		idx, ok := StepIndex(tc.Key, f)
		if !ok || idx < 0 || idx >= len(tc.Steps) {
			s.logger.Debug("screenshot not bound to a step", "key", tc.Key, "file", f)
			continue
		}
		id := tc.Steps[idx].RuntimeID
		if id == 0 {
			s.logger.Debug("step has no runtime id", "key", tc.Key, "step", idx)
			continue
		}
		out = append(out, Attachment{Path: f, StepIndex: idx, RuntimeID: id})
	}
	return out, nil
}

// Load reads a screenshot and encodes it.
func (s *Store) Load(ctx context.Context, location string) (*Payload, error) {
	data, err := s.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", location, err)
	}
	return &Payload{
		Filename:    filepath.Base(location),
		ContentType: ContentType,
		Data:        base64.StdEncoding.EncodeToString(data),
	}, nil
}

// ReadAll loads raw file contents for issue attachments. Unreadable files
// are logged and left out.
func (s *Store) ReadAll(ctx context.Context, locations []string) map[string][]byte {
	out := make(map[string][]byte, len(locations))
	for _, loc := range locations {
		data, err := s.fs.DownloadWithURL(ctx, loc)
		if err != nil {
			s.logger.Warn("screenshot unreadable", "file", loc, "error", err)
			continue
		}
		out[loc] = data
	}
	return out
}
