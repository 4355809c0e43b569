package fetcher

import (
	"bufio"
	"errors"
	"io"
	"iter"
	"regexp"
	"strings"

	"github.com/voyagen/iptvwatch/internal/models"
)

var (
	reExtinfName = regexp.MustCompile(`#EXTINF.*,(.*)`)
	reGroup      = regexp.MustCompile(`.*group-title *= *"([^"]*)"`)
	reTvgLogo    = regexp.MustCompile(`tvg-logo *= *"([^"]*)"`)
	reUserAgent  = regexp.MustCompile(`http-user-agent *= *(.*)`)
	reParens     = regexp.MustCompile(`\([^)]*\)`)
	reBrackets   = regexp.MustCompile(`\[[^\]]*\]`)
)

// Options tunes which records the parser rejects.
type Options struct {
	// JunkMarkers reject a record whose URL contains any of them.
	JunkMarkers []string
	// PromoMarkers drop a user-agent override containing any of them.
	PromoMarkers []string
}

// DefaultOptions matches the markers seen in the public playlists this tool was built for.
var DefaultOptions = Options{
	JunkMarkers:  []string{"50na50"},
	PromoMarkers: []string{"Donate"},
}

// ParseM3U reads a playlist from r and returns its entries in source order.
// Malformed or incomplete records and lines longer than maxLineSize are skipped
// and counted in Stats; the error is only non-nil when reading r fails
// (entries parsed up to that point are returned).
func ParseM3U(r io.Reader, opts Options) ([]models.Entry, Stats, error) {
	var entries []models.Entry
	stats, err := scan(r, opts, func(e models.Entry) bool {
		entries = append(entries, e)
		return true
	})
	return entries, stats, err
}

// Entries returns a lazy sequence over the entries of text. Each range over the
// sequence parses text from the start.
func Entries(text string, opts Options) iter.Seq[models.Entry] {
	return func(yield func(models.Entry) bool) {
		_, _ = scan(strings.NewReader(text), opts, yield)
	}
}

// maxLineSize bounds one line. Some EXTINF lines carry very long attribute lists.
const maxLineSize = 1024 * 1024

func scan(r io.Reader, opts Options, yield func(models.Entry) bool) (Stats, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	p := &parser{opts: opts}
	for {
		line, tooLong, err := readLine(br)
		if errors.Is(err, io.EOF) {
			return p.stats, nil
		}
		if err != nil {
			return p.stats, err
		}
		if tooLong {
			p.skipOversized()
			continue
		}
		if e, ok := p.feed(string(line)); ok {
			if !yield(e) {
				return p.stats, nil
			}
		}
	}
}

// readLine returns the next line without its terminator. A line longer than
// maxLineSize is consumed to its end and reported as tooLong with no content.
func readLine(br *bufio.Reader) (line []byte, tooLong bool, err error) {
	for {
		chunk, isPrefix, readErr := br.ReadLine()
		if readErr != nil {
			return nil, false, readErr
		}
		if !tooLong {
			if len(line)+len(chunk) > maxLineSize {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if !isPrefix {
			return line, tooLong, nil
		}
	}
}

type lineKind int

const (
	lineBlank lineKind = iota
	lineMeta
	lineOption
	lineComment
	lineURL
	lineOther
)

func classify(line string) lineKind {
	switch {
	case line == "":
		return lineBlank
	case strings.HasPrefix(line, "#EXTINF:"):
		return lineMeta
	case strings.HasPrefix(line, "#EXTVLCOPT:"):
		return lineOption
	case strings.HasPrefix(line, "#"):
		return lineComment
	case strings.HasPrefix(line, "http"), strings.HasPrefix(line, "rt"):
		return lineURL
	default:
		return lineOther
	}
}

type parseState int

const (
	stateIdle parseState = iota
	stateBuilding
)

// parser accumulates one record at a time. Any URL or unrecognized line ends the
// current record; comments and blank lines leave it untouched.
type parser struct {
	opts  Options
	state parseState
	cur   models.Entry
	named bool
	stats Stats
}

func (p *parser) feed(raw string) (models.Entry, bool) {
	line := strings.TrimSpace(raw)
	switch classify(line) {
	case lineMeta:
		// A further EXTINF before the URL overwrites only the fields it carries.
		p.applyMeta(line)
		p.state = stateBuilding
	case lineOption:
		p.applyOption(line)
		p.state = stateBuilding
	case lineURL:
		return p.finish(line)
	case lineOther:
		if p.state == stateBuilding {
			p.discard()
		}
	}
	return models.Entry{}, false
}

func (p *parser) applyMeta(line string) {
	if m := reExtinfName.FindStringSubmatch(line); m != nil {
		if name := CleanName(m[1]); name != "" {
			p.cur.Name = name
			p.named = true
		}
	}
	if m := reGroup.FindStringSubmatch(line); m != nil {
		p.cur.Group = NormalizeGroup(m[1])
	}
	if m := reTvgLogo.FindStringSubmatch(line); m != nil {
		if icon := strings.TrimSpace(m[1]); icon != "" {
			p.cur.Icon = &icon
		}
	}
}

func (p *parser) applyOption(line string) {
	m := reUserAgent.FindStringSubmatch(line)
	if m == nil {
		return
	}
	ua := strings.TrimSpace(m[1])
	if ua == "" || containsAny(ua, p.opts.PromoMarkers) {
		return
	}
	p.cur.UserAgent = &ua
}

func (p *parser) finish(url string) (models.Entry, bool) {
	defer p.reset()
	if p.state == stateIdle {
		p.stats.StrayURLs++
		return models.Entry{}, false
	}
	if !p.named || containsAny(url, p.opts.JunkMarkers) {
		p.stats.Discarded++
		return models.Entry{}, false
	}
	e := p.cur
	e.URL = url
	if e.Group == "" {
		e.Group = models.GroupMisc
	}
	p.stats.Entries++
	return e, true
}

// skipOversized treats an unreadably long line like any other non-URL line.
func (p *parser) skipOversized() {
	if p.state == stateBuilding {
		p.discard()
		return
	}
	p.stats.Discarded++
}

func (p *parser) discard() {
	p.stats.Discarded++
	p.reset()
}

func (p *parser) reset() {
	p.cur = models.Entry{}
	p.named = false
	p.state = stateIdle
}

// CleanName strips parenthesized and bracketed annotations and question marks
// from a display name and collapses whitespace.
func CleanName(raw string) string {
	name := reParens.ReplaceAllString(raw, "")
	name = reBrackets.ReplaceAllString(name, "")
	name = strings.ReplaceAll(name, "?", "")
	return strings.Join(strings.Fields(name), " ")
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(s, m) {
			return true
		}
	}
	return false
}
