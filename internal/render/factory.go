package render

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/jpalmerr/pollster/internal/atom"
)

const (
	maxSummaryRunes = 280
	lineRunes       = 60
	lineHeight      = 20
	entryChrome     = 72
	feedCardHeight  = 96
)

// EntryView is the view published by [DefaultEntryFactory].
type EntryView struct {
	URN        string   `json:"urn"`
	FeedID     string   `json:"feed_id"`
	FeedTitle  string   `json:"feed_title,omitempty"`
	Title      string   `json:"title,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	Authors    []string `json:"authors,omitempty"`
	Verb       string   `json:"verb"`
	Mentions   []string `json:"mentions,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Updated    string   `json:"updated,omitempty"`
	ThreadRoot string   `json:"thread_root,omitempty"`
	ContentSrc string   `json:"content_src,omitempty"`
}

// FeedView is the view published by [DefaultFeedFactory].
type FeedView struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle,omitempty"`
	Icon     string   `json:"icon,omitempty"`
	Authors  []string `json:"authors,omitempty"`
	Updated  string   `json:"updated,omitempty"`
}

// DefaultEntryFactory builds a text card for an entry. Encrypted entries are
// suppressed.
func DefaultEntryFactory(feed *atom.Feed, entry *atom.Entry) *Card {
	if entry == nil || entry.IsEncrypted() {
		return nil
	}

	summary := textOf(entry.Summary)
	if summary == "" && entry.ContentSrc == "" {
		summary = textOf(entry.Content)
	}
	summary = truncate(summary, maxSummaryRunes)

	view := EntryView{
		URN:        entry.ID,
		FeedID:     entry.FeedID(),
		Title:      textOf(entry.Title),
		Summary:    summary,
		Authors:    entry.Authors,
		Verb:       entry.Verb,
		Mentions:   entry.Mentions,
		Tags:       entry.Tags,
		Updated:    entry.Updated,
		ThreadRoot: atom.ThreadRoot(entry),
		ContentSrc: entry.ContentSrc,
	}
	if feed != nil {
		view.FeedTitle = feed.Title
	}

	lines := (len([]rune(summary)) + lineRunes - 1) / lineRunes
	return &Card{Height: entryChrome + lines*lineHeight, View: view}
}

// DefaultFeedFactory builds a card for a feed header.
func DefaultFeedFactory(feed *atom.Feed) *Card {
	if feed == nil {
		return nil
	}
	return &Card{
		Height: feedCardHeight,
		View: FeedView{
			ID:       feed.ID,
			Title:    textOf(feed.Title),
			Subtitle: textOf(feed.Subtitle),
			Icon:     feed.Icon,
			Authors:  feed.Authors,
			Updated:  feed.Updated,
		},
	}
}

// textOf returns the visible text of an HTML fragment with whitespace
// collapsed. Script and style contents are dropped.
func textOf(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(fragment))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input; keep what was read
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			case "br", "p", "div", "li":
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if skip > 0 {
					skip--
				}
			case "p", "div", "li":
				b.WriteByte(' ')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
