package atom

import (
	"fmt"
	"io"
	"strings"
	"time"

	gofeedatom "github.com/mmcdole/gofeed/atom"
	ext "github.com/mmcdole/gofeed/extensions"
)

// Category schemes used by trsst to mark mentions and tags. Both the short
// and the namespaced forms appear in the wild.
const (
	SchemeMention     = "urn:mention"
	SchemeMentionLong = "urn:com.trsst.mention"
	SchemeTag         = "urn:tag"
	SchemeTagLong     = "urn:com.trsst.tag"
)

// Verbs with special meaning to the timeline core.
const (
	VerbPost   = "post"
	VerbReply  = "reply"
	VerbFollow = "follow"
)

// EncryptedContentType marks entries whose payload needs a key to read.
const EncryptedContentType = "application/xenc+xml"

// Feed is one page of an Atom feed as served by trsst.
type Feed struct {
	ID            string
	Title         string
	Subtitle      string
	Icon          string
	Logo          string
	Authors       []string
	Updated       string
	UpdatedParsed *time.Time

	// Next is the href of the rel="next" link, empty on the last page.
	Next string

	Entries []*Entry
}

// Entry is a single Atom entry.
type Entry struct {
	// ID is the entry urn ("urn:entry:<feed>:<hex timestamp>").
	ID              string
	Title           string
	Summary         string
	Content         string
	ContentType     string
	ContentSrc      string
	Authors         []string
	Updated         string
	UpdatedParsed   *time.Time
	Published       string
	PublishedParsed *time.Time

	// Verb is the activity streams verb, "post" when absent.
	Verb     string
	Mentions []string
	Tags     []string
}

// Header returns a copy of the feed without its entries.
func (f *Feed) Header() *Feed {
	if f == nil {
		return nil
	}
	h := *f
	h.Entries = nil
	h.Authors = append([]string(nil), f.Authors...)
	return &h
}

// IsReply reports whether the entry is a reply.
func (e *Entry) IsReply() bool {
	return e.Verb == VerbReply
}

// IsEncrypted reports whether the entry content is encrypted.
func (e *Entry) IsEncrypted() bool {
	return strings.EqualFold(e.ContentType, EncryptedContentType)
}

// EntryID returns the hex timestamp part of the entry urn.
func (e *Entry) EntryID() string {
	return EntryIDFromURN(e.ID)
}

// FeedID returns the feed part of the entry urn.
func (e *Entry) FeedID() string {
	return FeedIDFromEntryURN(e.ID)
}

// Parse reads an Atom document.
func Parse(r io.Reader) (*Feed, error) {
	p := gofeedatom.Parser{}
	raw, err := p.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse atom: %w", err)
	}
	return fromGofeed(raw), nil
}

func fromGofeed(raw *gofeedatom.Feed) *Feed {
	f := &Feed{
		ID:            raw.ID,
		Title:         raw.Title,
		Subtitle:      raw.Subtitle,
		Icon:          raw.Icon,
		Logo:          raw.Logo,
		Authors:       personNames(raw.Authors),
		Updated:       strings.TrimSpace(raw.Updated),
		UpdatedParsed: raw.UpdatedParsed,
		Next:          linkHref(raw.Links, "next"),
		Entries:       make([]*Entry, 0, len(raw.Entries)),
	}

	for _, re := range raw.Entries {
		if re == nil {
			continue
		}
		f.Entries = append(f.Entries, entryFromGofeed(re))
	}
	return f
}

func entryFromGofeed(re *gofeedatom.Entry) *Entry {
	e := &Entry{
		ID:              strings.TrimSpace(re.ID),
		Title:           re.Title,
		Summary:         re.Summary,
		Authors:         personNames(re.Authors),
		Updated:         strings.TrimSpace(re.Updated),
		UpdatedParsed:   re.UpdatedParsed,
		Published:       strings.TrimSpace(re.Published),
		PublishedParsed: re.PublishedParsed,
		Verb:            extensionValue(re.Extensions, "verb"),
	}
	if e.Verb == "" {
		e.Verb = VerbPost
	}

	if re.Content != nil {
		e.Content = re.Content.Value
		e.ContentType = re.Content.Type
		e.ContentSrc = re.Content.Src
	}

	for _, c := range re.Categories {
		if c == nil || c.Term == "" {
			continue
		}
		switch c.Scheme {
		case SchemeMention, SchemeMentionLong:
			e.Mentions = append(e.Mentions, c.Term)
		case SchemeTag, SchemeTagLong:
			e.Tags = append(e.Tags, c.Term)
		}
	}
	return e
}

// extensionValue returns the text of the first extension element with the
// given local name. The namespace prefix depends on the document, so every
// prefix is searched.
func extensionValue(exts ext.Extensions, name string) string {
	for _, byName := range exts {
		for _, e := range byName[name] {
			if v := strings.TrimSpace(e.Value); v != "" {
				return v
			}
		}
	}
	return ""
}

func linkHref(links []*gofeedatom.Link, rel string) string {
	for _, l := range links {
		if l != nil && l.Rel == rel {
			return l.Href
		}
	}
	return ""
}

func personNames(people []*gofeedatom.Person) []string {
	var names []string
	for _, p := range people {
		if p == nil {
			continue
		}
		if name := strings.TrimSpace(p.Name); name != "" {
			names = append(names, name)
		} else if email := strings.TrimSpace(p.Email); email != "" {
			names = append(names, email)
		}
	}
	return names
}
