// Package mocktrsst is a small in-memory trsst feed service for demos.
//
// It serves a handful of feeds that gain new posts and replies at random
// intervals, and honours the paging and filter parameters the pollster
// sends: count, before, after, verb and mention.
package mocktrsst

import (
	"fmt"
	"html"
	"log/slog"
	"math/rand"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultCount = 20

type entry struct {
	id       string
	title    string
	verb     string
	mentions []string
	follows  string
	updated  time.Time
}

type feed struct {
	id      string
	title   string
	entries []*entry // newest first
}

// Server is an http.Handler serving mock trsst feeds under /feed/.
type Server struct {
	mu     sync.Mutex
	feeds  map[string]*feed
	lastID int64
	logger *slog.Logger
}

// New creates a Server seeded with three feeds: alice, bob and me. Feed me
// follows the other two.
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{feeds: make(map[string]*feed), logger: logger}
	s.feeds["alice"] = &feed{id: "alice", title: "Alice"}
	s.feeds["bob"] = &feed{id: "bob", title: "Bob"}
	s.feeds["me"] = &feed{id: "me", title: "Me"}

	s.add("me", &entry{verb: "follow", follows: "alice"})
	s.add("me", &entry{verb: "follow", follows: "bob"})
	for i := 1; i <= 3; i++ {
		s.add("alice", &entry{title: fmt.Sprintf("alice post %d", i), verb: "post"})
		s.add("bob", &entry{title: fmt.Sprintf("bob post %d", i), verb: "post"})
	}
	return s
}

// Post adds a post to feed and returns its entry urn.
func (s *Server) Post(feedID, title string) string {
	return s.add(feedID, &entry{title: title, verb: "post"})
}

// Reply adds a reply to parentURN from feed and returns its entry urn.
func (s *Server) Reply(feedID, parentURN, title string) string {
	return s.add(feedID, &entry{title: title, verb: "reply", mentions: []string{parentURN}})
}

// Run posts or replies every 5 to 15 seconds until stop is closed.
func (s *Server) Run(stop <-chan struct{}) {
	authors := []string{"alice", "bob"}
	for n := 1; ; n++ {
		select {
		case <-stop:
			return
		case <-time.After(time.Duration(5+rand.Intn(11)) * time.Second):
		}

		author := authors[rand.Intn(len(authors))]
		other := authors[0]
		if author == other {
			other = authors[1]
		}

		if parent := s.latest(other); parent != "" && rand.Intn(3) == 0 {
			urn := s.Reply(author, parent, fmt.Sprintf("%s replies (%d)", author, n))
			s.logger.Info("new reply", "entry", urn, "parent", parent)
			continue
		}
		urn := s.Post(author, fmt.Sprintf("%s post (%d)", author, n))
		s.logger.Info("new post", "entry", urn)
	}
}

func (s *Server) add(feedID string, e *entry) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.feeds[feedID]
	if !ok {
		f = &feed{id: feedID, title: feedID}
		s.feeds[feedID] = f
	}

	// entry ids are hex millisecond timestamps and must be unique
	ms := time.Now().UnixMilli()
	if ms <= s.lastID {
		ms = s.lastID + 1
	}
	s.lastID = ms
	e.id = strconv.FormatInt(ms, 16)
	e.updated = time.UnixMilli(ms).UTC()

	f.entries = append([]*entry{e}, f.entries...)
	return "urn:entry:" + feedID + ":" + e.id
}

func (s *Server) latest(feedID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feeds[feedID]
	if !ok {
		return ""
	}
	for _, e := range f.entries {
		if e.verb == "post" {
			return "urn:entry:" + feedID + ":" + e.id
		}
	}
	return ""
}

// ServeHTTP serves GET /feed/{id}.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	feedID, ok := strings.CutPrefix(r.URL.Path, "/feed/")
	if !ok || feedID == "" || strings.Contains(feedID, "/") {
		http.NotFound(w, r)
		return
	}

	body, ok := s.render(feedID, r.URL.Query())
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/atom+xml")
	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

func (s *Server) render(feedID string, params map[string][]string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.feeds[feedID]
	if !ok {
		return "", false
	}

	get := func(key string) string {
		if v := params[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	count := defaultCount
	if c, err := strconv.Atoi(get("count")); err == nil && c >= 0 {
		count = c
	}
	before, after, verb := get("before"), get("after"), get("verb")
	mentions := params["mention"]

	var matched []*entry
	for _, e := range f.entries {
		if before != "" && !idLess(e.id, before) {
			continue
		}
		if after != "" && !idLess(after, e.id) {
			continue
		}
		if verb != "" && e.verb != verb {
			continue
		}
		if len(mentions) > 0 && !slices.ContainsFunc(mentions, func(m string) bool { return slices.Contains(e.mentions, m) }) {
			continue
		}
		matched = append(matched, e)
	}
	// after pages return the entries closest to the anchor
	if after != "" && len(matched) > count {
		matched = matched[len(matched)-count:]
	}
	if len(matched) > count {
		matched = matched[:count]
	}

	updated := time.Unix(0, 0).UTC()
	if len(f.entries) > 0 {
		updated = f.entries[0].updated
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<feed xmlns="http://www.w3.org/2005/Atom" xmlns:activity="http://activitystrea.ms/spec/1.0/">`)
	fmt.Fprintf(&b, `<id>urn:feed:%s</id><title>%s</title><updated>%s</updated>`,
		f.id, html.EscapeString(f.title), updated.Format(time.RFC3339))
	for _, e := range matched {
		writeEntry(&b, f, e)
	}
	b.WriteString(`</feed>`)
	return b.String(), true
}

func writeEntry(b *strings.Builder, f *feed, e *entry) {
	fmt.Fprintf(b, `<entry><id>urn:entry:%s:%s</id>`, f.id, e.id)
	if e.title != "" {
		fmt.Fprintf(b, `<title>%s</title>`, html.EscapeString(e.title))
	}
	fmt.Fprintf(b, `<author><name>%s</name></author>`, html.EscapeString(f.title))
	fmt.Fprintf(b, `<updated>%s</updated>`, e.updated.Format(time.RFC3339Nano))
	fmt.Fprintf(b, `<activity:verb>%s</activity:verb>`, e.verb)
	for _, m := range e.mentions {
		fmt.Fprintf(b, `<category scheme="urn:mention" term="%s"/>`, html.EscapeString(m))
	}
	if e.follows != "" {
		fmt.Fprintf(b, `<content src="%s"/>`, html.EscapeString(e.follows))
	}
	b.WriteString(`</entry>`)
}

// idLess compares hex ids of possibly different lengths.
func idLess(a, b string) bool {
	x, errA := strconv.ParseInt(a, 16, 64)
	y, errB := strconv.ParseInt(b, 16, 64)
	if errA != nil || errB != nil {
		return a < b
	}
	return x < y
}
