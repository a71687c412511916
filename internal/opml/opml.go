// Package opml handles importing and exporting subscriptions as OPML files.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/youtube"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single outline element (folder or feed).
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Entry is one feed outline. ChannelID is empty when neither URL carries a
// canonical channel id; URL then holds the best candidate for resolution.
type Entry struct {
	ChannelID string
	Title     string
	URL       string
}

// Parse reads an OPML document and returns every feed outline, flattening folders.
func Parse(r io.Reader) ([]Entry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []Entry
	var walk func(outlines []Outline)
	walk = func(outlines []Outline) {
		for _, o := range outlines {
			if o.XMLURL == "" && o.HTMLURL == "" {
				walk(o.Outlines)
				continue
			}
			title := o.Title
			if title == "" {
				title = o.Text
			}
			e := Entry{Title: title, URL: o.XMLURL}
			if id, ok := youtube.ChannelIDFromFeedURL(o.XMLURL); ok && model.IsChannelID(id) {
				e.ChannelID = id
			} else if id, ok := youtube.ChannelIDFromURL(o.HTMLURL); ok && model.IsChannelID(id) {
				e.ChannelID = id
			}
			if e.ChannelID == "" && o.HTMLURL != "" {
				e.URL = o.HTMLURL
			}
			entries = append(entries, e)
			walk(o.Outlines)
		}
	}
	walk(doc.Body.Outlines)
	return entries, nil
}

// Export generates an OPML document listing one feed outline per subscription.
func Export(title string, subs []model.ChannelRef, endpoints youtube.Endpoints) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}

	outlines := make([]Outline, 0, len(subs))
	for _, s := range subs {
		text := s.Title
		if text == "" {
			text = s.ID
		}
		outlines = append(outlines, Outline{
			Text:    text,
			Title:   text,
			Type:    "rss",
			XMLURL:  endpoints.FeedURL(s.ID),
			HTMLURL: endpoints.ChannelURL(s.ID),
		})
	}
	doc.Body.Outlines = outlines

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}
