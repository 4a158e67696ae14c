package links

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractHTML finds package links in an HTML document. Anchor targets and
// visible text are read in document order, so a link that is only spelled out
// in the body of a message is still found and keeps its place.
func ExtractHTML(r io.Reader) ([]Link, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, head").Remove()

	// Text nodes are joined with newlines; Selection.Text would glue the
	// contents of adjacent block elements into one token.
	var b strings.Builder
	var walk func(sel *goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, node *goquery.Selection) {
			switch goquery.NodeName(node) {
			case "#text":
				b.WriteString(node.Text())
				b.WriteByte('\n')
				return
			case "a":
				if href, ok := node.Attr("href"); ok {
					b.WriteString(strings.TrimSpace(href))
					b.WriteByte('\n')
				}
			}
			walk(node)
		})
	}
	walk(doc.Selection)

	return Extract(b.String())
}

// ExtractFormat dispatches to Extract or ExtractHTML. FormatAuto sniffs the data.
func ExtractFormat(data []byte, format Format) ([]Link, error) {
	if format == FormatAuto || format == "" {
		format = Detect(data)
	}
	if format == FormatHTML {
		return ExtractHTML(bytes.NewReader(data))
	}
	return Extract(string(data))
}
