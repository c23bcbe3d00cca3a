package scrape

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var pageHrefRe = regexp.MustCompile(`/page-(\d+)`)

func parseDoc(data []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return doc, nil
}

// discoverTotalPages reads the upstream page count off the pagination nav:
// the highest /page-N href wins, the jump-to-last link included. A thread
// with no pagination is one page.
func discoverTotalPages(doc *goquery.Document) int {
	total := 1
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if m := pageHrefRe.FindStringSubmatch(href); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > total {
				total = n
			}
		}
	})
	doc.Find("a.pageNav-jump--last").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if m := pageHrefRe.FindStringSubmatch(href); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > total {
				total = n
			}
		}
	})
	return total
}

// pageTitle extracts the thread title: the <title> text before the forum
// name separator.
func pageTitle(doc *goquery.Document) string {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if i := strings.Index(title, "|"); i >= 0 {
		title = title[:i]
	}
	return strings.TrimSpace(title)
}
