package reference

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"github.com/mohammad-safakhou/svat/internal/apperr"
	"github.com/mohammad-safakhou/svat/internal/helpers"
)

const maxFallbackChars = 600

// CWEDetails is the title and description of a weakness.
type CWEDetails struct {
	ID          string
	Title       string
	Description string
}

// CWEClient reads weakness definition pages from MITRE.
type CWEClient struct {
	HTTP    *helpers.HTTPClient
	BaseURL string
}

func NewCWEClient(http *helpers.HTTPClient, baseURL string) *CWEClient {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &CWEClient{HTTP: http, BaseURL: baseURL}
}

// Number strips the CWE- prefix.
func Number(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	return strings.TrimPrefix(id, "CWE-")
}

// DefinitionURL is the MITRE page for a CWE.
func (c *CWEClient) DefinitionURL(id string) string {
	return c.BaseURL + Number(id) + ".html"
}

// Lookup fetches and parses one CWE page.
func (c *CWEClient) Lookup(ctx context.Context, id string) (*CWEDetails, error) {
	id = strings.ToUpper(strings.TrimSpace(id))
	link := c.DefinitionURL(id)
	body, err := c.HTTP.Get(ctx, link, map[string]string{"Accept": "text/html"})
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrEnrichment, err, "cwe %s", id)
	}
	d, err := ParseCWEPage(body, link)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrEnrichment, err, "parse cwe %s", id)
	}
	d.ID = id
	if d.Title == "" {
		d.Title = id
	}
	return d, nil
}

// ParseCWEPage takes the title from the first h2 and the description from
// the first paragraph of the Description block, falling back to a
// readability excerpt of the page.
func ParseCWEPage(body []byte, link string) (*CWEDetails, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	d := &CWEDetails{}
	if h2 := find(doc, func(n *html.Node) bool { return n.Data == "h2" }); h2 != nil {
		d.Title = collapse(textOf(h2))
	}
	if block := find(doc, func(n *html.Node) bool { return attr(n, "id") == "Description" }); block != nil {
		target := find(block, func(n *html.Node) bool { return n.Data == "p" })
		if target == nil {
			target = find(block, func(n *html.Node) bool { return hasClass(n, "indent") })
		}
		if target != nil {
			d.Description = collapse(textOf(target))
		}
	}
	if d.Description == "" {
		d.Description = readableExcerpt(body, link)
	}
	if d.Description == "" {
		d.Description = "No description available"
	}
	return d, nil
}

func readableExcerpt(body []byte, link string) string {
	u, _ := url.Parse(link)
	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		return ""
	}
	text := article.Excerpt
	if text == "" {
		text = helpers.PlainText(article.Content)
	}
	text = collapse(text)
	if r := []rune(text); len(r) > maxFallbackChars {
		text = string(r[:maxFallbackChars])
	}
	return text
}

func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, match); found != nil {
			return found
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
