package extractor

import (
	"strings"

	"golang.org/x/net/html"
)

// maxVisibleChars bounds how much body text classification looks at. The
// signals we match (challenge phrases, error banners, rate limit notices)
// all appear near the top of the page.
const maxVisibleChars = 4096

// skippedTags hold content a reader never sees; their text must not leak
// into classification.
var skippedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"head":     true,
	"svg":      true,
	"iframe":   true,
}

// VisibleText streams pageHTML through a tokenizer and returns up to max
// characters of whitespace-collapsed text a user would actually see.
// Malformed markup is not an error; whatever parsed before the failure is
// returned.
func VisibleText(pageHTML string, max int) string {
	if max <= 0 {
		return ""
	}

	z := html.NewTokenizer(strings.NewReader(pageHTML))
	var b strings.Builder
	skipDepth := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input both land here.
			return collapseAndTruncate(b.String(), max)
		case html.StartTagToken:
			name, _ := z.TagName()
			if skippedTags[string(name)] {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if skippedTags[string(name)] && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
				// Collect a little extra so collapsing still fills max.
				if b.Len() >= max*4 {
					return collapseAndTruncate(b.String(), max)
				}
			}
		}
	}
}

func collapseAndTruncate(s string, max int) string {
	collapsed := strings.Join(strings.Fields(s), " ")
	runes := []rune(collapsed)
	if len(runes) <= max {
		return collapsed
	}
	return string(runes[:max])
}
