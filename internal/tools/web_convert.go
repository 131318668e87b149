package tools

import (
	"encoding/json"
	"html"
	"regexp"
	"strconv"
	"strings"
)

// HTML to text conversion for web_fetch. Regex-based on purpose: the
// output feeds a model, so lossy conversion of odd markup is acceptable
// and a DOM parser dependency is not worth it.

var (
	reChrome = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script[\s\S]*?</script>`),
		regexp.MustCompile(`(?is)<style[\s\S]*?</style>`),
		regexp.MustCompile(`<!--[\s\S]*?-->`),
		regexp.MustCompile(`(?is)<nav[\s\S]*?</nav>`),
		regexp.MustCompile(`(?is)<header[\s\S]*?</header>`),
		regexp.MustCompile(`(?is)<footer[\s\S]*?</footer>`),
	}
	reHeading = regexp.MustCompile(`(?is)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
	reAnyTag  = regexp.MustCompile(`<[^>]+>`)
	reBlankNL = regexp.MustCompile(`\n{3,}`)
	reRunSP   = regexp.MustCompile(`[ \t]{2,}`)
)

// markdownRules run in order; pre/code first so their content survives
// the generic tag strip.
type htmlRule struct {
	re   *regexp.Regexp
	repl string
}

var markdownRules = []htmlRule{
	{regexp.MustCompile(`(?is)<pre[^>]*>(.*?)</pre>`), "\n```\n$1\n```\n"},
	{regexp.MustCompile(`(?is)<code[^>]*>(.*?)</code>`), "`$1`"},
	{regexp.MustCompile(`(?is)<blockquote[^>]*>(.*?)</blockquote>`), "\n> $1\n"},
	{regexp.MustCompile(`(?is)<a[^>]*href="([^"]*)"[^>]*>(.*?)</a>`), "[$2]($1)"},
	{regexp.MustCompile(`(?i)<img[^>]*alt="([^"]*)"[^>]*/?>`), "![$1]"},
	{regexp.MustCompile(`(?is)<(?:strong|b)[^>]*>(.*?)</(?:strong|b)>`), "**$1**"},
	{regexp.MustCompile(`(?is)<(?:em|i)[^>]*>(.*?)</(?:em|i)>`), "*$1*"},
	{regexp.MustCompile(`(?is)<li[^>]*>(.*?)</li>`), "\n- $1"},
	{regexp.MustCompile(`(?is)<p[^>]*>(.*?)</p>`), "\n$1\n"},
	{regexp.MustCompile(`(?i)<br\s*/?>`), "\n"},
}

var textRules = []htmlRule{
	{regexp.MustCompile(`(?is)<li[^>]*>(.*?)</li>`), "\n- $1"},
	{regexp.MustCompile(`(?is)<p[^>]*>(.*?)</p>`), "\n$1\n"},
	{regexp.MustCompile(`(?i)<br\s*/?>`), "\n"},
}

// htmlToMarkdown converts an HTML page to markdown-ish text: headings,
// links, emphasis, lists, and code blocks; everything else is stripped.
func htmlToMarkdown(page string) string {
	s := stripChrome(page)
	s = reHeading.ReplaceAllStringFunc(s, func(m string) string {
		parts := reHeading.FindStringSubmatch(m)
		level, _ := strconv.Atoi(parts[1])
		return "\n" + strings.Repeat("#", level) + " " + strings.TrimSpace(parts[2]) + "\n"
	})
	for _, r := range markdownRules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return tidy(stripTags(s))
}

// htmlToText keeps only readable text with paragraph and list breaks.
func htmlToText(page string) string {
	s := stripChrome(page)
	for _, r := range textRules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	s = tidy(stripTags(s))

	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func stripChrome(s string) string {
	for _, re := range reChrome {
		s = re.ReplaceAllString(s, "")
	}
	return s
}

func stripTags(s string) string {
	return reAnyTag.ReplaceAllString(s, "")
}

func tidy(s string) string {
	s = html.UnescapeString(s)
	s = reRunSP.ReplaceAllString(s, " ")
	s = reBlankNL.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// prettyJSON re-indents a JSON body; invalid JSON passes through as-is.
func prettyJSON(body []byte) string {
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(body)
	}
	return string(out)
}
