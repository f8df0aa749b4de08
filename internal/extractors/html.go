package extractors

import (
	"html"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	htmlTitle   = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	htmlComment = regexp.MustCompile(`(?s)<!--.*?-->`)
	htmlHeading = regexp.MustCompile(`(?is)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
	htmlPre     = regexp.MustCompile(`(?is)<pre[^>]*>(.*?)</pre>`)
	htmlBlock   = regexp.MustCompile(`(?i)</?(p|div|li|tr|blockquote|table|section|article|ul|ol)[^>]*>`)
	htmlBreak   = regexp.MustCompile(`(?i)<(br|hr)\s*/?>`)
	htmlTag     = regexp.MustCompile(`<[^>]+>`)
	htmlSpaces  = regexp.MustCompile(`[ \t]+`)

	// Go regexps have no backreferences, so each dropped element gets its own.
	htmlDropped = []*regexp.Regexp{
		droppedElement("script"),
		droppedElement("style"),
		droppedElement("noscript"),
		droppedElement("head"),
		droppedElement("svg"),
	}
)

func droppedElement(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?is)<` + name + `[^>]*>.*?</` + name + `>`)
}

func isHTML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm", ".xhtml":
		return true
	}
	return false
}

// htmlToMarkdown reduces an HTML page to markdown headings and plain text
// lines. It also returns the <title>, which is empty when absent.
func htmlToMarkdown(page string) (string, string) {
	title := ""
	if m := htmlTitle.FindStringSubmatch(page); m != nil {
		title = inlineText(m[1])
	}

	page = htmlComment.ReplaceAllString(page, "")
	for _, re := range htmlDropped {
		page = re.ReplaceAllString(page, "")
	}
	page = htmlPre.ReplaceAllStringFunc(page, func(block string) string {
		body := htmlPre.FindStringSubmatch(block)[1]
		return "\n```\n" + html.UnescapeString(htmlTag.ReplaceAllString(body, "")) + "\n```\n"
	})
	page = htmlHeading.ReplaceAllStringFunc(page, func(h string) string {
		m := htmlHeading.FindStringSubmatch(h)
		level, _ := strconv.Atoi(m[1])
		text := inlineText(m[2])
		if text == "" {
			return "\n"
		}
		return "\n" + strings.Repeat("#", level) + " " + text + "\n"
	})
	page = htmlBlock.ReplaceAllString(page, "\n")
	page = htmlBreak.ReplaceAllString(page, "\n")
	page = htmlTag.ReplaceAllString(page, "")
	page = html.UnescapeString(page)

	var lines []string
	inFence := false
	for _, line := range strings.Split(strings.ReplaceAll(page, "\r\n", "\n"), "\n") {
		if fenceLine.MatchString(line) {
			inFence = !inFence
			lines = append(lines, strings.TrimSpace(line))
			continue
		}
		if inFence {
			lines = append(lines, line)
			continue
		}
		line = strings.TrimSpace(htmlSpaces.ReplaceAllString(line, " "))
		if line == "" && (len(lines) == 0 || lines[len(lines)-1] == "") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), title
}

// inlineText flattens an HTML fragment to one line of text.
func inlineText(fragment string) string {
	text := html.UnescapeString(htmlTag.ReplaceAllString(fragment, ""))
	return strings.Join(strings.Fields(text), " ")
}
