package epub

import (
	"fmt"
	"strings"
)

// generateTitlePage creates the titlepage.xhtml document.
func (b *Builder) generateTitlePage() string {
	var sb strings.Builder

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
  <title>`)
	sb.WriteString(escapeXML(b.book.Title))
	sb.WriteString(`</title>
  <link rel="stylesheet" type="text/css" href="styles/style.css"/>
</head>
<body>
`)

	sb.WriteString(fmt.Sprintf("  <h1>%s</h1>\n", escapeXML(b.book.Title)))
	if b.book.Description != "" {
		sb.WriteString(fmt.Sprintf("  <p class=\"synopsis\">%s</p>\n", escapeXML(b.book.Description)))
	}

	sb.WriteString("</body>\n</html>\n")

	return sb.String()
}

// generatePageXHTML creates one page document with its illustration above
// the story text.
func (b *Builder) generatePageXHTML(p Page, hasImage bool, mediaType string) string {
	var sb strings.Builder

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
  <title>Page `)
	sb.WriteString(fmt.Sprintf("%d", p.Number))
	sb.WriteString(`</title>
  <link rel="stylesheet" type="text/css" href="../styles/style.css"/>
</head>
<body>
`)

	if hasImage {
		sb.WriteString(fmt.Sprintf("  <img class=\"illustration\" src=\"../images/%s.%s\" alt=\"%s\"/>\n",
			pageID(p.Number), imageExtension(mediaType), escapeXML(firstLine(p.Text))))
	}

	for _, para := range splitParagraphs(p.Text) {
		sb.WriteString(fmt.Sprintf("  <p class=\"page-text\">%s</p>\n", escapeXML(para)))
	}

	sb.WriteString(fmt.Sprintf("  <p class=\"page-number\">%d</p>\n", p.Number))
	sb.WriteString("</body>\n</html>\n")

	return sb.String()
}

// splitParagraphs breaks story text on blank lines.
func splitParagraphs(text string) []string {
	var paras []string
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(strings.ReplaceAll(block, "\n", " "))
		if block != "" {
			paras = append(paras, block)
		}
	}
	return paras
}

// firstLine returns the first line of text for use as image alt text.
func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}
