package epub

import (
	"fmt"
	"strings"
)

// generateNavigation creates the nav.xhtml navigation document.
func (b *Builder) generateNavigation() string {
	var sb strings.Builder

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head>
  <title>Contents</title>
  <link rel="stylesheet" type="text/css" href="styles/style.css"/>
</head>
<body>
  <nav epub:type="toc" id="toc">
    <h1>Contents</h1>
    <ol>
`)

	sb.WriteString(fmt.Sprintf("      <li><a href=\"titlepage.xhtml\">%s</a></li>\n",
		escapeXML(b.book.Title)))
	for _, p := range b.pages {
		sb.WriteString(fmt.Sprintf("      <li><a href=\"pages/%s.xhtml\">Page %d</a></li>\n",
			pageID(p.Number), p.Number))
	}

	sb.WriteString(`    </ol>
  </nav>
</body>
</html>
`)

	return sb.String()
}

// generateNCX creates the toc.ncx for ePub 2 compatibility.
func (b *Builder) generateNCX() string {
	var sb strings.Builder

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <head>
    <meta name="dtb:uid" content="`)
	sb.WriteString(b.generateUUID())
	sb.WriteString(`"/>
    <meta name="dtb:depth" content="1"/>
    <meta name="dtb:totalPageCount" content="0"/>
    <meta name="dtb:maxPageNumber" content="0"/>
  </head>
  <docTitle>
    <text>`)
	sb.WriteString(escapeXML(b.book.Title))
	sb.WriteString(`</text>
  </docTitle>
  <navMap>
    <navPoint id="navpoint-0" playOrder="1">
      <navLabel><text>`)
	sb.WriteString(escapeXML(b.book.Title))
	sb.WriteString(`</text></navLabel>
      <content src="titlepage.xhtml"/>
    </navPoint>
`)

	for i, p := range b.pages {
		sb.WriteString(fmt.Sprintf("    <navPoint id=\"navpoint-%d\" playOrder=\"%d\">\n", i+1, i+2))
		sb.WriteString(fmt.Sprintf("      <navLabel><text>Page %d</text></navLabel>\n", p.Number))
		sb.WriteString(fmt.Sprintf("      <content src=\"pages/%s.xhtml\"/>\n", pageID(p.Number)))
		sb.WriteString("    </navPoint>\n")
	}

	sb.WriteString(`  </navMap>
</ncx>
`)

	return sb.String()
}
