// Package epub provides ePub 3.0 generation from completed picture books.
package epub

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Book contains the metadata needed for epub generation.
type Book struct {
	ID          string
	Title       string
	Description string
	Language    string // ISO 639-1 code (e.g., "en")
}

// Page represents one picture book page for epub generation.
type Page struct {
	Number   int
	Text     string
	ImageRef string // illustration location, resolved through the fetcher
}

// Builder creates ePub 3.0 files.
type Builder struct {
	book    Book
	pages   []Page
	fetcher ImageFetcher

	// images holds fetched illustrations keyed by page number,
	// populated during WriteTo.
	images map[int]fetchedImage
}

type fetchedImage struct {
	data      []byte
	mediaType string
}

// NewBuilder creates a new epub builder. Pages must already be in reading
// order.
func NewBuilder(book Book, pages []Page, fetcher ImageFetcher) *Builder {
	return &Builder{
		book:    book,
		pages:   pages,
		fetcher: fetcher,
	}
}

// Build generates the epub and writes it to the specified path.
func (b *Builder) Build(ctx context.Context, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	return b.WriteTo(ctx, f)
}

// BuildToBuffer generates the epub and returns it as a byte buffer.
func (b *Builder) BuildToBuffer(ctx context.Context) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	if err := b.WriteTo(ctx, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteTo writes the epub to a writer. Illustrations are fetched first so a
// broken image reference fails the export before any archive bytes are
// written.
func (b *Builder) WriteTo(ctx context.Context, w io.Writer) error {
	if err := b.fetchImages(ctx); err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	defer zw.Close()

	// 1. Write mimetype (must be first, uncompressed)
	if err := b.writeMimetype(zw); err != nil {
		return err
	}

	// 2. Write META-INF/container.xml
	if err := b.writeContainer(zw); err != nil {
		return err
	}

	// 3. Write OEBPS/content.opf (package document)
	if err := b.writePackage(zw); err != nil {
		return err
	}

	// 4. Write OEBPS/nav.xhtml (navigation)
	if err := b.writeNavigation(zw); err != nil {
		return err
	}

	// 5. Write OEBPS/toc.ncx (NCX for ePub 2 compatibility)
	if err := b.writeNCX(zw); err != nil {
		return err
	}

	// 6. Write OEBPS/styles/style.css
	if err := b.writeStylesheet(zw); err != nil {
		return err
	}

	// 7. Write the title page
	if err := b.writeTitlePage(zw); err != nil {
		return err
	}

	// 8. Write page files and their illustrations
	for _, p := range b.pages {
		if err := b.writePage(zw, p); err != nil {
			return fmt.Errorf("failed to write page %d: %w", p.Number, err)
		}
	}

	return nil
}

// fetchImages resolves every page illustration through the fetcher.
func (b *Builder) fetchImages(ctx context.Context) error {
	b.images = make(map[int]fetchedImage, len(b.pages))
	for _, p := range b.pages {
		if p.ImageRef == "" {
			continue
		}
		data, mediaType, err := b.fetcher.Fetch(ctx, p.ImageRef)
		if err != nil {
			return fmt.Errorf("failed to fetch illustration for page %d: %w", p.Number, err)
		}
		b.images[p.Number] = fetchedImage{data: data, mediaType: mediaType}
	}
	return nil
}

// writeMimetype writes the mimetype file (must be first and uncompressed).
func (b *Builder) writeMimetype(zw *zip.Writer) error {
	// Create with Store method (no compression) as required by ePub spec
	header := &zip.FileHeader{
		Name:   "mimetype",
		Method: zip.Store,
	}
	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create mimetype: %w", err)
	}
	_, err = w.Write([]byte("application/epub+zip"))
	return err
}

// writeContainer writes META-INF/container.xml.
func (b *Builder) writeContainer(zw *zip.Writer) error {
	content := `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

	w, err := zw.Create("META-INF/container.xml")
	if err != nil {
		return fmt.Errorf("failed to create container.xml: %w", err)
	}
	_, err = w.Write([]byte(content))
	return err
}

// writePackage writes OEBPS/content.opf.
func (b *Builder) writePackage(zw *zip.Writer) error {
	w, err := zw.Create("OEBPS/content.opf")
	if err != nil {
		return fmt.Errorf("failed to create content.opf: %w", err)
	}

	content := b.generatePackage()
	_, err = w.Write([]byte(content))
	return err
}

// writeNavigation writes OEBPS/nav.xhtml.
func (b *Builder) writeNavigation(zw *zip.Writer) error {
	w, err := zw.Create("OEBPS/nav.xhtml")
	if err != nil {
		return fmt.Errorf("failed to create nav.xhtml: %w", err)
	}

	content := b.generateNavigation()
	_, err = w.Write([]byte(content))
	return err
}

// writeNCX writes OEBPS/toc.ncx for ePub 2 compatibility.
func (b *Builder) writeNCX(zw *zip.Writer) error {
	w, err := zw.Create("OEBPS/toc.ncx")
	if err != nil {
		return fmt.Errorf("failed to create toc.ncx: %w", err)
	}

	content := b.generateNCX()
	_, err = w.Write([]byte(content))
	return err
}

// writeStylesheet writes OEBPS/styles/style.css.
func (b *Builder) writeStylesheet(zw *zip.Writer) error {
	w, err := zw.Create("OEBPS/styles/style.css")
	if err != nil {
		return fmt.Errorf("failed to create style.css: %w", err)
	}

	_, err = w.Write([]byte(defaultStylesheet))
	return err
}

// writeTitlePage writes OEBPS/titlepage.xhtml.
func (b *Builder) writeTitlePage(zw *zip.Writer) error {
	w, err := zw.Create("OEBPS/titlepage.xhtml")
	if err != nil {
		return fmt.Errorf("failed to create titlepage.xhtml: %w", err)
	}

	content := b.generateTitlePage()
	_, err = w.Write([]byte(content))
	return err
}

// writePage writes a page's XHTML file and, when present, its illustration.
func (b *Builder) writePage(zw *zip.Writer, p Page) error {
	if img, ok := b.images[p.Number]; ok {
		iw, err := zw.Create(imagePath(p.Number, img.mediaType))
		if err != nil {
			return fmt.Errorf("failed to create illustration: %w", err)
		}
		if _, err := iw.Write(img.data); err != nil {
			return err
		}
	}

	w, err := zw.Create(pagePath(p.Number))
	if err != nil {
		return fmt.Errorf("failed to create page file: %w", err)
	}

	img, hasImage := b.images[p.Number]
	content := b.generatePageXHTML(p, hasImage, img.mediaType)
	_, err = w.Write([]byte(content))
	return err
}

// generateUUID returns the unique identifier for the epub. Book IDs are
// already UUIDs, so they map straight onto the urn:uuid scheme.
func (b *Builder) generateUUID() string {
	return "urn:uuid:" + b.book.ID
}

func pageID(number int) string {
	return fmt.Sprintf("page_%04d", number)
}

func pagePath(number int) string {
	return fmt.Sprintf("OEBPS/pages/%s.xhtml", pageID(number))
}

func imagePath(number int, mediaType string) string {
	return fmt.Sprintf("OEBPS/images/%s.%s", pageID(number), imageExtension(mediaType))
}

const defaultStylesheet = `/* Fable ePub Stylesheet */

body {
  font-family: Georgia, "Times New Roman", serif;
  font-size: 1.2em;
  line-height: 1.8;
  margin: 1em;
  text-align: center;
}

h1 {
  font-family: "Helvetica Neue", Helvetica, Arial, sans-serif;
  font-size: 2em;
  margin-top: 2em;
  margin-bottom: 0.5em;
}

.synopsis {
  font-style: italic;
  font-size: 0.9em;
  margin: 2em 3em;
}

.illustration {
  max-width: 100%;
  max-height: 70vh;
  margin: 0 auto 1em;
  display: block;
}

.page-text {
  margin: 1em 2em;
}

.page-number {
  font-size: 0.7em;
  color: #999;
  margin-top: 2em;
}
`
