package ingestion

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gen2brain/go-fitz"
)

var ErrUnsupportedFileType = errors.New("unsupported file type")

// Page is the text of one page. Numbers start at 1.
type Page struct {
	Number int    `json:"page"`
	Text   string `json:"text"`
}

// Extraction is what an extractor produces for one file.
type Extraction struct {
	Title       string `json:"title"`
	ContentType string `json:"contentType"`
	Pages       []Page `json:"pages"`
}

var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".html": "text/html",
	".htm":  "text/html",
	".txt":  "text/plain",
	".md":   "text/markdown",
}

// SupportedExtensions lists the file extensions accepted for ingestion.
func SupportedExtensions() []string {
	return []string{".pdf", ".html", ".htm", ".txt", ".md"}
}

func fileExtension(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

func IsSupported(name string) bool {
	_, ok := contentTypes[fileExtension(name)]
	return ok
}

// Extract reads the file at path and returns its pages.
func Extract(path string) (*Extraction, error) {
	ext := fileExtension(path)
	contentType, ok := contentTypes[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFileType, ext)
	}

	var (
		ex  *Extraction
		err error
	)
	switch ext {
	case ".pdf":
		ex, err = extractPDF(path)
	case ".html", ".htm":
		ex, err = extractHTML(path)
	default:
		ex, err = extractText(path)
	}
	if err != nil {
		return nil, err
	}

	ex.ContentType = contentType
	if ex.Title == "" {
		ex.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return ex, nil
}

func extractPDF(path string) (*Extraction, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	ex := &Extraction{Title: strings.TrimSpace(doc.Metadata()["title"])}
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d: %w", i+1, err)
		}
		text = collapseWhitespace(text)
		if text == "" {
			continue
		}
		ex.Pages = append(ex.Pages, Page{Number: i + 1, Text: text})
	}
	return ex, nil
}

func extractHTML(path string) (*Extraction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open HTML: %w", err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	ex := &Extraction{Title: title}
	if text := collapseWhitespace(doc.Find("body").Text()); text != "" {
		ex.Pages = []Page{{Number: 1, Text: text}}
	}
	return ex, nil
}

// extractText treats form feeds as page breaks.
func extractText(path string) (*Extraction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	ex := &Extraction{}
	for i, part := range strings.Split(string(data), "\f") {
		if text := collapseWhitespace(part); text != "" {
			ex.Pages = append(ex.Pages, Page{Number: i + 1, Text: text})
		}
	}
	return ex, nil
}

var whitespace = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
