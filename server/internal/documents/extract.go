package documents

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// ErrUnsupportedType is returned for files whose extension is not accepted.
var ErrUnsupportedType = errors.New("unsupported file type")

// SupportedExtensions lists the accepted upload extensions.
var SupportedExtensions = []string{".txt", ".md", ".html", ".py", ".js", ".pdf", ".docx"}

// Supported reports whether filename has an accepted extension.
func Supported(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range SupportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Extract returns the plain text of an uploaded file, NFC-normalized.
func Extract(filename string, data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var text string
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".html":
		t, err := htmlText(bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", filename, err)
		}
		text = t
	case ".pdf":
		t, err := pdfText(data)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", filename, err)
		}
		text = t
	case ".docx":
		t, err := docxText(data)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", filename, err)
		}
		text = t
	case ".txt", ".md", ".py", ".js":
		text = string(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}

	text = strings.ToValidUTF8(text, "�")
	return norm.NFC.String(text), nil
}

// blockElements end a line of extracted text.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"pre": true, "section": true, "article": true, "blockquote": true,
	"table": true, "ul": true, "ol": true, "title": true,
}

// htmlText collects the visible text of an HTML document.
func htmlText(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var (
		b    strings.Builder
		skip int
	)
	newline := func() {
		s := b.String()
		if s != "" && !strings.HasSuffix(s, "\n") {
			b.WriteByte('\n')
		}
	}

	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return collapseBlankLines(b.String()), nil
			}
			return "", z.Err()

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch tag := string(name); {
			case tag == "script" || tag == "style" || tag == "noscript":
				skip++
			case blockElements[tag]:
				newline()
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			switch tag := string(name); {
			case tag == "script" || tag == "style" || tag == "noscript":
				if skip > 0 {
					skip--
				}
			case blockElements[tag]:
				newline()
			}

		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.Join(strings.Fields(string(z.Text())), " ")
			if text == "" {
				continue
			}
			s := b.String()
			if s != "" && !strings.HasSuffix(s, "\n") && !strings.HasSuffix(s, " ") {
				b.WriteByte(' ')
			}
			b.WriteString(text)
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
