package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	docxDefaultPart  = "word/document.xml"
	docxContentTypes = "[Content_Types].xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// <w:t> runs, with or without attributes such as xml:space.
	wordTextRun = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

	// Override elements naming the main part; attribute order varies between writers.
	mainPartByName = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainType) + `"`)
	mainPartByType = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainType) + `"[^>]+PartName="([^"]+)"`)
)

// readZipEntry returns the bytes of the named member, or nil when it is absent.
func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, nil
}

// docxMainPart resolves the body part from [Content_Types].xml, defaulting to word/document.xml.
func docxMainPart(zr *zip.Reader) string {
	types, err := readZipEntry(zr, docxContentTypes)
	if err != nil || types == nil {
		return docxDefaultPart
	}
	for _, re := range []*regexp.Regexp{mainPartByName, mainPartByType} {
		if m := re.FindSubmatch(types); len(m) > 1 {
			return strings.TrimPrefix(string(m[1]), "/")
		}
	}
	return docxDefaultPart
}

// extractDOCX joins every <w:t> run of the main part. lu4p/cat is not used here because
// it only matches bare <w:p> elements and misses paragraphs that carry attributes.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	part := docxMainPart(zr)
	body, err := readZipEntry(zr, part)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	if body == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", part)
	}

	runs := wordTextRun.FindAllSubmatch(body, -1)
	words := make([]string, 0, len(runs))
	for _, r := range runs {
		if t := strings.TrimSpace(string(r[1])); t != "" {
			words = append(words, t)
		}
	}
	return strings.Join(words, " "), nil
}
