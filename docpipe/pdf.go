package docpipe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"
)

// pdfcpuSource reads page content streams with pdfcpu. Text is recovered
// from the text-showing operators (Tj, TJ, ') of each content stream.
type pdfcpuSource struct {
	ctx *model.Context
}

// openPDFCPU parses and validates data. The returned source must be closed.
func openPDFCPU(data []byte) (*pdfcpuSource, error) {
	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	return &pdfcpuSource{ctx: ctx}, nil
}

func (s *pdfcpuSource) PageCount() int {
	if s.ctx == nil {
		return 0
	}
	return s.ctx.PageCount
}

func (s *pdfcpuSource) PageText(_ context.Context, pageNr int) (string, error) {
	if s.ctx == nil {
		return "", fmt.Errorf("pdfcpu: source closed")
	}
	r, err := pdfcpu.ExtractPageContent(s.ctx, pageNr)
	if err != nil {
		return "", fmt.Errorf("pdfcpu page %d: %w", pageNr, err)
	}
	if r == nil {
		return "", ErrEmptyPage
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("pdfcpu page %d: read content: %w", pageNr, err)
	}
	if len(data) == 0 {
		return "", ErrEmptyPage
	}
	return extractTextFromStream(data), nil
}

// HasImages reports whether any page draws an image XObject.
func (s *pdfcpuSource) HasImages() bool {
	if s.ctx == nil {
		return false
	}
	return detectImageStreams(s.ctx)
}

// Close drops the parsed cross-reference table so it can be collected.
func (s *pdfcpuSource) Close() error {
	s.ctx = nil
	return nil
}

// detectImageStreams checks if the PDF contains image XObjects.
func detectImageStreams(ctx *model.Context) bool {
	if ctx.Optimize != nil {
		for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
			if len(pdfcpu.ImageObjNrs(ctx, pageNr)) > 0 {
				return true
			}
		}
	}
	for _, entry := range ctx.Table {
		if entry == nil || entry.Free || entry.Compressed {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if subtype, found := sd.Find("Subtype"); found {
			if name, isName := subtype.(types.Name); isName && name == "Image" {
				return true
			}
		}
	}
	return false
}

// pdfStringRe matches PDF string literals in parentheses: (text here)
var pdfStringRe = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)

// extractTextFromStream walks the content stream line by line and keeps the
// operands of the text-showing operators.
func extractTextFromStream(data []byte) string {
	var sb strings.Builder

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteString(decodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteByte('\n')
				sb.WriteString(decodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
		case bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		}
	}

	return cleanPageText(sb.String())
}

// decodePDFString resolves the PDF literal string escape sequences, then
// maps the resulting bytes to UTF-8.
func decodePDFString(raw []byte) string {
	buf := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			buf = append(buf, raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			buf = append(buf, '\n')
		case 'r':
			buf = append(buf, '\r')
		case 't':
			buf = append(buf, '\t')
		case '\\', '(', ')':
			buf = append(buf, raw[i])
		default:
			if raw[i] < '0' || raw[i] > '7' {
				buf = append(buf, raw[i])
				continue
			}
			// Octal escape, up to three digits (\040 is a space).
			val := int(raw[i] - '0')
			for n := 0; n < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			buf = append(buf, byte(val))
		}
	}
	return decodeStringBytes(buf)
}

// decodeStringBytes reads b as UTF-16BE when it starts with a byte order
// mark, as-is when it is already valid UTF-8, and as WinAnsi (Windows-1252)
// otherwise, which is how the standard Type1 fonts encode accents.
func decodeStringBytes(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		if out, err := xunicode.UTF16(xunicode.BigEndian, xunicode.ExpectBOM).NewDecoder().Bytes(b); err == nil {
			return string(out)
		}
	}
	if utf8.Valid(b) {
		return string(b)
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

// cleanPageText collapses runs of spaces, keeps single line breaks and
// drops non-printable runes.
func cleanPageText(text string) string {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r", "\n"), "\n") {
		var sb strings.Builder
		prevSpace := false
		for _, r := range line {
			switch {
			case unicode.IsSpace(r):
				if !prevSpace && sb.Len() > 0 {
					sb.WriteByte(' ')
					prevSpace = true
				}
			case unicode.IsPrint(r):
				sb.WriteRune(r)
				prevSpace = false
			}
		}
		if l := strings.TrimSpace(sb.String()); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}
