package docpipe

import (
	"context"
	"strings"
	"testing"
)

func TestLocalStrategy_TwoPages(t *testing.T) {
	// WHAT: A two-page text PDF yields both pages, in order, separated by a blank line.
	// WHY: Pages are read sequentially and joined; nothing may be dropped or reordered.
	raw := buildTextPDF("Jane Doe Senior Engineer", "Experience at Acme Corp")
	s := NewLocalStrategy(LocalConfig{Logger: discardLogger()})

	var events []ProgressEvent
	text, err := s.Parse(context.Background(), Document{Content: raw, MediaType: "application/pdf", Filename: "resume.pdf"},
		func(ev ProgressEvent) { events = append(events, ev) })
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	first := strings.Index(text, "Jane Doe")
	second := strings.Index(text, "Acme Corp")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("text = %q", text)
	}
	if !strings.Contains(text, "\n\n") {
		t.Errorf("pages not separated by a blank line: %q", text)
	}

	var pages []int
	for _, ev := range events {
		if ev.Stage == StageExtraction {
			pages = append(pages, ev.CurrentPage)
			if ev.TotalPages != 2 {
				t.Errorf("TotalPages = %d, want 2", ev.TotalPages)
			}
		}
	}
	if len(pages) != 2 || pages[0] != 1 || pages[1] != 2 {
		t.Errorf("extraction events for pages %v, want [1 2]", pages)
	}
}

func TestPipeline_TwoPagePDF(t *testing.T) {
	// WHAT: End to end through the pipeline with the real local engine.
	// WHY: Progress must end at exactly 100 and the local strategy must win.
	raw := buildTextPDF("Alice Martin Product Manager", "Skills Roadmapping Analytics")
	pipe := New(Config{Logger: discardLogger()},
		NewLocalStrategy(LocalConfig{Logger: discardLogger()}),
		NewPlainTextStrategy(PlainTextConfig{Logger: discardLogger()}),
	)

	var last ProgressEvent
	res := pipe.ParseFile(context.Background(), pdfDoc(raw), func(ev ProgressEvent) { last = ev })
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if res.Strategy != "Local PDF Worker" {
		t.Errorf("strategy = %q", res.Strategy)
	}
	if !strings.Contains(res.Text, "Alice Martin") || !strings.Contains(res.Text, "Roadmapping") {
		t.Errorf("text = %q", res.Text)
	}
	if last.Stage != StageComplete || last.Progress != 100 {
		t.Errorf("last event = %+v", last)
	}
}

func TestLocalStrategy_ImageOnly(t *testing.T) {
	// WHAT: A PDF that only draws an image produces the image-based message.
	// WHY: Scanned résumés are the most common failure; users need to know OCR is required.
	s := NewLocalStrategy(LocalConfig{Logger: discardLogger()})
	_, err := s.Parse(context.Background(), pdfDoc(buildImageOnlyPDF()), nil)
	if err == nil {
		t.Fatal("expected an error for an image-only PDF")
	}
	msg := s.ErrorMessage(err)
	if !strings.Contains(msg, "image-based") {
		t.Errorf("message = %q (err %v)", msg, err)
	}
}

func TestPipeline_ImageOnlyLocalOnly(t *testing.T) {
	// WHAT: Through ParseFile, a scanned PDF with only the local engine fails with the OCR message.
	// WHY: The pipeline must surface the strategy's translated error, not the generic manual-entry one.
	pipe := New(Config{Logger: discardLogger()}, NewLocalStrategy(LocalConfig{Logger: discardLogger()}))

	var last ProgressEvent
	res := pipe.ParseFile(context.Background(), pdfDoc(buildImageOnlyPDF()), func(ev ProgressEvent) { last = ev })
	if res.Success || res.Text != "" {
		t.Fatalf("image-only PDF parsed: %+v", res)
	}
	if res.Strategy != "Local PDF Worker" {
		t.Errorf("strategy = %q", res.Strategy)
	}
	if !strings.Contains(res.Error, "image-based") {
		t.Errorf("error = %q", res.Error)
	}
	if last.Stage != StageError {
		t.Errorf("last event = %+v", last)
	}
}

func TestLocalStrategy_Corrupted(t *testing.T) {
	s := NewLocalStrategy(LocalConfig{Logger: discardLogger()})
	_, err := s.Parse(context.Background(), pdfDoc([]byte("%PDF-1.4\nthis is not really a pdf")), nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if msg := s.ErrorMessage(err); msg != MsgCorrupted {
		t.Errorf("message = %q (err %v)", msg, err)
	}
}

func TestPlainTextStrategy_Corrupted(t *testing.T) {
	s := NewPlainTextStrategy(PlainTextConfig{Logger: discardLogger()})
	if !s.IsAvailable(context.Background()) {
		t.Fatal("plain text reader must always be available")
	}
	_, err := s.Parse(context.Background(), pdfDoc([]byte("garbage bytes")), nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if msg := s.ErrorMessage(err); msg != MsgCorrupted {
		t.Errorf("message = %q (err %v)", msg, err)
	}
}

func TestLocalStrategy_AssetPath(t *testing.T) {
	missing := NewLocalStrategy(LocalConfig{AssetPath: t.TempDir() + "/nope"})
	if missing.IsAvailable(context.Background()) {
		t.Error("missing asset must make the strategy unavailable")
	}
	present := NewLocalStrategy(LocalConfig{AssetPath: t.TempDir()})
	if !present.IsAvailable(context.Background()) {
		t.Error("existing asset must make the strategy available")
	}
}

func TestExtractTextFromStream(t *testing.T) {
	// WHAT: String operands decode escapes and map high bytes to the right characters.
	// WHY: Accented names written as octal escapes must not turn into U+FFFD.
	tests := []struct {
		name   string
		stream string
		want   string
	}{
		{"Tj", "BT\n(Hello) Tj\nET", "Hello"},
		{"TJ array", "BT\n[(Hel) -20 (lo)] TJ\nET", "Hello"},
		{"escaped parens", "BT\n(a \\(b\\) c) Tj\nET", "a (b) c"},
		{"line move", "BT\n(one) Tj\n0 -14 Td\n(two) Tj\nET", "one\ntwo"},
		{"octal escape", "BT\n(x\\040y) Tj\nET", "x y"},
		{"winansi accents", "BT\n(Ren\\351 L\\351vesque, D\\351veloppeur) Tj\nET", "René Lévesque, Développeur"},
		{"winansi punctuation", "BT\n(Caf\\351 \\226 Na\\357ve) Tj\nET", "Café \u2013 Naïve"},
		{"utf-16 with bom", "BT\n(\\376\\377\\000J\\000\\351) Tj\nET", "Jé"},
		{"raw utf-8", "BT\n(Résumé) Tj\nET", "Résumé"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cleanPageText(extractTextFromStream([]byte(tt.stream)))
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractPages(t *testing.T) {
	resp, err := ExtractPages(context.Background(), buildTextPDF("page one text", "page two text"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if resp.PageCount != 2 || len(resp.Pages) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if !strings.Contains(resp.Pages[1].Text, "page two") {
		t.Errorf("page 2 = %+v", resp.Pages[1])
	}
	if resp.NeedsOCR {
		t.Error("text PDF must not need OCR")
	}
}

// --- PDF test helpers ---

func pdfDoc(raw []byte) Document {
	return Document{Content: raw, MediaType: "application/pdf", Filename: "resume.pdf"}
}

// buildTextPDF creates a valid PDF with one page per argument and proper
// xref offsets. Objects: 1 catalog, 2 pages, 3 font, then a page and a
// content stream per page.
func buildTextPDF(pages ...string) []byte {
	n := len(pages)
	total := 3 + 2*n
	offsets := make([]int, total+1)

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")

	offsets[1] = b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[2] = b.Len()
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(pdfItoa(4 + 2*i))
		b.WriteString(" 0 R")
	}
	b.WriteString("] /Count ")
	b.WriteString(pdfItoa(n))
	b.WriteString(" >>\nendobj\n")

	offsets[3] = b.Len()
	b.WriteString("3 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	for i, text := range pages {
		pageObj, contentObj := 4+2*i, 5+2*i

		escaped := strings.ReplaceAll(text, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, "(", `\(`)
		escaped = strings.ReplaceAll(escaped, ")", `\)`)
		stream := "BT\n/F1 12 Tf\n72 720 Td\n(" + escaped + ") Tj\nET"

		offsets[pageObj] = b.Len()
		b.WriteString(pdfItoa(pageObj))
		b.WriteString(" 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents ")
		b.WriteString(pdfItoa(contentObj))
		b.WriteString(" 0 R /Resources << /Font << /F1 3 0 R >> >> >>\nendobj\n")

		offsets[contentObj] = b.Len()
		b.WriteString(pdfItoa(contentObj))
		b.WriteString(" 0 obj\n<< /Length ")
		b.WriteString(pdfItoa(len(stream)))
		b.WriteString(" >>\nstream\n")
		b.WriteString(stream)
		b.WriteString("\nendstream\nendobj\n")
	}

	writeXref(&b, offsets)
	return []byte(b.String())
}

func buildImageOnlyPDF() []byte {
	imgData := "\x00\x00\x00"

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")

	offsets := make([]int, 6)

	offsets[1] = b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[2] = b.Len()
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")

	offsets[3] = b.Len()
	b.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /XObject << /Im1 4 0 R >> >> /Contents 5 0 R >>\nendobj\n")

	offsets[4] = b.Len()
	b.WriteString("4 0 obj\n<< /Type /XObject /Subtype /Image /Width 1 /Height 1 /ColorSpace /DeviceRGB /BitsPerComponent 8 /Length ")
	b.WriteString(pdfItoa(len(imgData)))
	b.WriteString(" >>\nstream\n")
	b.WriteString(imgData)
	b.WriteString("\nendstream\nendobj\n")

	drawStream := "q 100 0 0 100 72 692 cm /Im1 Do Q"
	offsets[5] = b.Len()
	b.WriteString("5 0 obj\n<< /Length ")
	b.WriteString(pdfItoa(len(drawStream)))
	b.WriteString(" >>\nstream\n")
	b.WriteString(drawStream)
	b.WriteString("\nendstream\nendobj\n")

	writeXref(&b, offsets)
	return []byte(b.String())
}

func writeXref(b *strings.Builder, offsets []int) {
	size := len(offsets)
	xrefOffset := b.Len()
	b.WriteString("xref\n0 ")
	b.WriteString(pdfItoa(size))
	b.WriteString("\n0000000000 65535 f \n")
	for i := 1; i < size; i++ {
		b.WriteString(pdfPadOffset(offsets[i]))
		b.WriteString(" 00000 n \n")
	}
	b.WriteString("trailer\n<< /Size ")
	b.WriteString(pdfItoa(size))
	b.WriteString(" /Root 1 0 R >>\nstartxref\n")
	b.WriteString(pdfItoa(xrefOffset))
	b.WriteString("\n%%EOF\n")
}

func pdfItoa(n int) string {
	if n == 0 {
		return "0"
	}
	s := ""
	for n > 0 {
		s = string(rune('0'+n%10)) + s
		n /= 10
	}
	return s
}

func pdfPadOffset(n int) string {
	s := pdfItoa(n)
	for len(s) < 10 {
		s = "0" + s
	}
	return s
}
