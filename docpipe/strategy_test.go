package docpipe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hazyhaar/mockinterview/connectivity"
)

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"call timeout", &connectivity.ErrCallTimeout{Service: "x", After: "30s"}, MsgTimeout},
		{"deadline", context.DeadlineExceeded, MsgTimeout},
		{"network", errors.New("connectivity/http: network error: dial tcp: connection refused"), MsgNetwork},
		{"circuit open", &connectivity.ErrCircuitOpen{Service: "worker"}, MsgNetwork},
		{"server error", &connectivity.ErrStatus{Code: 503, Body: "busy"}, MsgNetwork},
		{"no text", ErrNoTextContent, MsgImageBased},
		{"wrapped no text", fmt.Errorf("%w: pages contain only images", ErrNoTextContent), MsgImageBased},
		{"corrupt", errors.New("pdfcpu read: xref table broken"), MsgCorrupted},
		{"malformed", errors.New("Malformed PDF"), MsgCorrupted},
		{"eof", errors.New("unexpected EOF"), MsgCorrupted},
		{"too large", errors.New("document too large"), MsgTooLarge},
		{"memory", errors.New("out of memory"), MsgTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TranslateError("Reader", tt.err); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTranslateError_Total(t *testing.T) {
	// WHAT: Every input, including nil and unknown errors, yields one non-empty sentence.
	// WHY: Raw errors must never reach the user.
	for _, err := range []error{nil, errors.New(""), errors.New("something odd happened")} {
		got := TranslateError("Embedded Text Reader", err)
		if !strings.HasPrefix(got, "Embedded Text Reader could not read this file.") {
			t.Errorf("TranslateError(%v) = %q", err, got)
		}
	}
	if got := TranslateError("", nil); !strings.HasPrefix(got, "The PDF reader") {
		t.Errorf("anonymous strategy: %q", got)
	}
}

// stubPages is an in-memory pageSource. A page maps to text, or to an error
// when the text starts with "!", or panics when it is "panic".
type stubPages struct {
	pages  []string
	closed bool
}

func (s *stubPages) PageCount() int { return len(s.pages) }
func (s *stubPages) Close() error   { s.closed = true; return nil }
func (s *stubPages) PageText(_ context.Context, n int) (string, error) {
	p := s.pages[n-1]
	switch {
	case p == "panic":
		panic("decoder exploded")
	case strings.HasPrefix(p, "!"):
		return "", errors.New(p[1:])
	case p == "":
		return "", ErrEmptyPage
	}
	return p, nil
}

func TestReadPages_SkipsBadPages(t *testing.T) {
	// WHAT: Failing, panicking and empty pages are skipped; the rest is kept in order.
	// WHY: One broken page must not cost the user the whole résumé.
	src := &stubPages{pages: []string{"Summary", "!bad font", "panic", "", "  Skills  "}}

	var events []ProgressEvent
	text, err := readPages(context.Background(), src, "stub", func(ev ProgressEvent) { events = append(events, ev) }, discardLogger())
	if err != nil {
		t.Fatalf("readPages: %v", err)
	}
	if text != "Summary\n\nSkills" {
		t.Errorf("text = %q", text)
	}
	if len(events) != 5 {
		t.Fatalf("got %d events, want one per page", len(events))
	}
	for i, ev := range events {
		if ev.CurrentPage != i+1 || ev.TotalPages != 5 || ev.Stage != StageExtraction {
			t.Errorf("event %d = %+v", i, ev)
		}
		if i > 0 && ev.Progress < events[i-1].Progress {
			t.Errorf("progress decreased at %d", i)
		}
	}
	if events[4].Progress != progressPageEnd {
		t.Errorf("last page progress = %d", events[4].Progress)
	}
}

func TestReadPages_AllEmpty(t *testing.T) {
	_, err := readPages(context.Background(), &stubPages{pages: []string{"", "!x", "   "}}, "stub", nil, discardLogger())
	if !errors.Is(err, ErrNoTextContent) {
		t.Fatalf("err = %v, want ErrNoTextContent", err)
	}
	_, err = readPages(context.Background(), &stubPages{}, "stub", nil, discardLogger())
	if !errors.Is(err, ErrNoTextContent) {
		t.Fatalf("zero pages: err = %v", err)
	}
}

func TestReadPages_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := readPages(ctx, &stubPages{pages: []string{"a"}}, "stub", nil, discardLogger())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestSanitizeText(t *testing.T) {
	// WHAT: Markup is stripped while bracketed content such as e-mail addresses survives.
	// WHY: Résumés write contact details as "<name@host>"; dropping them loses data.
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"   \n\t ", ""},
		{"plain text", "plain text"},
		{"a  b", "a b"},
		{"line one  \r\n  line two", "line one\nline two"},
		{"p1\n\n\n\n\np2", "p1\n\np2"},
		{"<p>Hello</p><img src=x onerror=alert(1)>", "Hello"},
		{"R&amp;D &lt;team&gt;", "R&D <team>"},
		{"O'Brien", "O'Brien"},
		{"Jane Doe <jane.doe@example.com>\nSkills: C++, <Go>, Python", "Jane Doe <jane.doe@example.com>\nSkills: C++, <Go>, Python"},
		{"<Jane Doe>", "<Jane Doe>"},
		{"< 5 years on <Anna> team", "< 5 years on <Anna> team"},
		{"<b>Lead</b> <ops@corp.io>", "Lead <ops@corp.io>"},
		{"<!-- builder -->Summary", "Summary"},
	}
	for _, tt := range tests {
		if got := sanitizeText(tt.in); got != tt.want {
			t.Errorf("sanitizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
