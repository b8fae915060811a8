package scraper

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"codealert/internal/core"
)

// Selectors describe where codes live on the source page.
type Selectors struct {
	// Container matches the element holding one child per code.
	Container string
	// LimitedMarker is a class on a child element marking a time-limited code.
	LimitedMarker string
}

func (s Selectors) withDefaults() Selectors {
	if strings.TrimSpace(s.Container) == "" {
		s.Container = "div.codes"
	}
	if strings.TrimSpace(s.LimitedMarker) == "" {
		s.LimitedMarker = "special"
	}
	return s
}

// ParseCodes extracts the code batch from the page HTML.
//
// Each child element of the container contributes its first text token as a
// code; children carrying the limited marker class are classified as
// time-limited. A page without the container is an error (layout changed),
// so a broken page never turns into an empty batch.
func ParseCodes(r io.Reader, sel Selectors) (core.Batch, error) {
	sel = sel.withDefaults()

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	container := doc.Find(sel.Container).First()
	if container.Length() == 0 {
		return nil, fmt.Errorf("page layout changed: no %q container", sel.Container)
	}

	var batch core.Batch
	container.Children().Each(func(_ int, el *goquery.Selection) {
		text := firstToken(el.Text())
		if text == "" {
			return
		}
		batch = append(batch, core.Observation{
			Text:    text,
			Limited: el.HasClass(sel.LimitedMarker),
		})
	})
	return batch, nil
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
