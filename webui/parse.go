package webui

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// TrayCounter is one tray row of the counters page.
type TrayCounter struct {
	Tray      int    `json:"tray"`
	Name      string `json:"name"`
	Available int    `json:"available"`
	Printed   int    `json:"printed"`
}

var (
	trayLabelPattern = regexp.MustCompile(`(?i)^\s*(?:tray|bandeja|fach|bac|cassette|cassetto|vassoio|magazin)\s*#?\s*(\d{1,2})\b`)
	integerPattern   = regexp.MustCompile(`-?\d+`)
	// Raw-markup fallback: a tray label followed, possibly across tags, by its count.
	trayFallbackPattern = regexp.MustCompile(`(?is)(?:tray|bandeja|fach|bac|cassette)\s*#?\s*(\d{1,2})\s*[:=\-]?\s*(?:<[^>]*>\s*)*(-?\d{1,5})`)
)

// ParseTrays extracts tray counters from a counters page. Table rows whose
// first cell names a tray are used; when no row matches, a regular
// expression over the raw markup is tried before giving up with ErrParseFailed.
func ParseTrays(body string) ([]TrayCounter, error) {
	trays := parseTrayTable(body)
	if len(trays) == 0 {
		trays = parseTrayFallback(body)
	}
	if len(trays) == 0 {
		return nil, ErrParseFailed
	}
	sort.Slice(trays, func(i, j int) bool { return trays[i].Tray < trays[j].Tray })
	return trays, nil
}

func parseTrayTable(body string) []TrayCounter {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}
	seen := make(map[int]bool)
	var out []TrayCounter
	for _, cells := range tableRows(doc) {
		if len(cells) < 2 {
			continue
		}
		m := trayLabelPattern.FindStringSubmatch(cells[0])
		if m == nil {
			continue
		}
		tray, _ := strconv.Atoi(m[1])
		if seen[tray] {
			continue
		}
		for _, cell := range cells[1:] {
			if n, ok := firstInt(cell); ok {
				seen[tray] = true
				out = append(out, TrayCounter{Tray: tray, Name: strings.TrimSpace(cells[0]), Available: n})
				break
			}
		}
	}
	return out
}

func parseTrayFallback(body string) []TrayCounter {
	seen := make(map[int]bool)
	var out []TrayCounter
	for _, m := range trayFallbackPattern.FindAllStringSubmatch(body, -1) {
		tray, err := strconv.Atoi(m[1])
		if err != nil || seen[tray] {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		seen[tray] = true
		out = append(out, TrayCounter{Tray: tray, Name: "Tray " + m[1], Available: n})
	}
	return out
}

// FindLabeledValue returns the text of the cell following the first table
// cell whose text contains label (case-insensitive).
func FindLabeledValue(body, label string) (string, bool) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return "", false
	}
	label = strings.ToLower(label)
	for _, cells := range tableRows(doc) {
		for i := 0; i < len(cells)-1; i++ {
			if !strings.Contains(strings.ToLower(cells[i]), label) {
				continue
			}
			for _, next := range cells[i+1:] {
				if v := strings.TrimSpace(next); v != "" {
					return v, true
				}
			}
		}
	}
	return "", false
}

// VisibleText returns the page text with markup, scripts and styles removed.
func VisibleText(body string) string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return body
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String()
}

// tableRows returns the trimmed cell texts of every <tr> in document order.
func tableRows(doc *html.Node) [][]string {
	var rows [][]string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Tr {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
					cells = append(cells, strings.Join(strings.Fields(nodeText(c)), " "))
				}
			}
			rows = append(rows, cells)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return rows
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(nodeText(c))
		b.WriteByte(' ')
	}
	return b.String()
}

func firstInt(s string) (int, bool) {
	m := integerPattern.FindString(strings.ReplaceAll(s, ",", ""))
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	return n, err == nil
}

// hasPasswordInput reports whether the page carries a password field.
func hasPasswordInput(body string) bool {
	z := html.NewTokenizer(strings.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "input" || !hasAttr {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if string(key) == "type" && strings.EqualFold(string(val), "password") {
					return true
				}
				if !more {
					break
				}
			}
		}
	}
}
