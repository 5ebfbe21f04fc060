package feed

import (
	"regexp"
	"strings"
	"time"
)

var (
	orderCodeRe = regexp.MustCompile(`(?:КАУТ|ИБУТ|ТДУТ)-\d+`)
	orderDateRe = regexp.MustCompile(`(\d{2}\.\d{2}\.\d{4})`)
	orderHeadRe = regexp.MustCompile(`((?:КАУТ|ИБУТ|ТДУТ)-\d+)\s+от\s+(\d{2}\.\d{2}\.\d{4})\s+\d{1,2}:\d{2}:\d{2},?\s*(.*)`)

	// An address follows a date and/or time and a comma.
	addressRes = []*regexp.Regexp{
		regexp.MustCompile(`\d{2}\.\d{2}\.\d{4}\s+\d{1,2}:\d{2}:\d{2},\s*([^\n]+)`),
		regexp.MustCompile(`\d:\d{2}:\d{2},\s*([^\n]+)`),
		regexp.MustCompile(`\d{2}\.\d{2}\.\d{4},\s*([^\n]+)`),
	}

	addressGarbageRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i),?\s*зарплата\s+монтажник.*$`),
		regexp.MustCompile(`(?i),?\s*диагностика\s+.*$`),
		regexp.MustCompile(`(?i),?\s*тест\s+делаем.*$`),
		regexp.MustCompile(`(?i)\s+диагностика\s+\S+$`),
		regexp.MustCompile(`(?i)\s*\(эатж.*\)$`),
		regexp.MustCompile(`(?i)\s*\(этаж.*\)$`),
	}
	storePrefixRe = regexp.MustCompile(`^(?:OZON\s+|DDX\s*-?\s*)`)
	tailRe        = regexp.MustCompile(`(\\n|\|).*$`)
)

// Rows without a real site visit.
var noAddressMarkers = []string{
	"ОБУЧЕНИЕ", "обучение", "двойная оплата", "В прошлом расчете",
	"комплекты интернета", "комплект интернета",
}

// isOrderRow tells an order line from a group header.
func isOrderRow(text string) bool {
	return strings.HasPrefix(text, "Заказ") ||
		orderCodeRe.MatchString(text) ||
		strings.Contains(text, "В прошлом расчете")
}

// OrderCode returns the order code found in the text, or "".
func OrderCode(text string) string {
	return orderCodeRe.FindString(text)
}

// OrderDate returns the first dd.mm.yyyy date in the text.
func OrderDate(text string) *time.Time {
	m := orderDateRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	t, err := time.Parse("02.01.2006", m[1])
	if err != nil {
		return nil
	}
	return &t
}

// Address extracts the site address from an order line. Training rows,
// carry-overs and similar produce "".
func Address(text string) string {
	for _, marker := range noAddressMarkers {
		if strings.Contains(text, marker) {
			return ""
		}
	}
	for _, re := range addressRes {
		if m := re.FindStringSubmatch(text); m != nil {
			return cleanAddress(m[1])
		}
	}
	return ""
}

func cleanAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = tailRe.ReplaceAllString(addr, "")
	addr = storePrefixRe.ReplaceAllString(addr, "")
	for _, re := range addressGarbageRes {
		addr = re.ReplaceAllString(addr, "")
	}
	return strings.TrimSpace(addr)
}

// Describe shortens an order line to "CODE от dd.mm.yyyy, rest".
func Describe(text string) string {
	for _, marker := range []string{"ОБУЧЕНИЕ", "В прошлом расчете"} {
		if strings.Contains(text, marker) {
			return text
		}
	}
	if m := orderHeadRe.FindStringSubmatch(text); m != nil {
		rest := tailRe.ReplaceAllString(strings.TrimSpace(m[3]), "")
		return strings.Trim(m[1]+" от "+m[2]+", "+rest, ", ")
	}
	return strings.TrimPrefix(text, "Заказ клиента ")
}
