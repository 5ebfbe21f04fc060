package feed

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ClientPaymentMarker suffixes the group header of orders the client paid
// directly.
const ClientPaymentMarker = "(оплата клиентом)"

// excludedGroups are group headers in the order feed that are not people.
var excludedGroups = []string{
	"доставка",
	"доставка лестницы",
	"осмотр без оплаты (оплачен ранее)",
	"осмотр без оплаты",
	"помощник",
	"итого",
	"параметры:",
	"отбор:",
	"монтажник",
	"заказ, комментарий",
}

// CleanName strips the client-payment marker and normalizes Unicode and
// whitespace. Exports mix composed and decomposed Cyrillic.
func CleanName(name string) string {
	name = norm.NFC.String(name)
	name = strings.ReplaceAll(name, ClientPaymentMarker, "")
	return strings.Join(strings.Fields(name), " ")
}

// IsWorkerName reports whether a group header looks like a person: at least
// two words, not an excluded group, and a capitalized, mostly alphabetic
// surname.
func IsWorkerName(name string) bool {
	clean := CleanName(name)
	if clean == "" {
		return false
	}
	lower := strings.ToLower(clean)
	for _, g := range excludedGroups {
		if strings.HasPrefix(lower, g) {
			return false
		}
	}

	words := strings.Fields(clean)
	if len(words) < 2 {
		return false
	}
	surname := []rune(words[0])
	if !unicode.IsUpper(surname[0]) {
		return false
	}
	letters := 0
	for _, r := range surname {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return float64(letters) >= float64(len(surname))*0.8
}

// NameMap maps short worker names onto the fuller spelling seen elsewhere,
// e.g. "Иванов Иван" -> "Иванов Иван Иванович".
type NameMap map[string]string

// BuildNameMap maps every name that is a word-prefix of a longer name onto
// the longest such name.
func BuildNameMap(names []string) NameMap {
	seen := make(map[string]bool, len(names))
	var clean []string
	for _, n := range names {
		c := CleanName(n)
		if c != "" && !seen[c] {
			seen[c] = true
			clean = append(clean, c)
		}
	}
	sort.Slice(clean, func(i, j int) bool {
		if len(clean[i]) != len(clean[j]) {
			return len(clean[i]) > len(clean[j])
		}
		return clean[i] < clean[j]
	})

	m := make(NameMap)
	for i, short := range clean {
		for _, long := range clean[:i] {
			if strings.HasPrefix(long, short+" ") {
				m[short] = long
				break
			}
		}
	}
	return m
}

// Normalize returns the canonical base name.
func (m NameMap) Normalize(name string) string {
	c := CleanName(name)
	if full, ok := m[c]; ok {
		return full
	}
	return c
}
