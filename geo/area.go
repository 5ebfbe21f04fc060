package geo

import "strings"

// Area restricts fuel payments to a service area. Addresses outside it
// resolve to distance zero without geocoding.
type Area interface {
	Contains(address string) bool
	// Qualify adds the area name when the address lacks one, which makes
	// geocoding far more reliable.
	Qualify(address string) string
}

// MoscowRegion is Moscow city plus Moscow oblast. Addresses that name no
// region at all are assumed to be inside: most orders are local and their
// addresses rarely carry a city.
type MoscowRegion struct{}

var moscowMarkers = []string{
	"москва", "московская обл", "московской обл", "мо,", "мо ", "м.о.",
	"московский", "подмосков",
}

// Street names that would otherwise match another city.
var moscowStreets = []string{
	"севастопольский", "крымский", "симферопольск", "ялтинск",
	"одесская", "киевское шоссе", "калининградск",
}

var otherRegions = []string{
	"санкт-петербург", " спб,", " спб ", "г.спб", "г. спб",
	"ленинградская обл", "петербург",
	"краснодар", "г.сочи", "г. сочи", "новосибирск", "екатеринбург",
	"г.казань", "г. казань", "нижний новгород", "челябинск", "самара",
	"омск", "ростов-на-дону", "г.уфа", "г. уфа", "красноярск", "пермь",
	"воронеж", "волгоград", "саратов", "тюмень", "тольятти",
	"республика крым", "г.севастополь", "г. севастополь",
	"калининградская обл",
}

func (MoscowRegion) Contains(address string) bool {
	a := strings.ToLower(strings.TrimSpace(address))
	if a == "" {
		return false
	}
	if containsAny(a, moscowMarkers) || containsAny(a, moscowStreets) {
		return true
	}
	return !containsAny(a, otherRegions)
}

func (MoscowRegion) Qualify(address string) string {
	a := strings.ToLower(address)
	if strings.Contains(a, "москва") || strings.Contains(a, "московская") {
		return address
	}
	return "Москва, " + address
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
