// Package locations maps free-text city names, station names, and customer
// postal addresses to canonical station identifiers. All lookups are static
// table scans: the same input always yields the same output, and anything
// the tables don't cover comes back Unresolved rather than a guessed default.
package locations

import (
	"regexp"
	"sort"
	"strings"
)

// cityStations maps a lowercase city key to its stations. London fans out to
// its seven termini; every other city has a single primary station.
var cityStations = map[string][]string{
	"london": {
		"London Euston",
		"London King's Cross",
		"London Paddington",
		"London Victoria",
		"London St Pancras",
		"London Marylebone",
		"London Waterloo",
	},
	"manchester": {"Manchester Piccadilly"},
	"birmingham": {"Birmingham New Street"},
	"edinburgh":  {"Edinburgh Waverley"},
	"glasgow":    {"Glasgow Central"},
	"liverpool":  {"Liverpool Lime Street"},
	"leeds":      {"Leeds"},
	"cardiff":    {"Cardiff Central"},
	"bristol":    {"Bristol Temple Meads"},
	"newcastle":  {"Newcastle Central"},
	"sheffield":  {"Sheffield"},
	"york":       {"York"},
	"oxford":     {"Oxford"},
	"cambridge":  {"Cambridge"},
	"brighton":   {"Brighton"},
	"bath":       {"Bath Spa"},
	"exeter":     {"Exeter St Davids"},
	"portsmouth": {"Portsmouth Harbour"},
	"canterbury": {"Canterbury West"},
	"dover":      {"Dover Priory"},
	"hull":       {"Hull"},
	"coventry":   {"Coventry"},
	"leicester":  {"Leicester"},
	"nottingham": {"Nottingham"},
	"derby":      {"Derby"},
	"aberdeen":   {"Aberdeen"},
	"stirling":   {"Stirling"},
	"swansea":    {"Swansea"},
	"warwick":    {"Warwick"},
	"gatwick":    {"Gatwick Airport"},
	"airport":    {"Gatwick Airport"},
}

// cityVariations covers common abbreviations seen in customer addresses.
var cityVariations = map[string]string{
	"bham": "birmingham",
	"birm": "birmingham",
	"manc": "manchester",
	"edi":  "edinburgh",
	"glas": "glasgow",
}

// londonAreas maps a London area or street to the terminus customers there
// normally depart from.
var londonAreas = map[string]string{
	"baker street":   "London Euston",
	"marylebone":     "London Euston",
	"euston":         "London Euston",
	"regent street":  "London Euston",
	"oxford street":  "London Euston",
	"bloomsbury":     "London Euston",
	"fitzrovia":      "London Euston",
	"gower street":   "London Euston",
	"king's cross":   "London King's Cross",
	"camden":         "London King's Cross",
	"islington":      "London King's Cross",
	"hackney":        "London King's Cross",
	"city of london": "London King's Cross",
	"fleet street":   "London King's Cross",
	"canary wharf":   "London King's Cross",
	"paddington":     "London Paddington",
	"bayswater":      "London Paddington",
	"notting hill":   "London Paddington",
	"hyde park":      "London Paddington",
	"waterloo":       "London Waterloo",
	"south bank":     "London Waterloo",
	"lambeth":        "London Waterloo",
	"southwark":      "London Waterloo",
}

var (
	londonPostcodeRe = regexp.MustCompile(`\b(w[0-9]|wc[0-9]|ec[0-9]|e[0-9]+|sw[0-9]|se[0-9]|n[0-9]|nw[0-9])`)
	ecPostcodeRe     = regexp.MustCompile(`\bec[0-9]`)
	westPostcodeRe   = regexp.MustCompile(`\bw[0-9]`)
	southPostcodeRe  = regexp.MustCompile(`\b(se[0-9]|sw[0-9])`)
)

// stationCity is the reverse index, built once at init.
var stationCity = func() map[string]string {
	idx := make(map[string]string)
	for city, stations := range cityStations {
		for _, s := range stations {
			idx[strings.ToLower(s)] = city
		}
	}
	return idx
}()

// Resolve maps a customer address to the canonical station they would
// normally depart from. ok is false when the address names no known city;
// callers then ask the customer instead of assuming.
func Resolve(address string) (station string, ok bool) {
	addr := strings.ToLower(strings.TrimSpace(address))
	if addr == "" {
		return "", false
	}

	city := extractCity(addr)
	switch city {
	case "":
		return "", false
	case "london":
		return londonStation(addr), true
	}

	stations := cityStations[city]
	if len(stations) == 0 {
		return "", false
	}
	return stations[0], true
}

// extractCity finds the city a lowercase address refers to.
func extractCity(addr string) string {
	// London postcodes identify the city even without the word "london".
	// Word-bounded so Londonderry does not read as London.
	if londonPostcodeRe.MatchString(addr) || containsWord(addr, "london") {
		return "london"
	}
	for city := range cityStations {
		if city != "london" && containsWord(addr, city) {
			return city
		}
	}
	for variation, city := range cityVariations {
		if containsWord(addr, variation) {
			return city
		}
	}
	return ""
}

// londonStation picks the terminus for a London address: named areas first,
// then postcode district, then the Euston default.
func londonStation(addr string) string {
	for area, station := range londonAreas {
		if strings.Contains(addr, area) {
			return station
		}
	}
	switch {
	case ecPostcodeRe.MatchString(addr):
		return "London King's Cross"
	case westPostcodeRe.MatchString(addr):
		return "London Paddington"
	case southPostcodeRe.MatchString(addr):
		return "London Waterloo"
	}
	return "London Euston"
}

func containsWord(s, word string) bool {
	idx := strings.Index(s, word)
	for idx >= 0 {
		before := idx == 0 || !isAlpha(s[idx-1])
		afterIdx := idx + len(word)
		after := afterIdx >= len(s) || !isAlpha(s[afterIdx])
		if before && after {
			return true
		}
		next := strings.Index(s[idx+1:], word)
		if next < 0 {
			return false
		}
		idx += 1 + next
	}
	return false
}

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// InputKind classifies a location string handed to Normalize.
type InputKind string

const (
	KindCity    InputKind = "city"
	KindStation InputKind = "station"
	KindUnknown InputKind = "unknown"
)

// Place is the normalized form of a user-supplied location.
type Place struct {
	Kind     InputKind
	City     string
	Stations []string
}

// Normalize decides whether input names a city or a station and returns the
// station list the ledger should search. Unknown input returns KindUnknown
// with no stations.
func Normalize(input string) Place {
	key := strings.ToLower(strings.TrimSpace(input))
	if key == "" {
		return Place{Kind: KindUnknown}
	}

	if stations, ok := cityStations[key]; ok {
		out := make([]string, len(stations))
		copy(out, stations)
		return Place{Kind: KindCity, City: key, Stations: out}
	}

	if city, ok := stationCity[key]; ok {
		for _, s := range cityStations[city] {
			if strings.ToLower(s) == key {
				return Place{Kind: KindStation, City: city, Stations: []string{s}}
			}
		}
	}

	// Partial station match ("kings cross", "piccadilly").
	for lower, city := range stationCity {
		if strings.Contains(lower, key) || strings.Contains(key, lower) {
			for _, s := range cityStations[city] {
				if strings.ToLower(s) == lower {
					return Place{Kind: KindStation, City: city, Stations: []string{s}}
				}
			}
		}
	}

	return Place{Kind: KindUnknown}
}

// Suggest returns cities and stations matching a partial query, for
// clarification prompts when an input came back unresolved.
func Suggest(query string) (cities, stations []string) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	for city, list := range cityStations {
		if strings.Contains(city, q) {
			cities = append(cities, city)
		}
		for _, s := range list {
			if strings.Contains(strings.ToLower(s), q) {
				stations = append(stations, s)
			}
		}
	}
	sort.Strings(cities)
	sort.Strings(stations)
	return cities, stations
}

// Stations returns every canonical station, sorted.
func Stations() []string {
	var out []string
	for _, list := range cityStations {
		out = append(out, list...)
	}
	sort.Strings(out)
	return out
}
