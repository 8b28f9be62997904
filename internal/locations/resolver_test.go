package locations

import "testing"

func TestResolveCityAddresses(t *testing.T) {
	cases := []struct {
		address string
		want    string
	}{
		{"45 Deansgate, Manchester, M3 2AY", "Manchester Piccadilly"},
		{"12 Broad Street, Birmingham, B1 2HF", "Birmingham New Street"},
		{"8 Princes Street, Edinburgh, EH2 2AN", "Edinburgh Waverley"},
		{"3 Bold Street, Liverpool, L1 4DJ", "Liverpool Lime Street"},
		{"22 Buchanan St, Glasgow, G1 3HL", "Glasgow Central"},
	}
	for _, tc := range cases {
		got, ok := Resolve(tc.address)
		if !ok {
			t.Errorf("Resolve(%q) unresolved, want %q", tc.address, tc.want)
			continue
		}
		if got != tc.want {
			t.Errorf("Resolve(%q) = %q, want %q", tc.address, got, tc.want)
		}
	}
}

func TestResolveLondonPostcodes(t *testing.T) {
	cases := []struct {
		address string
		want    string
	}{
		{"221B Baker Street, London, NW1 6XE", "London Euston"},
		{"1 Fleet Street, London, EC4Y 1AA", "London King's Cross"},
		{"10 Bayswater Road, London, W2 3HJ", "London Paddington"},
		{"90 Westminster Bridge Rd, London, SE1 7UA", "London Waterloo"},
		{"5 Kensington High St, SW7 2AZ", "London Waterloo"},
		{"14 Camden High Street, London", "London King's Cross"},
		{"London", "London Euston"},
	}
	for _, tc := range cases {
		got, ok := Resolve(tc.address)
		if !ok {
			t.Errorf("Resolve(%q) unresolved, want %q", tc.address, tc.want)
			continue
		}
		if got != tc.want {
			t.Errorf("Resolve(%q) = %q, want %q", tc.address, got, tc.want)
		}
	}
}

func TestResolveUnknown(t *testing.T) {
	for _, addr := range []string{"", "12 Rue de Rivoli, Paris", "somewhere nice"} {
		if got, ok := Resolve(addr); ok {
			t.Errorf("Resolve(%q) = %q, want unresolved", addr, got)
		}
	}
}

func TestResolveLondonderryIsNotLondon(t *testing.T) {
	for _, addr := range []string{
		"10 High Street, Londonderry, BT48 6DQ",
		"Londonderry",
	} {
		if got, ok := Resolve(addr); ok {
			t.Errorf("Resolve(%q) = %q, want unresolved", addr, got)
		}
	}
}

func TestResolveDeterministic(t *testing.T) {
	const addr = "45 Deansgate, Manchester, M3 2AY"
	first, ok := Resolve(addr)
	if !ok {
		t.Fatalf("Resolve(%q) unresolved", addr)
	}
	for i := 0; i < 50; i++ {
		got, ok := Resolve(addr)
		if !ok || got != first {
			t.Fatalf("Resolve(%q) iteration %d = %q ok=%v, want %q", addr, i, got, ok, first)
		}
	}
}

func TestNormalizeCity(t *testing.T) {
	p := Normalize("London")
	if p.Kind != KindCity {
		t.Fatalf("kind = %q, want %q", p.Kind, KindCity)
	}
	if len(p.Stations) != 7 {
		t.Errorf("london stations = %d, want 7", len(p.Stations))
	}

	p = Normalize("manchester")
	if p.Kind != KindCity || len(p.Stations) != 1 || p.Stations[0] != "Manchester Piccadilly" {
		t.Errorf("Normalize(manchester) = %+v", p)
	}
}

func TestNormalizeStation(t *testing.T) {
	p := Normalize("London Euston")
	if p.Kind != KindStation {
		t.Fatalf("kind = %q, want %q", p.Kind, KindStation)
	}
	if len(p.Stations) != 1 || p.Stations[0] != "London Euston" {
		t.Errorf("stations = %v", p.Stations)
	}

	p = Normalize("piccadilly")
	if p.Kind != KindStation || len(p.Stations) != 1 || p.Stations[0] != "Manchester Piccadilly" {
		t.Errorf("Normalize(piccadilly) = %+v", p)
	}
}

func TestNormalizeUnknown(t *testing.T) {
	for _, in := range []string{"atlantis", ""} {
		if p := Normalize(in); p.Kind != KindUnknown || len(p.Stations) != 0 {
			t.Errorf("Normalize(%q) = %+v, want unknown", in, p)
		}
	}
}

func TestSuggest(t *testing.T) {
	cities, stations := Suggest("man")
	if len(cities) != 1 || cities[0] != "manchester" {
		t.Errorf("cities = %v", cities)
	}
	if len(stations) != 1 || stations[0] != "Manchester Piccadilly" {
		t.Errorf("stations = %v", stations)
	}
}
