// Package sources holds a curated list of known German OParl endpoints
// used to bootstrap a fresh installation via `init-sources`.
package sources

// Known is one pre-registered OParl endpoint. Priority ranks reliability
// and size: 1 is a major city with a well-exercised OParl deployment, 3
// is a smaller municipality whose endpoint has seen less real-world use.
type Known struct {
	Name     string
	URL      string
	Priority int
}

// majorCities are priority-1 sources: large cities with OParl
// deployments known to be stable.
var majorCities = []Known{
	{"Stadt Köln", "https://buergerinfo.stadt-koeln.de/oparl/system", 1},
	{"Stadt Bonn", "https://www.bonn.sitzung-online.de/public/oparl/system", 1},
	{"Landeshauptstadt Düsseldorf", "https://ris-oparl.itk-rheinland.de/Oparl/system", 1},
	{"Stadt Dresden", "https://oparl.dresden.de/system", 1},
	{"Stadt Leipzig", "https://ratsinformation.leipzig.de/allris_leipzig_public/oparl/system", 1},
	{"Stadt Wuppertal", "https://oparl.wuppertal.de/oparl/system", 1},
	{"Stadt Münster", "https://oparl.stadt-muenster.de/system", 1},
	{"Stadt Aachen", "https://ratsinfo.aachen.de/bi/oparl/1.0/system.asp", 1},
	{"Stadt Braunschweig", "https://ratsinfo.braunschweig.de/bi/oparl/1.0/system.asp", 1},
	{"Stadt Krefeld", "https://ris.krefeld.de/webservice/oparl/v1.1/system", 1},
	{"Stadt Freiburg", "https://ris.freiburg.de/oparl", 1},
	{"Stadt Ulm", "https://buergerinfo.ulm.de/oparl/system", 1},
	{"München Transparent", "https://www.muenchen-transparent.de/oparl/v1.0", 1},
}

// mediumCities are priority-2 sources: smaller cities using the same
// commercial ratsinformation platforms as the majors.
var mediumCities = []Known{
	{"Stadt Hagen", "https://www.hagen.de/buergerinfo/oparl/1.0/system.asp", 2},
	{"Klingenstadt Solingen", "https://sdnetrim.kdvz-frechen.de/rim4957/webservice/oparl/v1.1/system", 2},
	{"Stadt Castrop-Rauxel", "https://castroprauxel.gremien.info/oparl", 2},
	{"Stadt Herford", "https://herford.ratsinfomanagement.net/webservice/oparl/v1.1/system", 2},
	{"Stadt Willich", "https://ris.stadt-willich.de/webservice/oparl/v1.1/system", 2},
	{"Stadt Erkelenz", "https://ratsinfo.erkelenz.de/bi/oparl/1.0/system.asp", 2},
	{"Stadt Brühl", "https://ratsinfo.bruehl.de/webservice/oparl/v1.1/system", 2},
}

// All returns every known source.
func All() []Known {
	out := make([]Known, 0, len(majorCities)+len(mediumCities))
	out = append(out, majorCities...)
	out = append(out, mediumCities...)
	return out
}

// ByMaxPriority returns every known source with priority <= max.
func ByMaxPriority(max int) []Known {
	var out []Known
	for _, s := range All() {
		if s.Priority <= max {
			out = append(out, s)
		}
	}
	return out
}

// Default returns the small set of sources recommended for a first
// install: the major cities, whose OParl deployments have proven most
// reliable in practice.
func Default() []Known {
	return append([]Known(nil), majorCities...)
}
