package agents

import (
	"regexp"
	"strconv"
	"strings"

	"edutrack/internal/schema"
)

// AuthorityOfficial is the hint value set on candidates whose domain
// matches a known official or academic source.
const AuthorityOfficial = "official"

// officialDomains maps ISO-2 country codes to education authority domains.
// A candidate hosted on one of these is fast-tracked by the gatekeeper.
var officialDomains = map[string][]string{
	"NG": {
		"nerdc.gov.ng",
		"education.gov.ng",
		"waec.org.ng",
	},
	"KE": {
		"kicd.ac.ke",
		"education.go.ke",
		"knec.ac.ke",
	},
	"GH": {
		"nacca.gov.gh",
		"moe.gov.gh",
	},
	"ZA": {
		"education.gov.za",
		"dbe.gov.za",
	},
	"US": {
		".gov",
		"corestandards.org",
	},
	"GB": {
		"gov.uk",
		"education.gov.uk",
	},
	"CA": {
		".edu.on.ca",
		".edu.bc.ca",
		".edu.ab.ca",
	},
}

// universityDomains are higher-education hosts accepted globally.
var universityDomains = []string{
	".edu",
	".ac.uk",
	".ac.za",
	".edu.ng",
	".edu.au",
	"ocw.mit.edu",
	"coursera.org",
	"edx.org",
	"khanacademy.org",
	"harvard.edu",
	"stanford.edu",
	"ox.ac.uk",
	"cam.ac.uk",
}

// trainingProviderDomains are course platforms that are legitimate sources
// but carry no degree-granting accreditation.
var trainingProviderDomains = []string{
	"coursera.org",
	"edx.org",
	"khanacademy.org",
	"udemy.com",
}

// authorityNames maps known official domains to their full authority name.
var authorityNames = map[string]string{
	"nerdc.gov.ng":     "Nigerian Educational Research and Development Council",
	"education.gov.ng": "Federal Ministry of Education, Nigeria",
	"kicd.ac.ke":       "Kenya Institute of Curriculum Development",
	"nacca.gov.gh":     "National Council for Curriculum and Assessment, Ghana",
	"education.gov.za": "Department of Basic Education, South Africa",
}

// tertiaryGradeTerms flag a grade string as higher education. Matched as
// substrings of the lowercased grade, same as the query planner expects.
var tertiaryGradeTerms = []string{
	"university", "college", "bachelor", "master", "phd",
	"undergraduate", "graduate", "bsc", "msc",
	"year 1", "year 2", "year 3", "year 4",
	"freshman", "sophomore", "junior", "senior",
	"101", "201", "301", "401",
}

var (
	domainPattern = regexp.MustCompile(`https?://([^/]+)`)
	yearPattern   = regexp.MustCompile(`(20[12][0-9])`)
)

// ExtractDomain returns the host portion of a URL, or the input unchanged
// when it does not look like a URL.
func ExtractDomain(rawURL string) string {
	m := domainPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return rawURL
	}
	return m[1]
}

// DetectAuthority returns AuthorityOfficial when the URL belongs to a known
// official domain for the country, a recognized academic host, or carries a
// government or academic pattern. Everything else gets an empty hint.
func DetectAuthority(rawURL, iso2 string) string {
	domain := ExtractDomain(rawURL)

	for _, official := range officialDomains[strings.ToUpper(iso2)] {
		if strings.Contains(domain, official) {
			return AuthorityOfficial
		}
	}
	for _, uni := range universityDomains {
		if strings.Contains(domain, uni) {
			return AuthorityOfficial
		}
	}
	if strings.Contains(domain, ".gov.") || strings.Contains(rawURL, "/gov/") {
		return AuthorityOfficial
	}
	if strings.Contains(domain, ".edu") || strings.Contains(domain, ".ac.") {
		return AuthorityOfficial
	}
	return ""
}

// IsTertiaryGrade reports whether the grade string describes higher
// education rather than a school grade.
func IsTertiaryGrade(grade string) bool {
	lower := strings.ToLower(grade)
	for _, term := range tertiaryGradeTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// ClassifyInstitution assigns the trust tier for a source domain. Official
// and degree-granting academic hosts are accredited, course platforms are
// training providers, and anything else stays unknown.
func ClassifyInstitution(domain, iso2 string) schema.InstitutionType {
	for _, provider := range trainingProviderDomains {
		if strings.Contains(domain, provider) {
			return schema.InstitutionTrainingProvider
		}
	}
	for _, official := range officialDomains[strings.ToUpper(iso2)] {
		if strings.Contains(domain, official) {
			return schema.InstitutionAccredited
		}
	}
	if strings.Contains(domain, ".edu") || strings.Contains(domain, ".ac.") {
		return schema.InstitutionAccredited
	}
	return schema.InstitutionUnknown
}

// AuthorityName returns the display name of the education authority behind
// a domain, falling back to a generic label for the country.
func AuthorityName(domain, country string) string {
	if name, ok := authorityNames[domain]; ok {
		return name
	}
	return "Education Authority, " + country
}

// PublicationYear extracts a publication year from a URL. Zero means no
// year was detectable.
func PublicationYear(rawURL string) int {
	m := yearPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return 0
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return year
}
