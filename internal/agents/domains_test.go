package agents

import (
	"testing"

	"edutrack/internal/schema"
)

func TestDetectAuthority(t *testing.T) {
	cases := []struct {
		name string
		url  string
		iso2 string
		want string
	}{
		{"nigerian council", "https://nerdc.gov.ng/curriculum/biology-jss3-2019.pdf", "NG", AuthorityOfficial},
		{"kenyan institute", "https://kicd.ac.ke/curriculum/secondary/science.pdf", "KE", AuthorityOfficial},
		{"uk government", "https://www.gov.uk/government/publications/national-curriculum", "GB", AuthorityOfficial},
		{"university host", "https://ocw.mit.edu/courses/biology/7-012-fall-2004/", "US", AuthorityOfficial},
		{"gov pattern outside table", "https://www.education.gov.au/curriculum", "AU", AuthorityOfficial},
		{"academic pattern", "https://www.uct.ac.za/biology/syllabus", "ZA", AuthorityOfficial},
		{"gov path segment", "https://portal.example.com/gov/standards.pdf", "US", AuthorityOfficial},
		{"commercial blog", "https://www.studynotes.example.com/biology", "NG", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectAuthority(tc.url, tc.iso2); got != tc.want {
				t.Errorf("DetectAuthority(%q, %q) = %q, want %q", tc.url, tc.iso2, got, tc.want)
			}
		})
	}
}

func TestIsTertiaryGrade(t *testing.T) {
	cases := []struct {
		grade string
		want  bool
	}{
		{"Grade 9", false},
		{"JSS 3", false},
		{"University Year 2", true},
		{"BSc Computer Science", true},
		{"Undergraduate", true},
		{"Freshman", true},
		{"Biology 101", true},
		{"Form 4", false},
	}
	for _, tc := range cases {
		if got := IsTertiaryGrade(tc.grade); got != tc.want {
			t.Errorf("IsTertiaryGrade(%q) = %t, want %t", tc.grade, got, tc.want)
		}
	}
}

func TestClassifyInstitution(t *testing.T) {
	cases := []struct {
		domain string
		iso2   string
		want   schema.InstitutionType
	}{
		{"coursera.org", "US", schema.InstitutionTrainingProvider},
		{"khanacademy.org", "US", schema.InstitutionTrainingProvider},
		{"harvard.edu", "US", schema.InstitutionAccredited},
		{"kicd.ac.ke", "KE", schema.InstitutionAccredited},
		{"nerdc.gov.ng", "NG", schema.InstitutionAccredited},
		{"study-blog.example.com", "US", schema.InstitutionUnknown},
	}
	for _, tc := range cases {
		if got := ClassifyInstitution(tc.domain, tc.iso2); got != tc.want {
			t.Errorf("ClassifyInstitution(%q, %q) = %q, want %q", tc.domain, tc.iso2, got, tc.want)
		}
	}
}

func TestExtractDomain(t *testing.T) {
	if got := ExtractDomain("https://nerdc.gov.ng/curriculum/biology.pdf"); got != "nerdc.gov.ng" {
		t.Errorf("domain = %q, want nerdc.gov.ng", got)
	}
	if got := ExtractDomain("http://example.com"); got != "example.com" {
		t.Errorf("domain = %q, want example.com", got)
	}
	if got := ExtractDomain("not a url"); got != "not a url" {
		t.Errorf("non-URL input should pass through, got %q", got)
	}
}

func TestPublicationYear(t *testing.T) {
	cases := []struct {
		url  string
		want int
	}{
		{"https://nerdc.gov.ng/curriculum/biology-jss3-2019.pdf", 2019},
		{"https://kicd.ac.ke/2024/science.pdf", 2024},
		{"https://example.com/curriculum.pdf", 0},
		{"https://example.com/standards-2035.pdf", 0},
	}
	for _, tc := range cases {
		if got := PublicationYear(tc.url); got != tc.want {
			t.Errorf("PublicationYear(%q) = %d, want %d", tc.url, got, tc.want)
		}
	}
}

func TestAuthorityName(t *testing.T) {
	if got := AuthorityName("kicd.ac.ke", "Kenya"); got != "Kenya Institute of Curriculum Development" {
		t.Errorf("known domain name = %q", got)
	}
	if got := AuthorityName("unknown.example.com", "Kenya"); got != "Education Authority, Kenya" {
		t.Errorf("fallback name = %q", got)
	}
}
