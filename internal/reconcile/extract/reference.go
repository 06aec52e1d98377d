package extract

import "regexp"

// referencePattern is case-sensitive on the label: "Ref", "REF" or "UTR", then whitespace or
// colons, then the alphanumeric token.
var referencePattern = regexp.MustCompile(`(?:Ref|REF|UTR)[\s:]+([A-Za-z0-9]+)`)

// Reference returns the first reference token in text, or nil.
func Reference(text string) *string {
	m := referencePattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	ref := m[1]
	return &ref
}
