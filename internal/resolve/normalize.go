// Package resolve canonicalizes company identifiers for matching: name
// normalization, domain extraction and string similarity.
package resolve

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixRe matches one trailing legal-entity suffix with an optional period.
var legalSuffixRe = regexp.MustCompile(`[\s,]+(inc|llc|ltd|corp|corporation|limited|co)\.?\s*$`)

var multiSpaceRe = regexp.MustCompile(`\s+`)

// separators become spaces; every other punctuation rune is dropped.
var separatorReplacer = strings.NewReplacer("-", " ", "/", " ", "_", " ")

// NormalizeName standardizes a company name for matching by:
//  1. Folding accents and lowercasing
//  2. Removing one trailing legal suffix (inc, llc, ltd, corp, ...)
//  3. Stripping punctuation
//  4. Collapsing whitespace and trimming
func NormalizeName(name string) string {
	name = strings.TrimSpace(foldAccents(name))
	if name == "" {
		return ""
	}

	name = strings.ToLower(name)
	name = legalSuffixRe.ReplaceAllString(name, "")
	name = separatorReplacer.Replace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return r
	}, name)

	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// FirstToken returns the first whitespace-separated token of a normalized name.
func FirstToken(normalized string) string {
	fields := strings.Fields(normalized)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func foldAccents(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// ExtractDomain returns the lowercase hostname of a URL or bare host with any
// leading "www." removed. ok is false when the input cannot be parsed.
func ExtractDomain(rawURL string) (domain string, ok bool) {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return "", false
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimPrefix(host, "www.")
	if host == "" || strings.ContainsAny(host, " \t") {
		return "", false
	}
	return host, true
}
