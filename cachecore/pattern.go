package cachecore

import (
	"regexp"
	"strings"
	"sync"
)

// regexCache memoizes compiled glob-to-regex patterns across calls, the
// same unbounded-but-small cache shape pkg/utils/pattern.go documents
// with its "PRODUCTION NOTE: unbounded" caveat.
var regexCache sync.Map

// matchPattern supports exact match, a trailing "*" prefix wildcard, a
// bare "*" matching everything, and falls back to a glob-to-regex
// conversion for interior wildcards, grounded on
// O-tero-Distributed-Caching-System/pkg/utils/pattern.go's MatchPattern.
func matchPattern(pattern, key string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == key
	}
	if strings.HasSuffix(pattern, "*") && strings.Count(pattern, "*") == 1 {
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
	}
	re := globToRegex(pattern)
	return re.MatchString(key)
}

func globToRegex(pattern string) *regexp.Regexp {
	if cached, ok := regexCache.Load(pattern); ok {
		return cached.(*regexp.Regexp)
	}
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '.', '+', '(', ')', '[', ']', '{', '}', '^', '$', '|', '\\':
			b.WriteString(regexp.QuoteMeta(string(r)))
		default:
			b.WriteRune(r)
		}
	}
	b.WriteString("$")
	re := regexp.MustCompile(b.String())
	regexCache.Store(pattern, re)
	return re
}
