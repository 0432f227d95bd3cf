package expression

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/c360/assetflow/pkg/cache"
)

const (
	regexCacheSize   = 100
	maxPatternLength = 500
	maxCaptureGroups = 20
	maxNestingDepth  = 5
)

// regexCache holds compiled patterns shared by every session
var regexCache = func() *cache.LRU[*regexp.Regexp] {
	c, err := cache.NewLRU[*regexp.Regexp](regexCacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize regex cache: %v", err))
	}
	return c
}()

// Large repetition counts such as {1000,} or {2500}
var excessiveRepetition = regexp.MustCompile(`\{\s*\d{4,}`)

// Fragments that indicate exponential backtracking in backtracking engines.
// Go's RE2 is linear, but rule documents are also read by other tooling.
var dangerousFragments = []string{
	`(\w+)*\w`,
	`(\w*)+`,
	`(a+)+`,
	`([a-zA-Z]+)*`,
	`(\d+)*\d`,
	`(.*)*`,
	`(.+)+`,
	`(\s+)*\s`,
	`([^,]+)*[^,]`,
}

// compileRegex returns a cached compiled regex or compiles and caches a new one
func compileRegex(pattern string) (*regexp.Regexp, error) {
	if re, found := regexCache.Get(pattern); found {
		return re, nil
	}

	if err := validateRegexComplexity(pattern); err != nil {
		return nil, err
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern '%s': %w", pattern, err)
	}

	if _, err := regexCache.Set(pattern, re); err != nil {
		return nil, err
	}
	return re, nil
}

// validateRegexComplexity rejects patterns prone to pathological matching
func validateRegexComplexity(pattern string) error {
	if len(pattern) > maxPatternLength {
		return fmt.Errorf("regex pattern too long (max %d chars): %d chars", maxPatternLength, len(pattern))
	}

	for _, fragment := range dangerousFragments {
		if strings.Contains(pattern, fragment) {
			return fmt.Errorf("regex pattern contains potentially dangerous construct: nested quantifiers that may cause exponential backtracking")
		}
	}

	if excessiveRepetition.MatchString(pattern) {
		return fmt.Errorf("regex pattern contains excessive repetition count (>= 1000)")
	}

	if strings.Count(pattern, "(") > maxCaptureGroups {
		return fmt.Errorf("regex pattern has too many capture groups (max %d)", maxCaptureGroups)
	}

	nestLevel := 0
	maxNest := 0
	for _, ch := range pattern {
		switch ch {
		case '(':
			nestLevel++
			if nestLevel > maxNest {
				maxNest = nestLevel
			}
		case ')':
			nestLevel--
		}
	}
	if maxNest > maxNestingDepth {
		return fmt.Errorf("regex pattern has excessive nesting depth (max %d levels)", maxNestingDepth)
	}

	return nil
}

// clearCache removes all cached patterns
func clearCache() {
	regexCache.Clear()
}

// cacheSize returns the current number of cached patterns
func cacheSize() int {
	return regexCache.Size()
}

// cacheStats returns cache statistics
func cacheStats() *cache.Statistics {
	return regexCache.Stats()
}
