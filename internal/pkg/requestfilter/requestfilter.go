// Package requestfilter decides whether a request counts as a genuine
// frontend pageview. Bot detection uses Matomo-style regex patterns loaded
// from an embedded YAML database and compiled lazily through a shared cache.
package requestfilter

import (
	"embed"
	"fmt"
	"path"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

//go:embed patterns/bots.yml
var patternFiles embed.FS

// BotEntry is one bot pattern from the embedded database.
type BotEntry struct {
	Regex    string `yaml:"regex"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

// Compiled regex cache
type regexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func newRegexCache() *regexCache {
	return &regexCache{
		compiled: make(map[string]*pcre.Regexp),
	}
}

func (rc *regexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mutex.RLock()
	if regex, exists := rc.compiled[pattern]; exists {
		rc.mutex.RUnlock()
		return regex, nil
	}
	rc.mutex.RUnlock()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	// Double-check pattern
	if regex, exists := rc.compiled[pattern]; exists {
		return regex, nil
	}

	regex, err := pcre.Compile(pattern)
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = regex
	return regex, nil
}

var (
	matcher *botMatcher
	once    sync.Once
)

type botMatcher struct {
	bots  []BotEntry
	cache *regexCache
}

func getMatcher() *botMatcher {
	once.Do(func() {
		matcher = &botMatcher{cache: newRegexCache()}

		if data, err := patternFiles.ReadFile("patterns/bots.yml"); err == nil {
			if err := yaml.Unmarshal(data, &matcher.bots); err != nil {
				fmt.Printf("Error parsing bots.yml: %v\n", err)
			}
		}
	})
	return matcher
}

// IsBot reports whether the user agent matches a known crawler, monitor, or
// automation library. An empty user agent is treated as a bot; real
// browsers always send one.
func IsBot(userAgent string) bool {
	if strings.TrimSpace(userAgent) == "" {
		return true
	}

	m := getMatcher()
	for _, bot := range m.bots {
		if regex, err := m.cache.get(bot.Regex); err == nil {
			if regex.MatchString(userAgent) {
				return true
			}
		}
	}
	return false
}

// IsNavigation reports whether the fetch metadata describes a real
// navigation rather than a speculative or prefetch request. Absent headers
// pass: older browsers send none of them.
func IsNavigation(secFetchMode, secPurpose, legacyPurpose string) bool {
	if secFetchMode != "" && !strings.EqualFold(secFetchMode, "navigate") {
		return false
	}
	for _, purpose := range []string{secPurpose, legacyPurpose} {
		switch strings.ToLower(strings.TrimSpace(purpose)) {
		case "prefetch", "preview", "prerender":
			return false
		}
	}
	return true
}

// IsStaticAssetPath reports whether the request path looks like a file
// fetch instead of a page navigation: its last segment carries an
// extension.
func IsStaticAssetPath(requestPath string) bool {
	ext := path.Ext(path.Base(requestPath))
	return ext != "" && ext != "."
}
