package requestfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsBot(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		expected  bool
	}{
		{"googlebot", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", true},
		{"bingbot", "Mozilla/5.0 (compatible; bingbot/2.0; +http://www.bing.com/bingbot.htm)", true},
		{"gptbot", "Mozilla/5.0 AppleWebKit/537.36 (KHTML, like Gecko); compatible; GPTBot/1.0", true},
		{"curl", "curl/8.4.0", true},
		{"go http client", "Go-http-client/2.0", true},
		{"python requests", "python-requests/2.31.0", true},
		{"uptime monitor", "Mozilla/5.0+(compatible; UptimeRobot/2.0; http://www.uptimerobot.com/)", true},
		{"headless chrome", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/126.0.0.0 Safari/537.36", true},
		{"empty user agent", "", true},
		{"whitespace user agent", "   ", true},
		{"desktop chrome", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36", false},
		{"mobile safari", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1", false},
		{"firefox", "Mozilla/5.0 (X11; Linux x86_64; rv:127.0) Gecko/20100101 Firefox/127.0", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, IsBot(tc.userAgent))
		})
	}
}

func TestIsNavigation(t *testing.T) {
	tests := []struct {
		name          string
		secFetchMode  string
		secPurpose    string
		legacyPurpose string
		expected      bool
	}{
		{"no metadata", "", "", "", true},
		{"navigate", "navigate", "", "", true},
		{"navigate case insensitive", "Navigate", "", "", true},
		{"cors fetch", "cors", "", "", false},
		{"no-cors fetch", "no-cors", "", "", false},
		{"prefetch", "navigate", "prefetch", "", false},
		{"prerender", "navigate", "prerender", "", false},
		{"legacy prefetch", "", "", "prefetch", false},
		{"legacy preview", "", "", "preview", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, IsNavigation(tc.secFetchMode, tc.secPurpose, tc.legacyPurpose))
		})
	}
}

func TestIsStaticAssetPath(t *testing.T) {
	assert.True(t, IsStaticAssetPath("/images/logo.png"))
	assert.True(t, IsStaticAssetPath("/assets/app.min.js"))
	assert.True(t, IsStaticAssetPath("/favicon.ico"))
	assert.False(t, IsStaticAssetPath("/"))
	assert.False(t, IsStaticAssetPath("/blog/my-post"))
	assert.False(t, IsStaticAssetPath("/blog/my-post/"))
}
