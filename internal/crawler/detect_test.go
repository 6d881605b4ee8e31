package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestDetectBlock(t *testing.T) {
	tests := []struct {
		name  string
		state PageState
		want  string
	}{
		{
			name:  "results_page",
			state: PageState{Title: "dentista sao paulo - Google Maps", URL: "https://www.google.com/maps/search/dentista", HTML: readFixture(t, "maps_results.html")},
			want:  "",
		},
		{
			name:  "sorry_url",
			state: PageState{Title: "Sorry", URL: "https://www.google.com/sorry/index?continue=x", HTML: "<html><body>x</body></html>"},
			want:  BlockSorryPage,
		},
		{
			name:  "captcha_form",
			state: PageState{Title: "Google", URL: "https://www.google.com/maps/search/x", HTML: readFixture(t, "blocked_sorry.html")},
			want:  BlockCaptcha,
		},
		{
			name:  "unusual_traffic_text",
			state: PageState{Title: "Google", URL: "https://www.google.com/maps", HTML: "<html><body><p>Nossos sistemas detectaram tráfego incomum na sua rede de computadores.</p></body></html>"},
			want:  BlockUnusualTraffic,
		},
		{
			name:  "blank",
			state: PageState{Title: "", URL: "about:blank", HTML: "<html><head></head><body></body></html>"},
			want:  BlockBlankPage,
		},
		{
			name:  "rate_limited",
			state: PageState{Title: "429 Too Many Requests", URL: "https://www.google.com/maps", HTML: "<html><body><h1>Too Many Requests</h1><p>Please retry later, the service is receiving too many requests from your network.</p></body></html>"},
			want:  BlockRateLimited,
		},
		{
			name:  "query_word_in_maps_title",
			state: PageState{Title: "Forbidden Bar 403 - Google Maps", URL: "https://www.google.com/maps/search/forbidden+bar", HTML: readFixture(t, "maps_results.html")},
			want:  "",
		},
		{
			name:  "forbidden_status_page",
			state: PageState{Title: "403 Forbidden", URL: "https://www.google.com/maps", HTML: "<html><body><h1>Forbidden</h1><p>Your client does not have permission to get this URL from this server. That is all we know.</p></body></html>"},
			want:  BlockForbidden,
		},
		{
			name:  "proxy_error",
			state: PageState{Title: "www.google.com", URL: "chrome-error://chromewebdata/", HTML: "<html><body><div>This site can't be reached. ERR_TUNNEL_CONNECTION_FAILED while connecting through the configured proxy server.</div></body></html>"},
			want:  BlockConnectionError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectBlock(tt.state); got != tt.want {
				t.Errorf("DetectBlock() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHasConsentDialog(t *testing.T) {
	if !HasConsentDialog(readFixture(t, "consent.html")) {
		t.Fatal("expected consent dialog")
	}
	if HasConsentDialog(readFixture(t, "maps_results.html")) {
		t.Fatal("results page has no consent dialog")
	}
}

func TestOnMapsPage(t *testing.T) {
	if !OnMapsPage("https://www.google.com/maps/search/dentista+sao+paulo/@-23.5,-46.6,13z") {
		t.Fatal("maps url rejected")
	}
	if OnMapsPage("https://consent.google.com/ml?continue=x") {
		t.Fatal("consent url accepted")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected crawlErrorType
	}{
		{"nil_error", nil, errTypeUnknown},
		{"context_deadline", context.DeadlineExceeded, errTypeTimeout},
		{"context_canceled", context.Canceled, errTypeTimeout},
		{"wrapped_deadline", fmt.Errorf("navigate timeout: %w", context.DeadlineExceeded), errTypeTimeout},
		{"timeout_string", errors.New("operation timeout"), errTypeTimeout},

		// 封禁错误
		{"typed_block", &errBlocked{kind: BlockCaptcha}, errTypeBlocked},
		{"wrapped_block", fmt.Errorf("detect: %w", &errBlocked{kind: BlockSorryPage}), errTypeBlocked},
		{"blocked_page", errors.New("blocked_page detected"), errTypeBlocked},
		{"403_error", errors.New("HTTP 403 forbidden"), errTypeBlocked},
		{"429_error", errors.New("HTTP 429 too many requests"), errTypeBlocked},

		// 网络错误
		{"net_error", errors.New("net::ERR_CONNECTION_REFUSED"), errTypeNetwork},
		{"navigate_error", errors.New("navigate failed"), errTypeNetwork},
		{"proxy_error", errors.New("proxy refused"), errTypeNetwork},

		// 解析错误
		{"parse_error", errors.New("parse error"), errTypeParseError},
		{"bad_status", errors.New("unexpected response status 500"), errTypeParseError},

		{"unknown_error", errors.New("some random error"), errTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := classifyError(tt.err)
			if result != tt.expected {
				t.Errorf("classifyError(%v) = %v, expected %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestClassifyCrawlerError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil_error", nil, "unknown"},
		{"timeout", errors.New("timeout"), "timeout"},
		{"network", errors.New("net::ERR"), "network_error"},
		{"blocked", errors.New("403 forbidden"), "blocked"},
		{"parse", errors.New("parse error"), "parse_error"},
		{"unknown", errors.New("something else"), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := classifyCrawlerError(tt.err)
			if result != tt.expected {
				t.Errorf("classifyCrawlerError(%v) = %q, expected %q", tt.err, result, tt.expected)
			}
		})
	}
}
