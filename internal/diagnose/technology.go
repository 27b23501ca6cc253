// Package diagnose derives site diagnostics from rendered pages: a technology
// classifier and a performance scorer, both behind strategy interfaces.
package diagnose

import (
	"net/http"
	"regexp"
	"sort"
	"strings"
)

// TechReport names the detected platform stack, strongest signal first.
type TechReport struct {
	Primary  string   `json:"primary"`
	Detected []string `json:"detected"`
}

// TechDetector classifies the platform behind a page.
type TechDetector interface {
	Detect(url, html string, headers http.Header) TechReport
}

// HeuristicDetector scores platform fingerprints found in the URL, the
// rendered DOM and the response headers. Plain brand mentions in body text
// are deliberately not enough for the strict platforms (Shopify).
type HeuristicDetector struct{}

// NewHeuristicDetector constructs the default classifier.
func NewHeuristicDetector() *HeuristicDetector {
	return &HeuristicDetector{}
}

var (
	shopifyMetaRe    = regexp.MustCompile(`<meta[^>]+name=["']shopify-`)
	shopifyRuntimeRe = regexp.MustCompile(`window\.shopify|shopify\.theme|shopify\.routes`)
)

type techHit struct {
	name  string
	score int
}

// Detect runs the fingerprint rules and ranks the matches by score.
func (d *HeuristicDetector) Detect(url, html string, headers http.Header) TechReport {
	h := make(map[string]string, len(headers))
	for key, values := range headers {
		h[strings.ToLower(key)] = strings.Join(values, ", ")
	}

	var dump strings.Builder
	for key, value := range h {
		dump.WriteString(key)
		dump.WriteString(":")
		dump.WriteString(value)
		dump.WriteString("\n")
	}

	hay := strings.ToLower(url) + "\n" + strings.ToLower(dump.String()) + "\n" + strings.ToLower(html)

	var hits []techHit
	add := func(name string, score int) {
		hits = append(hits, techHit{name: name, score: score})
	}
	has := func(needle string) bool { return strings.Contains(hay, needle) }
	hasHeader := func(key string) bool {
		_, ok := h[key]
		return ok
	}
	headerStartsWith := func(prefix string) bool {
		for key := range h {
			if strings.HasPrefix(key, prefix) {
				return true
			}
		}
		return false
	}
	headerValIncludes := func(key, needle string) bool {
		return strings.Contains(strings.ToLower(h[key]), needle)
	}

	// Site builders and CMS.
	if has("website-files.com") {
		add("Webflow", 10)
	}
	if has("webflow.js") {
		add("Webflow", 9)
	}
	if has("data-wf-site") || has("data-wf-page") {
		add("Webflow", 8)
	}
	if has("w-webflow-badge") || has("w-nav") || has("w-inline-block") {
		add("Webflow", 6)
	}
	if has(`name="generator"`) && has("webflow") {
		add("Webflow", 7)
	}

	if has("wp-content") || has("wp-includes") {
		add("WordPress", 10)
	}
	if has("/wp-json/") {
		add("WordPress", 7)
	}
	if has(`name="generator"`) && has("wordpress") {
		add("WordPress", 8)
	}

	if has("wixsite.com") || has("wixstatic.com") {
		add("Wix", 10)
	}
	if has("squarespace.com") || has("static.squarespace.com") {
		add("Squarespace", 10)
	}
	if has("framerusercontent.com") || has("framer.com/m/") {
		add("Framer", 10)
	}

	// Shopify accepts only store-level signals.
	shopifyStrong := has("cdn.shopify.com") ||
		has("myshopify.com") ||
		has("shopifycloud.com") ||
		shopifyMetaRe.MatchString(hay) ||
		shopifyRuntimeRe.MatchString(hay) ||
		headerStartsWith("x-shopify-") ||
		headerValIncludes("server", "shopify") ||
		headerValIncludes("via", "shopify")
	if shopifyStrong {
		add("Shopify", 12)
	}

	if has("mage/cookies") || has("magento") {
		add("Magento", 9)
	}
	if has("cdn.bc0a.com") || has("bigcommerce") {
		add("BigCommerce", 9)
	}

	// Frontend frameworks.
	if has("__next_data__") || has("/_next/") {
		add("Next.js", 9)
	}
	if has("next-head-count") {
		add("Next.js", 6)
	}
	if has("__nuxt") || has("/_nuxt/") {
		add("Nuxt", 8)
	}
	if has("gatsby") && (has("webpackchunk") || has("__gatsby")) {
		add("Gatsby", 7)
	}
	if has("data-reactroot") || has("react-dom") || has("__react_devtools_global_hook__") {
		add("React", 6)
	}
	if has("data-v-") || has("__vue__") {
		add("Vue", 6)
	}
	if has("sveltekit") || has("/_app/immutable/") {
		add("SvelteKit", 8)
	}

	// Backend hints.
	if headerValIncludes("x-powered-by", "php") || has(".php") {
		add("PHP", 4)
	}
	if has("laravel_session") || headerValIncludes("x-powered-by", "laravel") {
		add("Laravel", 7)
	}
	if hasHeader("x-aspnet-version") || has("asp.net") {
		add("ASP.NET", 7)
	}

	return rankHits(hits)
}

// rankHits keeps the best score per technology, preserving first-seen order
// among equal scores.
func rankHits(hits []techHit) TechReport {
	best := make(map[string]int)
	var order []string
	for _, hit := range hits {
		if prev, ok := best[hit.name]; !ok {
			best[hit.name] = hit.score
			order = append(order, hit.name)
		} else if hit.score > prev {
			best[hit.name] = hit.score
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return best[order[i]] > best[order[j]]
	})

	primary := "Unknown"
	if len(order) > 0 {
		primary = order[0]
	}
	return TechReport{Primary: primary, Detected: order}
}
