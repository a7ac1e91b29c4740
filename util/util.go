package util

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"
)

//go:embed version.txt
var embeddedVersion string

func GetVersion() string {
	return strings.TrimSpace(embeddedVersion)
}

func GetNameAndVersion() string {
	return fmt.Sprintf("%s / %s", Name, GetVersion())
}

// SanitizeContent strips script/style blocks and all remaining markup from
// remote HTML, unescaping entities afterwards so stored content is plain
// text. Peers send wildly different markup; we keep only what we render.
func SanitizeContent(content string) string {
	stripped := scriptBlockRe.ReplaceAllString(content, "")
	stripped = blockBreakRe.ReplaceAllString(stripped, "\n")
	stripped = tagRe.ReplaceAllString(stripped, "")
	stripped = html.UnescapeString(stripped)
	return strings.TrimSpace(stripped)
}

var (
	scriptBlockRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	blockBreakRe  = regexp.MustCompile(`(?i)<(/p|br\s*/?)>`)
	tagRe         = regexp.MustCompile(`(?s)<[^>]*>`)
	hashtagRe     = regexp.MustCompile(`(?:^|\s)#([\p{L}\p{N}_]+)`)
)

// ExtractHashtags returns the lowercased tag names found in text, without
// the leading '#', deduplicated in order of first appearance.
func ExtractHashtags(text string) []string {
	matches := hashtagRe.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool, len(matches))
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.ToLower(m[1])
		if seen[name] {
			continue
		}
		seen[name] = true
		tags = append(tags, name)
	}
	return tags
}

func PrettyPrint(i interface{}) string {
	s, _ := json.MarshalIndent(i, "", " ")
	return string(s)
}
