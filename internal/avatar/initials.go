package avatar

import (
	"crypto/sha256"
	"fmt"
	"html"
	"strings"
)

// InitialsSVG renders a round initials avatar. The colour is derived from
// seed so a contact keeps the same colour when renamed.
func InitialsSVG(label, seed string) []byte {
	initials := html.EscapeString(extractInitials(label))
	color := deterministicColor(seed)
	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="256" height="256" viewBox="0 0 256 256">
  <rect width="256" height="256" rx="128" fill="%s"/>
  <text x="128" y="128" dy=".35em" text-anchor="middle"
        font-family="sans-serif" font-size="100" font-weight="600" fill="#fff">%s</text>
</svg>`, color, initials)
	return []byte(svg)
}

func extractInitials(label string) string {
	parts := strings.Fields(label)
	switch {
	case len(parts) == 0:
		return "?"
	case len(parts) >= 2:
		return strings.ToUpper(string([]rune(parts[0])[:1]) + string([]rune(parts[1])[:1]))
	}
	r := []rune(parts[0])
	return strings.ToUpper(string(r[:min(len(r), 2)]))
}

var palette = []string{
	"#e74c3c", "#e67e22", "#f1c40f", "#2ecc71", "#1abc9c",
	"#3498db", "#9b59b6", "#e91e63", "#00bcd4", "#ff5722",
	"#607d8b", "#795548", "#8bc34a", "#673ab7",
}

func deterministicColor(s string) string {
	h := sha256.Sum256([]byte(s))
	return palette[int(h[0])%len(palette)]
}
