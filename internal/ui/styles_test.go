package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultStyles_CoversEveryRole(t *testing.T) {
	// When: getting the colored style set
	styles := DefaultStyles()

	// Then: every role renders its text
	for name, rendered := range map[string]string{
		"header":    styles.Header.Render("indexing corpus"),
		"success":   styles.Success.Render("done"),
		"warning":   styles.Warning.Render("budget denied"),
		"error":     styles.Error.Render("failed"),
		"dim":       styles.Dim.Render("query-id"),
		"stage":     styles.Stage.Render("embedding"),
		"active":    styles.Active.Render("●"),
		"progress":  styles.Progress.Render("42%"),
		"sparkline": styles.Sparkline.Render("▁▃▅█"),
		"label":     styles.Label.Render("Budget used:"),
	} {
		assert.NotEmpty(t, rendered, name)
	}
}

func TestNoColorStyles_RenderPlain(t *testing.T) {
	// When: getting the plain style set
	styles := NoColorStyles()

	// Then: rendering passes text through without ANSI codes
	assert.Equal(t, "reranked 12 docs", styles.Success.Render("reranked 12 docs"))
	assert.Equal(t, "budget_exhausted", styles.Warning.Render("budget_exhausted"))
	assert.Equal(t, "▁▃▅█", styles.Sparkline.Render("▁▃▅█"))
}

func TestGetStyles_SelectsByColorPreference(t *testing.T) {
	// When: toggling noColor
	plain := GetStyles(true)
	colored := GetStyles(false)

	// Then: plain passes text through, colored keeps the text present
	assert.Equal(t, "ok", plain.Success.Render("ok"))
	assert.Contains(t, colored.Success.Render("ok"), "ok")
}

func TestDefaultStyles_HeaderIsBold(t *testing.T) {
	styles := DefaultStyles()

	assert.True(t, styles.Header.GetBold())
	assert.True(t, styles.Active.GetBold())
}
