package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCoverSizesBySubjectLength(t *testing.T) {
	t.Parallel()

	c := NewComposer(DefaultCanvas())

	short, err := c.Cover("活着", "在苦难里看见光", "#2E3B2E")
	require.NoError(t, err)
	require.Contains(t, short, "font-size:180px")
	require.Contains(t, short, "《活着》")
	require.Contains(t, short, "在苦难里看见光")
	require.Contains(t, short, "border:64px solid #2E3B2E")

	long, err := c.Cover("The Pragmatic Programmer", "t", "#2E3B2E")
	require.NoError(t, err)
	require.Contains(t, long, "font-size:120px")
}

func TestQuoteEscapesText(t *testing.T) {
	t.Parallel()

	c := NewComposer(DefaultCanvas())
	doc, err := c.Quote(`<script>alert(1)</script>`, "#5C2D2D")
	require.NoError(t, err)
	require.NotContains(t, doc, "<script>")
	require.Contains(t, doc, "font-size:56px")
	require.Contains(t, doc, `id="card"`)
}

func TestUnsafeColorFallsBack(t *testing.T) {
	t.Parallel()

	c := NewComposer(DefaultCanvas())
	doc, err := c.Quote("q", "red;}body{display:none")
	require.NoError(t, err)
	require.Contains(t, doc, "solid "+fallbackColor)
	require.False(t, strings.Contains(doc, "display:none"))
}

func TestCanvasSizeInMarkup(t *testing.T) {
	t.Parallel()

	c := NewComposer(Canvas{Width: 600, Height: 800, Background: "#FFFFFF", FontFamily: "serif"})
	doc, err := c.Quote("q", "#000000")
	require.NoError(t, err)
	require.Contains(t, doc, "width:600px;height:800px")
	require.Equal(t, 600, c.Canvas().Width)
}
