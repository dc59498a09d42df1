package reliability

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const outlineFixture = `<!DOCTYPE html>
<html>
<head><title>Order history</title><style>body { color: red }</style></head>
<body>
  <h1>Your orders</h1>
  <script>console.log("never visible")</script>
  <div style="display:none">tracking pixel text</div>
  <p aria-hidden="true">screen-reader duplicate</p>
  <p>Two orders found.</p>
  <ul>
    <li><a href="/orders/1">Order #1</a></li>
    <li><a href="/orders/2">Order #2</a></li>
  </ul>
</body>
</html>`

func TestParseOutline(t *testing.T) {
	out := ParseOutline(outlineFixture)

	assert.Equal(t, "Order history", out.Title)
	require.Len(t, out.Headings, 1)
	assert.Equal(t, "Your orders", out.Headings[0])

	require.Len(t, out.Links, 2)
	assert.Equal(t, OutlineLink{Text: "Order #1", Href: "/orders/1"}, out.Links[0])
	assert.Equal(t, OutlineLink{Text: "Order #2", Href: "/orders/2"}, out.Links[1])

	assert.Contains(t, out.Text, "Two orders found.")
	assert.NotContains(t, out.Text, "never visible")
	assert.NotContains(t, out.Text, "tracking pixel text")
	assert.NotContains(t, out.Text, "screen-reader duplicate")
	assert.NotContains(t, out.Text, "color: red")
}

func TestParseOutlineNonHTMLFallsThrough(t *testing.T) {
	// html.Parse is lenient; plain text still lands in Text.
	out := ParseOutline(`{"not": "html"}`)
	assert.Contains(t, out.Text, `{"not": "html"}`)
}

func TestParseOutlineClampsText(t *testing.T) {
	long := "<p>" + strings.Repeat("x", maxOutlineText+500) + "</p>"
	out := ParseOutline(long)
	assert.LessOrEqual(t, len(out.Text), maxOutlineText+len("…"))
	assert.True(t, strings.HasSuffix(out.Text, "…"))
}
