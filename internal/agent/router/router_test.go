package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternlabs/tern/internal/agent/types"
)

func TestRouteExtractLinks(t *testing.T) {
	call, matched := Route("extract all links", PageState{URL: "https://example.test/"})
	require.True(t, matched)
	assert.Equal(t, types.ToolExtractLinks, call.Name)
	assert.Equal(t, types.OriginTrigger, call.Origin)
}

func TestRouteNoMatchFallsThroughToModel(t *testing.T) {
	_, matched := Route("please summarize this page for me in a haiku", PageState{})
	assert.False(t, matched)
}

func TestRouteTieBreakFirstMatchWins(t *testing.T) {
	// "extract all forms and extract all links" matches both the forms and
	// links triggers; forms is registered first, so it must win.
	call, matched := Route("extract all forms and extract all links", PageState{})
	require.True(t, matched)
	assert.Equal(t, types.ToolExtractForms, call.Name)
}

func TestRouteEmptyTextNoMatch(t *testing.T) {
	_, matched := Route("   ", PageState{})
	assert.False(t, matched)
}

func TestRouteAttachSessionExtractsPort(t *testing.T) {
	call, matched := Route("attach to the running browser on port 9222", PageState{})
	require.True(t, matched)
	assert.Equal(t, types.ToolAttachSession, call.Name)
	assert.Equal(t, "9222", call.Args["port"])
}

func TestRouteNeverPanics(t *testing.T) {
	registry = append(registry, trigger{
		name:      "panicky",
		predicate: func(string, PageState) bool { panic("boom") },
		build:     func(string, PageState) types.ToolCall { return types.ToolCall{} },
	})
	defer func() { registry = registry[:len(registry)-1] }()

	assert.NotPanics(t, func() {
		_, matched := Route("trigger the panicky predicate", PageState{})
		assert.False(t, matched)
	})
}
