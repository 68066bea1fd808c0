package manager

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
)

func TestEntry_Decorated_AppendsNoteWhenDescriptionPresent(t *testing.T) {
	e := Entry{ServerID: "srv1", ServerName: "weather", Tool: mcp.Tool{Name: "forecast", Description: "gets the forecast"}}
	got := e.Decorated()
	assert.Equal(t, "gets the forecast\n[provided by weather (id: srv1)]", got.Description)
}

func TestEntry_Decorated_FillsDescriptionWhenAbsent(t *testing.T) {
	e := Entry{ServerID: "srv1", ServerName: "weather", Tool: mcp.Tool{Name: "forecast"}}
	got := e.Decorated()
	assert.Equal(t, "Provided by weather (id: srv1).", got.Description)
}

func TestEntry_Decorated_IsIdempotent(t *testing.T) {
	e := Entry{ServerID: "srv1", ServerName: "weather", Tool: mcp.Tool{Name: "forecast"}}
	once := e.Decorated()
	e.Tool = once
	twice := e.Decorated()
	assert.Equal(t, once.Description, twice.Description)
}
