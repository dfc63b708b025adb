package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Endpoint pairs an HTTP route with the CLI command that calls it, so the
// server and `storyboard api` never drift apart.
type Endpoint interface {
	// Route returns the method, the ServeMux path pattern and the handler.
	Route() (method, path string, handler http.HandlerFunc)

	// RequiresInit reports whether the handler needs the usage ledger and
	// the batch manager. Such routes answer 503 until startup completes.
	RequiresInit() bool

	// Command builds the cobra command for the route. getServerURL is read
	// when the command runs, after flags are parsed. A nil command keeps
	// the route HTTP-only.
	Command(getServerURL func() string) *cobra.Command
}

// RouteInfo describes a registered route.
type RouteInfo struct {
	Method       string `json:"method"`
	Path         string `json:"path"`
	RequiresInit bool   `json:"requires_init"`
}

// Describe returns the route of ep without its handler.
func Describe(ep Endpoint) RouteInfo {
	method, path, _ := ep.Route()
	return RouteInfo{Method: method, Path: path, RequiresInit: ep.RequiresInit()}
}
