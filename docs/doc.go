// Package docs holds the OpenAPI general info for the storyboard server.
// Handler annotations live next to the endpoints in internal/server/endpoints.
//
// Storyboard API
//
//	@title			Storyboard API
//	@version		1.0
//	@description	Batch page image generation with daily budget tracking.
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http
package docs

//go:generate swag init -g ../cmd/storyboard/serve.go -o ./swagger --parseDependency --parseInternal
