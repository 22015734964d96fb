/*
Package server holds the TOML configuration shared by the sogs command and an HTTP service
that converts uploaded PLY scenes into SOG bundles.

	POST /api/export?iterations=N&codec=webp   PLY body; responds with an application/zip bundle
	GET  /api/version                         generator and version as JSON
	GET  /api/health                          "ok"

If [auth] secret_key is set, exports require an HS256 bearer token carrying a "user" claim.
Identical concurrent uploads share a single export.
*/
package server
