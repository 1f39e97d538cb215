// Package webui exposes the embedded dashboard.
// It lives at the module root so it can embed the sibling "web/" directory;
// internal/server serves it on the control plane.
package webui

import "embed"

// FS is the embedded web directory tree.
//
//go:embed web
var FS embed.FS
