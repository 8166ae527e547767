// Package scripts embeds the default rule catalogue.
package scripts

import "embed"

// FS holds validate/*.risor.
//
//go:embed validate/*.risor
var FS embed.FS
