package appfs

import "embed"

// FS embeds the database migrations so `migrate` works from any working directory.
//
//go:embed migrations
var FS embed.FS
