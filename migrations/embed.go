// Package migrations embeds the numbered SQL files applied to every tenant
// schema by `clinicaldocs-server migrate up` and `tenant create`.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
