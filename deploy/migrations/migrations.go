// Package migrations embeds the SQL schema of the MySQL memory store.
package migrations

import "embed"

// Files 暴露所有 SQL 迁移文件，文件名以版本号开头，例如 0001_memory.sql。
//
//go:embed *.sql
var Files embed.FS
