// Package migrations 内嵌数据库迁移脚本
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Path 传给迁移器的内嵌路径
const Path = "."
