// 包 version：构建信息；Commit 由 -ldflags "-X geo-survey/internal/version.Commit=<sha>" 注入
package version

var Commit = "dev"
