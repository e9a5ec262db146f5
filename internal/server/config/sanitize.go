package config

import (
	"slices"
	"strings"
)

// Sanitize returns a copy of cfg that is safe to log. The encryption key
// keeps only its first and last two characters; slices are copied so the
// result can be edited without touching cfg.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	out := *cfg
	out.Cluster.Seeds = slices.Clone(cfg.Cluster.Seeds)
	out.Server.HTTP.AdminAllowList = slices.Clone(cfg.Server.HTTP.AdminAllowList)
	if out.Security.EncryptionKey != "" {
		out.Security.EncryptionKey = maskSecret(out.Security.EncryptionKey)
	}
	return &out
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
