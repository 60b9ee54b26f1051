package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Message string
	Fields  []string
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	for _, f := range e.Fields {
		sb.WriteString("\n--> ")
		sb.WriteString(f)
	}
	return sb.String()
}

// Validate checks the combinations SetDefaults cannot repair
func (c *ChatServerConfig) Validate() error {
	var fields []string

	if c.Port < 0 || c.Port > 65535 {
		fields = append(fields, fmt.Sprintf("port: %d out of range", c.Port))
	}

	switch c.Storage.Type {
	case "memory":
	case "db":
		switch c.Storage.Database.Type {
		case "sqlite", "postgres", "mysql":
		default:
			fields = append(fields, fmt.Sprintf("storage.database.type: unsupported %q", c.Storage.Database.Type))
		}
		if c.Storage.Database.DBName == "" {
			fields = append(fields, "storage.database.dbname: required")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			fields = append(fields, "storage.redis.addr: required")
		}
		if c.Storage.Redis.ClusterType == "sentinel" && c.Storage.Redis.MasterName == "" {
			fields = append(fields, "storage.redis.master_name: required for sentinel")
		}
	default:
		fields = append(fields, fmt.Sprintf("storage.type: unsupported %q", c.Storage.Type))
	}

	if len(fields) > 0 {
		return &ValidationError{Message: "invalid chat server configuration", Fields: fields}
	}
	return nil
}
