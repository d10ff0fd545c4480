package bot

import (
	"errors"
	"strings"
)

// ParseTenantArg extracts the tenant id from command arguments.
func ParseTenantArg(args string) (string, error) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return "", errors.New("tenant is required")
	}
	return parts[0], nil
}

// ParseTenantFilterArgs splits "<tenant> <filter name or id>". The filter
// part may contain spaces.
func ParseTenantFilterArgs(args string) (tenant, filter string, err error) {
	parts := strings.SplitN(strings.TrimSpace(args), " ", 2)
	if len(parts) < 2 {
		return "", "", errors.New("usage: <tenant> <filter>")
	}
	tenant = parts[0]
	filter = strings.TrimSpace(parts[1])
	if filter == "" {
		return "", "", errors.New("filter name is required")
	}
	return tenant, filter, nil
}
