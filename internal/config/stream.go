package config

import (
	"context"
	"os"
	"strings"

	"github.com/google/uuid"
)

// IdentityFunc returns a host identity such as an EC2 instance id.
type IdentityFunc func(ctx context.Context) (string, error)

var hostname = os.Hostname

// ResolveStreamName picks the configured stream name, then the first identity
// that answers, then the hostname, and finally a random id.
func ResolveStreamName(ctx context.Context, configured string, identities ...IdentityFunc) string {
	if name := strings.TrimSpace(configured); name != "" {
		return name
	}
	for _, identify := range identities {
		if id, err := identify(ctx); err == nil && strings.TrimSpace(id) != "" {
			return strings.TrimSpace(id)
		}
	}
	if h, err := hostname(); err == nil && h != "" {
		return h
	}
	return uuid.NewString()
}
