package config

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/amoylab/wuhost/internal/common/cnst"
)

// ValidationError collects every problem found in one configuration
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid configuration")
	for _, p := range e.Problems {
		sb.WriteString("\n--> ")
		sb.WriteString(p)
	}
	return sb.String()
}

// Validate checks the parts of the configuration that would otherwise fail late
func Validate(cfg *WuHostConfig) error {
	var problems []string

	if ip, err := netip.ParseAddr(cfg.Host.BindAddress); err != nil || !ip.Is4() {
		problems = append(problems, fmt.Sprintf("host.bind_address %q is not an IPv4 address", cfg.Host.BindAddress))
	}
	if port, err := strconv.Atoi(cfg.Host.BindPort); err != nil || port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("host.bind_port %q is not a valid port", cfg.Host.BindPort))
	}
	if cfg.Signaling.Port < 0 || cfg.Signaling.Port > 65535 {
		problems = append(problems, fmt.Sprintf("signaling.port %d is out of range", cfg.Signaling.Port))
	}
	if cfg.Signaling.Path != "" && !strings.HasPrefix(cfg.Signaling.Path, "/") {
		problems = append(problems, fmt.Sprintf("signaling.path %q must start with /", cfg.Signaling.Path))
	}

	switch cnst.StoreType(cfg.Session.Type) {
	case cnst.StoreTypeMemory:
	case cnst.StoreTypeRedis:
		if cfg.Session.Redis.Addr == "" {
			problems = append(problems, "session.redis.addr is required for the redis store")
		}
	default:
		problems = append(problems, fmt.Sprintf("session.type %q: %v", cfg.Session.Type, cnst.ErrUnsupportedStore))
	}

	if key := cfg.Admin.JWT.SecretKey; key != "" && len(key) < 32 {
		problems = append(problems, "admin.jwt.secret_key must be at least 32 characters")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
