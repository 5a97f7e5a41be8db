package protocol

import (
	"fmt"
	"time"

	v1 "github.com/gate4ai/mcpconform/internal/protocol/schema/v20241105"
	v2 "github.com/gate4ai/mcpconform/internal/protocol/schema/v20250326"
	v3 "github.com/gate4ai/mcpconform/internal/protocol/schema/v20250618"
	"github.com/gate4ai/mcpconform/internal/transport"
)

// SupportedVersions lists every protocol revision this harness can drive,
// newest first.
var SupportedVersions = []string{v3.ProtocolVersion, v2.ProtocolVersion, v1.ProtocolVersion}

// New builds the Adapter for the named protocol revision. A timeout <= 0
// falls back to defaultRequestTimeout.
func New(version string, t transport.Transport, timeout time.Duration) (*Adapter, error) {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	switch version {
	case v1.ProtocolVersion:
		return New20241105(t, timeout), nil
	case v2.ProtocolVersion:
		return New20250326(t, timeout), nil
	case v3.ProtocolVersion:
		return New20250618(t, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported protocol version %q, expected one of %v", version, SupportedVersions)
	}
}
