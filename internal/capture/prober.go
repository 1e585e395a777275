package capture

import (
	"fmt"
	"net/url"
	"runtime"
	"strings"
)

// Support is the result of a capability probe.
type Support struct {
	Supported bool
	Reason    string
}

// Platforms where display-audio capture is known broken regardless of
// backend. Keyed by GOOS, value is the operator-facing reason.
var incompatiblePlatforms = map[string]string{
	"ios":     "system audio capture is not available on iOS",
	"android": "system audio capture is not available on Android",
	"js":      "system audio capture requires the native host, not the wasm build",
}

var loopbackHosts = map[string]struct{}{
	"localhost": {},
	"127.0.0.1": {},
	"::1":       {},
	"[::1]":     {},
}

// Probe checks, in order and short-circuiting on the first failure, whether
// system audio capture can be attempted: the signaling origin must be secure
// (https or a loopback host), a display-capture backend must be registered,
// and the platform must not be on the known-incompatible list. Pure, no side
// effects; call it before every capture attempt.
func Probe(origin string) Support {
	if !secureOrigin(origin) {
		return Support{Reason: fmt.Sprintf("insecure origin %q: system audio capture requires https or a loopback host", origin)}
	}
	if displayAudio() == nil {
		return Support{Reason: "no display-audio capture backend is registered on this host"}
	}
	if reason, bad := incompatiblePlatforms[runtime.GOOS]; bad {
		return Support{Reason: reason}
	}
	return Support{Supported: true}
}

func secureOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Scheme, "https") {
		return true
	}
	host := u.Hostname()
	if host == "" {
		host = strings.ToLower(origin)
	}
	_, ok := loopbackHosts[strings.ToLower(host)]
	return ok
}
