package config

import (
	"net/url"
	"os"
	"sync"
)

// inContainer is computed once from the /.dockerenv marker, which Docker
// creates in every container.
var inContainer = sync.OnceValue(func() bool {
	_, err := os.Stat("/.dockerenv")
	return err == nil
})

// IsRunningInDocker reports whether the engine runs inside a Docker
// container. The check is cached after the first call.
func IsRunningInDocker() bool {
	return inContainer()
}

// ResolveHostForDocker returns the host to use when dialing scan targets and
// the NER sidecar. Inside Docker, "localhost" and "127.0.0.1" refer to the
// container itself, so they are rewritten to "host.docker.internal" to reach
// services on the host machine. Everything else passes through unchanged.
func ResolveHostForDocker(host string) string {
	if host != "localhost" && host != "127.0.0.1" {
		return host
	}
	if !IsRunningInDocker() {
		return host
	}
	return "host.docker.internal"
}

// ResolveURLForDocker rewrites the host portion of rawURL through
// ResolveHostForDocker, preserving scheme, port, and path. URLs that do not
// parse are returned unchanged.
func ResolveURLForDocker(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}

	host := ResolveHostForDocker(u.Hostname())
	if host == u.Hostname() {
		return rawURL
	}

	if port := u.Port(); port != "" {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}
	return u.String()
}
