package httpx

import "golang.org/x/crypto/acme/autocert"

// certManager gets Let's Encrypt certificates and keeps them in the cache dir.
// An empty domain accepts any host.
func certManager(domain, cache string) *autocert.Manager {
	m := &autocert.Manager{Prompt: autocert.AcceptTOS, Cache: autocert.DirCache(cache)}
	if domain != "" {
		m.HostPolicy = autocert.HostWhitelist(domain)
	}
	return m
}
