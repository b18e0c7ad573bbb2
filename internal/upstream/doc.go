// Package upstream holds the registry of proxied targets: one reverse proxy
// per configured service, plus an optional fallback proxy. Admission and
// failure accounting for these targets live in the breaker engine; this
// package only knows how to forward.
package upstream
