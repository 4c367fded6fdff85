// Package server hosts the audio download API from a single HTTP server.
//
// Every route shares one middleware chain: request IDs, request logging,
// metrics, panic recovery, security headers, the CORS allow-list, and a
// process-wide request throttle. Per-identity quotas are enforced by the
// download handler itself, not here.
package server
