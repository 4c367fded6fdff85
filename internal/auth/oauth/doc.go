// Package oauth validates bearer tokens against a remote identity provider
// and reports the caller identity. Two providers are supported: an OpenID
// Connect userinfo endpoint and Google's tokeninfo introspection endpoint.
package oauth
