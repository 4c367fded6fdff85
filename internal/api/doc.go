// Package api hosts the HTTP handlers of the audio download service.
//
// Handler.DownloadAudio walks every request through the same sequence: the
// shared secret, input validation, bearer token validation, the per-identity
// quota, credential staging, the external download, and streaming the file
// back. Cleanup of the staged credential and the downloaded file runs on
// every exit path, including panics.
//
// Failures from any step are classified once into a RequestError and written
// once as {"error": "..."}. Collaborators are injected at construction time;
// the package reaches for no globals except the default metrics recorder.
package api
