// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It adapts the entry workflow (create, upload,
// analysis retry, review and batch save) to JSON over HTTP and translates
// service errors to status codes without leaking internal details.
package api
