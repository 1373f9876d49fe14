// Package api is the HTTP client for the TeddyCloud-style server.
//
// Client wraps every endpoint the encoder workflow touches: remote URL
// metadata and downloads, multipart file uploads, server-side encoding,
// container uploads, the encode queue endpoints, server settings, and the
// Server-Sent Events channel. Request helpers tag failures with the
// services error markers so callers can tell transport faults from server
// rejections.
//
// DTOs mirror the server's camelCase JSON. Form-encoded requests use
// url.Values so repeated keys (the encode source list) keep their order.
package api
