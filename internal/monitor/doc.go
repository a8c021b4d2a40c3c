// Package monitor runs the node-local collection loop, holding the latest
// GPU snapshot for the API, the WebSocket broadcaster, and alert evaluation.
package monitor
