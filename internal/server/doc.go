// Package server exposes a session to the network: a UDP receiver that
// turns datagrams from remote capture agents into frames, and an HTTP API
// with a websocket event stream and Prometheus metrics.
package server
