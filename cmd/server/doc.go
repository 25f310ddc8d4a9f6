// Package main is the entry point for the resilience sidecar.
//
// The process hosts the capture extension's error pipeline: subsystems
// report failures over HTTP, the pipeline normalizes, suppresses,
// recovers, and batches them, and the notification widget subscribes to
// the websocket feed for user-facing output.
//
// Configuration comes from environment variables (12-factor); every
// variable has a working default, so a bare ./server starts on
// 127.0.0.1:8090.
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown (drains pending notifications)
package main
