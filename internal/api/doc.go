// Package api exposes the hive over HTTP: chat turns with the root agent,
// the current team structure and a health probe.
package api
