// Package errors provides coded, categorized errors for worldsync.
//
// Every failure the daemon reports maps to a registered code (e.g.
// "E101") with a short message, a longer explanation and, where one
// exists, a fix suggestion.
//
// # Error Categories
//
//   - decode: malformed datagrams (dropped and counted, never fatal)
//   - protocol: violations and rejected handshakes
//   - timeout: handshake and liveness timeouts
//   - capacity: bounded buffers and connection limits
//   - transport: socket bind and WebSocket upgrade failures
//   - config: configuration file errors
//   - storage: ban list and recording sinks
//   - cli: command line failures
//
// # Usage
//
//	err := errors.New(errors.CodeConfigParse).
//	    WithLocationFromYAML("worldsync.yaml", yamlErr).
//	    Wrap(yamlErr)
//
//	errors.Print(os.Stderr, err)
//	// ERROR E101: Invalid config syntax
//	//
//	//   worldsync.yaml:4
//	//
//	//        2 │ listen: ":7777"
//	//        3 │ tick_rate: 30
//	//      → 4 │ timeouts: [
//	//        5 │ log:
//	//
//	//   The configuration file is not valid YAML.
package errors
