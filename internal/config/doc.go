// Package config provides configuration parsing for worldsync servers.
//
// The configuration is stored in worldsync.yaml. Durations are written the
// way time.ParseDuration reads them and are converted into tick counts for
// the connection layer.
//
// # Configuration File Structure
//
//	listen: ":7777"
//	transport: udp            # or websocket
//	tick_rate: 30
//	max_connections: 1024
//	mtu: 1200
//	timeouts:
//	  handshake: 5s
//	  liveness: 10s
//	  heartbeat: 1s
//	  linger: 100ms
//	replication:
//	  window: 32
//	  max_interest: 1024
//	  interpolation_depth: 3
//	admin:
//	  listen: 127.0.0.1:7778
//	log:
//	  level: info
//	  format: text
//	banlist:
//	  path: bans.sqlite
//	replay:
//	  enabled: true
//	  dir: recordings
//	  s3:
//	    bucket: my-recordings
//	    region: eu-central-1
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	server := netsync.NewServer(tr, reg,
//	    netsync.WithConnConfig(cfg.ConnConfig()),
//	    netsync.WithReplicationConfig(cfg.ReplicationConfig()))
package config
