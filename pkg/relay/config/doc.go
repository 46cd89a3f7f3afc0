/*
Package config loads relay settings from YAML or JSON files and the
environment.

# Raw access

Config wraps the decoded map and returns defaults for missing keys or
mismatched types, so partially filled files are fine:

	cfg, err := config.FromFile("relay.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	interval := cfg.Sub("connectivity").Duration("interval", 5*time.Second)

# Typed settings

Most callers want Settings, which starts from Default, applies the file and
then RELAY_* environment variables, and validates the result:

	s, err := config.Load("relay.yaml", os.Getenv)

A file like:

	store:
	  driver: sqlite
	  path: /var/lib/relay/queue.db
	delivery:
	  max_retry_attempts: 3
	  handler_timeout: 20s
	connectivity:
	  probe: tcp
	  targets: ["1.1.1.1:53"]
	emergency:
	  contacts: ["+15550100"]
	  user_name: Alice
	log:
	  level: debug
*/
package config
