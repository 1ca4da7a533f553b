// Package cli implements the fleetwatch command-line interface.
//
// Each Cobra command loads the configuration through loadConfig, which
// layers changed flags over FLEETWATCH_* environment variables, the config
// file and defaults. Commands then delegate to a run* function that takes
// its collaborators explicitly so it can be tested without a cluster CLI:
//
//	fleetwatch serve      - feed worker, poll scheduler and HTTP API
//	fleetwatch poll       - one full cycle, persisted, printed as a table
//	fleetwatch clusters   - enumerate the fleet
//	fleetwatch usage      - summarize a running server through its API
//	fleetwatch doctor     - check config, paths, clusters, feed and database
//	fleetwatch config     - print the resolved configuration as YAML
//	fleetwatch version    - build information
//
// serve and poll build an App, which owns every long-lived component for
// one configuration. Nothing is kept in package state beyond flag values.
package cli
