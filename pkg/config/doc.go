/*
Package config loads the Warden manager configuration from a directory
of TOML files.

# Layout

	config/
	├── main.toml          global manager settings + auto-restore
	├── secrets.toml       [servers] api-key-ref → raw bearer key
	├── validator-1.toml   one file per host
	└── validator-2.toml

A host file carries a [server] section (agent endpoint, key reference,
timeouts) and tables of nodes, hermes instances, and ETL services:

	[server]
	host = "10.0.0.5"
	port = 8745
	api_key_ref = "validator-1"

	[nodes.node1]
	network = "osmosis-1"
	rpc_url = "http://10.0.0.5:26657"
	enabled = true
	deploy_path = "/home/osmosis/.osmosisd"
	service_name = "osmosisd"
	pruning_schedule = "0 0 3 * * 0"

# Naming

Node, hermes, and ETL keys are rewritten to {host}-{key} at load unless
already prefixed, so every name is unique fleet-wide. The trackers and
the scheduler key everything by these names. A duplicate node name
across hosts fails the load.

Configuration is immutable at run time: a change requires a manager
restart. The agent does not read these files; it takes its bearer key
from the AGENT_API_KEY environment variable and its bind address from
flags.

# Defaults

Manager port 8746, agent port 8745, health interval 90 s, RPC timeout
10 s, auto-restore cooldown 120 min, pruner binary cosmos-pruner,
state-sync trust offset 2000 blocks, state-sync timeout 1800 s. A
host's api_key_ref defaults to the host name.
*/
package config
