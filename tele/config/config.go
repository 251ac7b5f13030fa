// MQTT bridge configuration, kept separate to avoid a package loop
// between state and tele.
package tele_config

type Config struct { //nolint:maligned
	Enable      bool   `hcl:"enable"`
	Broker      string `hcl:"broker"` // e.g. tcp://192.168.1.2:1883
	TopicPrefix string `hcl:"topic_prefix"`
	ClientID    string `hcl:"client_id"`
	Username    string `hcl:"username"`
	Password    string `hcl:"password"`

	KeepaliveSec      int  `hcl:"keepalive_sec"`
	NetworkTimeoutSec int  `hcl:"network_timeout_sec"`
	LogDebug          bool `hcl:"log_debug"`
}
