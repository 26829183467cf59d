package server

import "time"

type WebhookConfig struct {
	Url         string `usage:"If set, a POST request that contains connection status notifications will be sent to this HTTP address"`
	RequireUser bool   `default:"false" usage:"Indicates if the webhook will only be called if a user is connecting rather than just server list/ping"`
}

type RoutesConfig struct {
	Config      string `usage:"Name or full [path] to routes config file"`
	ConfigWatch bool   `usage:"Watch for config file changes"`
}

type MetricsBackendConfig struct {
	Influxdb struct {
		Interval        time.Duration     `default:"1m"`
		Tags            map[string]string `usage:"any extra tags to be included with all reported metrics"`
		Addr            string
		Username        string
		Password        string
		Database        string
		RetentionPolicy string
	}
}

type Config struct {
	Port                 int               `default:"25565" usage:"The [port] bound to listen for Minecraft client connections"`
	Default              string            `usage:"host:port of a default Minecraft server to use when mapping not found"`
	Mapping              map[string]string `usage:"Comma or newline delimited or repeated mappings of externalHostname=host:port"`
	Forwarding           string            `default:"none" usage:"How to forward the real client address to backends: none, bungeecord, realip"`
	ApiBinding           string            `usage:"The [host:port] bound for servicing API requests"`
	CpuProfile           string            `usage:"Enables CPU profiling and writes to given path"`
	Debug                bool              `usage:"Enable debug logging"`
	ConnectionRateLimit  int               `default:"1" usage:"Max number of connections to allow per second"`
	MetricsBackend       string            `default:"discard" usage:"Backend to use for metrics exposure/publishing: discard,expvar,influxdb,prometheus"`
	MetricsBackendConfig MetricsBackendConfig
	UseProxyProtocol     bool     `default:"false" usage:"Send PROXY protocol to backend servers"`
	ReceiveProxyProtocol bool     `default:"false" usage:"Receive PROXY protocol from clients, by default trusts every proxy header that it receives, combine with -trusted-proxies to specify a list of trusted proxies"`
	TrustedProxies       []string `usage:"Comma delimited list of CIDR notation IP blocks to trust when receiving PROXY protocol"`
	RecordLogins         bool     `default:"false" usage:"Log and generate metrics on player logins. Metrics only supported with influxdb or prometheus backend"`
	AllowDenyList        string   `usage:"Path to config for server allowlists and denylists of players"`
	Routes               RoutesConfig

	ClientsToAllow []string `usage:"Zero or more client IP addresses or CIDRs to allow. Takes precedence over deny."`
	ClientsToDeny  []string `usage:"Zero or more client IP addresses or CIDRs to deny. Ignored if any configured to allow"`

	SimplifySRV bool `default:"false" usage:"Simplify fully qualified SRV records for mapping"`

	Webhook WebhookConfig `usage:"Webhook configuration"`
}
