package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/thenaterhood/spudproxy/records"
	"github.com/thenaterhood/spudproxy/resolver"
	"github.com/thenaterhood/spudproxy/system"
)

const envFileVariable = "SPUDPROXY_ENV_FILE"

type AppConfig struct {
	BindAddress string `json:"bind_address"`
	// Further addresses to listen on, e.g. "::" next to "0.0.0.0" for
	// dual stack. Each gets its own socket and receive loop.
	ExtraBindAddresses []string `json:"extra_bind_addresses"`
	DnsServerPort      int      `json:"dns_server_port"`
	// Names to redirect and the address to answer with.
	Records []records.Record `json:"records"`
	// Optional file of further records in hosts(5) format. Entries in
	// Records override entries for the same name here.
	HostsFile string `json:"hosts_file"`
	// TTL in seconds on every answer; 0 asks clients not to cache
	AnswerTtl int `json:"answer_ttl"`
	// Relay queries the table does not answer to an upstream resolver
	// instead of staying silent. Off by default so the network's own
	// resolver answers them.
	ForwardUnmatched   bool     `json:"forward_unmatched"`
	UpstreamResolvers  []string `json:"upstream_resolvers"`
	RespectResolveConf bool     `json:"respect_resolvconf"`
	ResolvConfPath     string   `json:"resolvconf_path"`
	// Seconds to wait for each upstream
	ForwardTimeout  int  `json:"forward_timeout"`
	LogLevel        int  `json:"log_level"`
	DisableMetrics  bool `json:"disable_metrics"`
	MetricsPort     int  `json:"metrics_port"`
	StatusEnable    bool `json:"status_enable"`
	StatusPort      int  `json:"status_port"`
	DisableQueryLog bool `json:"disable_query_log"`
	// Minutes a queried name stays in the query log
	QueryLogWindow int `json:"query_log_window"`
	// Poll the config file and reload records when it changes. SIGHUP
	// reloads regardless of this setting.
	WatchConfig    bool `json:"watch_config"`
	WatchInterval  int  `json:"watch_interval"`
	DropPrivileges bool `json:"drop_privileges"`

	path string
}

func GetDefaultConfig() AppConfig {
	return AppConfig{
		BindAddress:        "",
		ExtraBindAddresses: []string{},
		DnsServerPort:      53,
		Records:            []records.Record{},
		HostsFile:          "",
		AnswerTtl:          int(resolver.DefaultTtl),
		ForwardUnmatched:   false,
		UpstreamResolvers:  []string{},
		RespectResolveConf: true,
		ResolvConfPath:     system.DefaultResolvConfPath,
		ForwardTimeout:     int(resolver.DefaultForwardTimeout / time.Second),
		LogLevel:           int(slog.LevelInfo),
		DisableMetrics:     true,
		MetricsPort:        2112,
		StatusEnable:       false,
		StatusPort:         8080,
		DisableQueryLog:    false,
		QueryLogWindow:     10,
		WatchConfig:        false,
		WatchInterval:      5,
		DropPrivileges:     true,
	}
}

// Path of the file the config was read from; empty for environment config.
func (cfg AppConfig) Path() string {
	return cfg.path
}

func (cfg AppConfig) BindAddresses() []string {
	addrs := []string{net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.DnsServerPort))}
	for _, extra := range cfg.ExtraBindAddresses {
		addrs = append(addrs, net.JoinHostPort(extra, strconv.Itoa(cfg.DnsServerPort)))
	}
	return addrs
}

func (cfg AppConfig) GetAnswerTtl() uint32 {
	return uint32(cfg.AnswerTtl)
}

func (cfg AppConfig) GetForwardTimeout() time.Duration {
	return time.Duration(cfg.ForwardTimeout) * time.Second
}

func (cfg AppConfig) GetQueryLogWindow() time.Duration {
	return time.Duration(cfg.QueryLogWindow) * time.Minute
}

func (cfg AppConfig) GetWatchInterval() time.Duration {
	return time.Duration(cfg.WatchInterval) * time.Second
}

// RecordList returns everything the record table should hold, hosts file
// entries first so explicit records win on duplicates.
func (cfg AppConfig) RecordList() ([]records.Record, error) {
	list := []records.Record{}

	if cfg.HostsFile != "" {
		hostsRecords, err := system.NewEtcHosts(cfg.HostsFile).ReadFromFile()
		if err != nil {
			return nil, fmt.Errorf("failed to read hosts file %s: %w", cfg.HostsFile, err)
		}
		list = append(list, hostsRecords...)
	}

	return append(list, cfg.Records...), nil
}

// Validate catches what would otherwise fail later at bind or load time.
func (cfg AppConfig) Validate() error {
	if cfg.DnsServerPort < 0 || cfg.DnsServerPort > 65535 {
		return fmt.Errorf("dns_server_port %d is out of range", cfg.DnsServerPort)
	}

	if cfg.AnswerTtl < 0 || int64(cfg.AnswerTtl) > int64(^uint32(0)>>1) {
		return fmt.Errorf("answer_ttl %d is out of range", cfg.AnswerTtl)
	}

	for _, addr := range append([]string{cfg.BindAddress}, cfg.ExtraBindAddresses...) {
		if addr != "" && net.ParseIP(addr) == nil {
			return fmt.Errorf("bind address '%s' is not an ip address", addr)
		}
	}

	for i, record := range cfg.Records {
		if _, err := records.Validate(i, record); err != nil {
			return err
		}
	}

	if cfg.ForwardUnmatched && len(cfg.UpstreamResolvers) < 1 && !cfg.RespectResolveConf {
		return errors.New("forward_unmatched needs upstream_resolvers or respect_resolvconf")
	}

	return nil
}

func getEnvBool(env map[string]string, name string, def bool) bool {
	data := env[name]
	if data == "" {
		return def
	}
	return data == "1" || strings.ToLower(data) == "true" || strings.ToLower(data) == "yes"
}

func getEnvList(env map[string]string, name string, def []string) []string {
	data := env[name]
	if data == "" {
		return def
	}
	return strings.Fields(data)
}

func getEnvInt(env map[string]string, name string, def int) int {
	data := env[name]

	if data == "" {
		return def
	}
	ret, err := strconv.Atoi(data)
	if err != nil {
		return def
	}

	return ret
}

func getEnvString(env map[string]string, name string, def string) string {
	data := env[name]
	if data == "" {
		return def
	}
	return data
}

// RECORDS holds whitespace separated domain=ip pairs. "=" rather than ":"
// so IPv6 addresses need no quoting.
func getEnvRecords(env map[string]string, name string, def []records.Record) []records.Record {
	data := env[name]
	if data == "" {
		return def
	}

	ret := []records.Record{}
	for _, item := range strings.Fields(data) {
		split := strings.SplitN(item, "=", 2)
		if len(split) != 2 {
			// Kept so validation reports it instead of silently dropping it.
			ret = append(ret, records.Record{Domain: item})
			continue
		}
		ret = append(ret, records.Record{Domain: split[0], IP: split[1]})
	}

	return ret
}

// The process environment, with a dotenv file filling in anything unset.
func getEnvironment() map[string]string {
	env := map[string]string{}

	envFile := os.Getenv(envFileVariable)
	if envFile == "" {
		envFile = ".env"
	}
	if fileEnv, err := godotenv.Read(envFile); err == nil {
		for key, value := range fileEnv {
			env[key] = value
		}
	}

	for _, item := range os.Environ() {
		key, value, ok := strings.Cut(item, "=")
		if ok && value != "" {
			env[key] = value
		}
	}

	return env
}

func getEnvironmentConfig() AppConfig {
	env := getEnvironment()
	config := GetDefaultConfig()

	config.BindAddress = getEnvString(env, "BIND_ADDRESS", config.BindAddress)
	config.DnsServerPort = getEnvInt(env, "DNS_SERVER_PORT", config.DnsServerPort)
	config.Records = getEnvRecords(env, "RECORDS", config.Records)
	config.HostsFile = getEnvString(env, "HOSTS_FILE", config.HostsFile)
	config.AnswerTtl = getEnvInt(env, "ANSWER_TTL", config.AnswerTtl)
	config.ForwardUnmatched = getEnvBool(env, "FORWARD_UNMATCHED", config.ForwardUnmatched)
	config.UpstreamResolvers = getEnvList(env, "UPSTREAM_RESOLVERS", config.UpstreamResolvers)
	config.DisableMetrics = getEnvBool(env, "DISABLE_METRICS", config.DisableMetrics)
	config.StatusEnable = getEnvBool(env, "STATUS_ENABLE", config.StatusEnable)
	config.LogLevel = getEnvInt(env, "LOG_LEVEL", config.LogLevel)

	return config
}

// GetConfig reads the JSON config at path. A missing file falls back to
// environment configuration; anything else that is wrong is an error.
func GetConfig(path string) (*AppConfig, error) {
	config := GetDefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		config = getEnvironmentConfig()
		return &config, config.Validate()
	}

	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	config.path = path

	return &config, config.Validate()
}
