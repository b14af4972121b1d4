// Package config implements C2, the Configuration Store: it loads the
// declarative configuration surface from spec.md §6 via viper, validates
// it, and reads-or-generates the singleton Server Identity through the
// same store C3 owns.
package config

import (
	"net"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the validated, typed view of the declarative configuration
// surface named in spec.md §6. Every other component depends on this
// read-only snapshot rather than on viper directly.
type Config struct {
	TestMode bool

	ExternalServerAddress string
	BindToInterface        string

	PrimaryInterfacePort            int
	ServerNeighborInterfacePort     int
	ClientNonCustomerInterfacePort  int
	ClientCustomerInterfacePort     int
	ClientAppServiceInterfacePort   int

	TLSServerCertificate string

	ImageDataFolder string
	TmpDataFolder   string

	MaxHostedIdentities  int
	MaxIdentityRelations int

	NeighborhoodInitializationParallelism int

	LOCPort    int
	CANAPIPort int

	// AdminInterfacePort serves the read-only /status and /metrics
	// endpoints the CLI status subcommand and a Prometheus scraper use.
	// It is not one of the five role ports and is not subject to their
	// mutual-conflict check.
	AdminInterfacePort int

	NeighborProfilesExpirationTime int
	FollowerRefreshTime            int

	MaxNeighborhoodSize     int
	MaxFollowerServersCount int

	// CancelledRegistrationCooldownSeconds is how long a cancelled hosted
	// identity must wait before RegisterHosting will accept it again.
	CancelledRegistrationCooldownSeconds int
}

// defaults mirrors a conservative, documented-by-code-not-file default
// set: every option is overridable via config file or environment
// variable (PROFILESERVER_ prefix), following the teacher's viper idiom.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"test_mode":                                false,
		"bind_to_interface":                         "0.0.0.0",
		"primary_interface_port":                    16987,
		"server_neighbor_interface_port":             16988,
		"client_non_customer_interface_port":         16989,
		"client_customer_interface_port":              16990,
		"client_app_service_interface_port":           16991,
		"image_data_folder":                          "images",
		"tmp_data_folder":                             "tmp",
		"max_hosted_identities":                       100000,
		"max_identity_relations":                      100,
		"neighborhood_initialization_parallelism":     1,
		"loc_port":                                    16980,
		"can_api_port":                                5001,
		"admin_interface_port":                        16986,
		"neighbor_profiles_expiration_time":           86400,
		"follower_refresh_time":                       3600,
		"max_neighborhood_size":                       100,
		"max_follower_servers_count":                   100,
		"cancelled_registration_cooldown_seconds":     30 * 24 * 3600,
	}
}

// Load reads configuration from dataRoot/config.yaml (if present),
// environment variables prefixed PROFILESERVER_, and the supplied
// defaults, then validates the result.
func Load(dataRoot string) (Config, error) {
	v := viper.New()
	for key, val := range defaults() {
		v.SetDefault(key, val)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dataRoot)
	v.SetEnvPrefix("profileserver")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, errors.Wrap(err, "config: read config file")
		}
	}

	cfg := Config{
		TestMode:                              v.GetBool("test_mode"),
		ExternalServerAddress:                 v.GetString("external_server_address"),
		BindToInterface:                       v.GetString("bind_to_interface"),
		PrimaryInterfacePort:                  v.GetInt("primary_interface_port"),
		ServerNeighborInterfacePort:           v.GetInt("server_neighbor_interface_port"),
		ClientNonCustomerInterfacePort:        v.GetInt("client_non_customer_interface_port"),
		ClientCustomerInterfacePort:           v.GetInt("client_customer_interface_port"),
		ClientAppServiceInterfacePort:         v.GetInt("client_app_service_interface_port"),
		TLSServerCertificate:                  v.GetString("tls_server_certificate"),
		ImageDataFolder:                       v.GetString("image_data_folder"),
		TmpDataFolder:                         v.GetString("tmp_data_folder"),
		MaxHostedIdentities:                   v.GetInt("max_hosted_identities"),
		MaxIdentityRelations:                  v.GetInt("max_identity_relations"),
		NeighborhoodInitializationParallelism: v.GetInt("neighborhood_initialization_parallelism"),
		LOCPort:                               v.GetInt("loc_port"),
		CANAPIPort:                            v.GetInt("can_api_port"),
		AdminInterfacePort:                    v.GetInt("admin_interface_port"),
		NeighborProfilesExpirationTime:        v.GetInt("neighbor_profiles_expiration_time"),
		FollowerRefreshTime:                   v.GetInt("follower_refresh_time"),
		MaxNeighborhoodSize:                   v.GetInt("max_neighborhood_size"),
		MaxFollowerServersCount:               v.GetInt("max_follower_servers_count"),
		CancelledRegistrationCooldownSeconds:  v.GetInt("cancelled_registration_cooldown_seconds"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ports returns every configured role port with its name, for the
// conflict check in Validate.
func (c Config) ports() map[string]int {
	return map[string]int{
		"primary_interface_port":             c.PrimaryInterfacePort,
		"server_neighbor_interface_port":      c.ServerNeighborInterfacePort,
		"client_non_customer_interface_port":  c.ClientNonCustomerInterfacePort,
		"client_customer_interface_port":      c.ClientCustomerInterfacePort,
		"client_app_service_interface_port":   c.ClientAppServiceInterfacePort,
	}
}

// Validate checks the semantic constraints spec.md §4.2 names: ports
// non-conflicting, numeric bounds sane, external address not reserved
// unless test_mode, and follower_refresh_time strictly less than
// neighbor_profiles_expiration_time.
func (c Config) Validate() error {
	seen := make(map[int]string)
	for name, port := range c.ports() {
		if port <= 0 || port > 65535 {
			return errors.Errorf("config: %s out of range: %d", name, port)
		}
		if other, ok := seen[port]; ok {
			return errors.Errorf("config: port %d used by both %s and %s", port, other, name)
		}
		seen[port] = name
	}

	if !c.TestMode {
		if err := validateExternalAddress(c.ExternalServerAddress); err != nil {
			return err
		}
	}

	if c.MaxHostedIdentities <= 0 {
		return errors.New("config: max_hosted_identities must be positive")
	}
	if c.MaxIdentityRelations <= 0 {
		return errors.New("config: max_identity_relations must be positive")
	}
	if c.NeighborhoodInitializationParallelism <= 0 {
		return errors.New("config: neighborhood_initialization_parallelism must be positive")
	}
	if c.MaxNeighborhoodSize <= 0 {
		return errors.New("config: max_neighborhood_size must be positive")
	}
	if c.MaxFollowerServersCount <= 0 {
		return errors.New("config: max_follower_servers_count must be positive")
	}
	if c.FollowerRefreshTime <= 0 || c.NeighborProfilesExpirationTime <= 0 {
		return errors.New("config: refresh/expiration times must be positive")
	}
	if c.FollowerRefreshTime >= c.NeighborProfilesExpirationTime {
		return errors.New("config: follower_refresh_time must be strictly less than neighbor_profiles_expiration_time")
	}
	if c.CancelledRegistrationCooldownSeconds < 0 {
		return errors.New("config: cancelled_registration_cooldown_seconds must not be negative")
	}
	return nil
}

// validateExternalAddress rejects unset, loopback, and private/reserved
// addresses outside test_mode, per spec.md §4.2.
func validateExternalAddress(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("config: external_server_address is required outside test_mode")
	}
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		// a DNS name is acceptable; reserved-range checks only apply to
		// literal IPs.
		return nil
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() {
		return errors.Errorf("config: external_server_address %s is in a reserved range; set test_mode to allow it", addr)
	}
	return nil
}
