package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		TestMode:                               true,
		ExternalServerAddress:                  "198.51.100.10:16987",
		BindToInterface:                        "0.0.0.0",
		PrimaryInterfacePort:                   16987,
		ServerNeighborInterfacePort:             16988,
		ClientNonCustomerInterfacePort:          16989,
		ClientCustomerInterfacePort:             16990,
		ClientAppServiceInterfacePort:           16991,
		ImageDataFolder:                         "images",
		TmpDataFolder:                           "tmp",
		MaxHostedIdentities:                     10,
		MaxIdentityRelations:                    10,
		NeighborhoodInitializationParallelism:   1,
		LOCPort:                                 16980,
		CANAPIPort:                              5001,
		NeighborProfilesExpirationTime:          86400,
		FollowerRefreshTime:                     3600,
		MaxNeighborhoodSize:                     10,
		MaxFollowerServersCount:                 10,
	}
}

func TestValidateRejectsConflictingPorts(t *testing.T) {
	cfg := validConfig()
	cfg.ServerNeighborInterfacePort = cfg.PrimaryInterfacePort
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsReservedAddressOutsideTestMode(t *testing.T) {
	cfg := validConfig()
	cfg.TestMode = false
	cfg.ExternalServerAddress = "127.0.0.1:16987"
	assert.Error(t, cfg.Validate())
}

func TestValidateAllowsReservedAddressInTestMode(t *testing.T) {
	cfg := validConfig()
	cfg.ExternalServerAddress = "127.0.0.1:16987"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsRefreshTimeNotLessThanExpiration(t *testing.T) {
	cfg := validConfig()
	cfg.FollowerRefreshTime = cfg.NeighborProfilesExpirationTime
	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

type fakeSettingsStore struct {
	values map[string]string
}

func newFakeSettingsStore() *fakeSettingsStore {
	return &fakeSettingsStore{values: make(map[string]string)}
}

func (f *fakeSettingsStore) GetSetting(ctx context.Context, name string) (string, bool, error) {
	v, ok := f.values[name]
	return v, ok, nil
}

func (f *fakeSettingsStore) SetSetting(ctx context.Context, name, value string) error {
	f.values[name] = value
	return nil
}

func TestLoadOrCreateServerIdentityGeneratesOnce(t *testing.T) {
	store := newFakeSettingsStore()
	cfg := validConfig()
	ctx := context.Background()

	first, err := LoadOrCreateServerIdentity(ctx, store, cfg)
	require.NoError(t, err)
	assert.True(t, first.ContactInformationChanged, "first run always reports drift")

	second, err := LoadOrCreateServerIdentity(ctx, store, cfg)
	require.NoError(t, err)
	assert.Equal(t, first.KeyPair.NetworkID(), second.KeyPair.NetworkID(), "identity persists across restarts")
	assert.False(t, second.ContactInformationChanged, "unchanged contact info reports no drift")
}

func TestLoadOrCreateServerIdentityDetectsContactDrift(t *testing.T) {
	store := newFakeSettingsStore()
	cfg := validConfig()
	ctx := context.Background()

	_, err := LoadOrCreateServerIdentity(ctx, store, cfg)
	require.NoError(t, err)

	cfg.PrimaryInterfacePort = 20000
	changed, err := LoadOrCreateServerIdentity(ctx, store, cfg)
	require.NoError(t, err)
	assert.True(t, changed.ContactInformationChanged)
}
