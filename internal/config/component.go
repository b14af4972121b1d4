package config

import (
	"context"

	"go.uber.org/zap"
)

// Component is the C2 component: at Init it resolves the Server Identity
// (reading it from the store or generating it on first run) and exposes
// the validated Config and ServerIdentity to every later-initializing
// component. It has nothing to release at Shutdown.
type Component struct {
	Config   Config
	Identity ServerIdentity

	store  settingsStore
	logger *zap.Logger
}

// NewComponent wires a validated Config and the shared settings store into
// the C2 component.
func NewComponent(cfg Config, store settingsStore, logger *zap.Logger) *Component {
	return &Component{Config: cfg, store: store, logger: logger.Named("config")}
}

func (c *Component) Init(ctx context.Context) error {
	id, err := LoadOrCreateServerIdentity(ctx, c.store, c.Config)
	if err != nil {
		return err
	}
	c.Identity = id
	c.logger.Info("configuration store ready",
		zap.String("network_id", id.KeyPair.NetworkID().String()),
		zap.Bool("contact_information_changed", id.ContactInformationChanged),
	)
	return nil
}

func (c *Component) Shutdown(ctx context.Context) error {
	c.logger.Info("configuration store stopping")
	return nil
}
