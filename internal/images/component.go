package images

import (
	"context"

	"go.uber.org/zap"
)

// IdentitySource supplies the image references to scan at startup, kept as
// an interface so this package never imports internal/store directly.
type IdentitySource interface {
	ListImageReferences(ctx context.Context) ([]IdentityImageRefs, error)
}

// Component is the C4 component: it owns Bootstrap at Init time and runs a
// final GC pass at Shutdown so dereferenced blobs don't linger across a
// restart longer than necessary.
type Component struct {
	Manager  *Manager
	identity IdentitySource
	logger   *zap.Logger
}

// NewComponent wires a Manager into the component Supervisor.
func NewComponent(m *Manager, identity IdentitySource, logger *zap.Logger) *Component {
	return &Component{Manager: m, identity: identity, logger: logger.Named("images")}
}

// Init scans every hosted and neighbor identity's image references and
// prunes any on-disk blob no longer referenced by anything, per spec.md
// §4.4's startup reconciliation.
func (c *Component) Init(ctx context.Context) error {
	refs, err := c.identity.ListImageReferences(ctx)
	if err != nil {
		return err
	}
	if err := c.Manager.Bootstrap(ctx, refs); err != nil {
		return err
	}
	c.logger.Info("image reference manager ready", zap.Int("tracked_identities", len(refs)))
	return nil
}

// Shutdown runs one last GC pass so references dropped during this run
// don't sit on disk indefinitely across a restart.
func (c *Component) Shutdown(ctx context.Context) error {
	deleted := c.Manager.GC(ctx)
	c.logger.Info("image reference manager stopping", zap.Int("blobs_collected", deleted))
	return nil
}
