package collaborators

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"github.com/Internet-of-People/iop-profile-server/internal/config"
	"github.com/Internet-of-People/iop-profile-server/internal/identity"
)

// canRecordValidity is how long a published CAN record is considered
// current before it needs republishing regardless of drift.
const canRecordValidity = 7 * 24 * time.Hour

const settingCANRecordHash = "can.last_record_hash"

// settingsStore is the narrow dependency on internal/store, mirroring the
// minimal interface internal/config depends on.
type settingsStore interface {
	GetSetting(ctx context.Context, name string) (value string, ok bool, err error)
	SetSetting(ctx context.Context, name, value string) error
}

// Component is the C10 component: thin LOC and CAN adapters, wired as a
// lifecycle.Component so CAN republication runs once at startup. Init
// does not contact LOC; LOC's InSync state changes only when Neighborhood
// is called.
type Component struct {
	LOC *LocClient
	CAN *CanClient

	identity identity.KeyPair
	cfg      config.Config
	changed  bool
	store    settingsStore
	logger   *zap.Logger
}

// NewComponent wires the resolved Server Identity and Config (from C2)
// into the LOC/CAN adapters.
func NewComponent(cfg config.Config, serverIdentity config.ServerIdentity, store settingsStore, logger *zap.Logger) *Component {
	return &Component{
		LOC:      NewLocClient(cfg.LOCPort),
		CAN:      NewCanClient(cfg.CANAPIPort),
		identity: serverIdentity.KeyPair,
		cfg:      cfg,
		changed:  serverIdentity.ContactInformationChanged,
		store:    store,
		logger:   logger.Named("collaborators"),
	}
}

// Init republishes the CAN contact record when C2 detected contact-info
// drift since the last run, per spec.md §4.2.
func (c *Component) Init(ctx context.Context) error {
	if !c.changed {
		c.logger.Info("contact information unchanged, skipping CAN republish")
		return nil
	}

	record := ContactRecord{
		NetworkID: c.identity.NetworkID(),
		PublicKey: []byte(c.identity.Public),
		Host:      c.cfg.ExternalServerAddress,
		Port:      c.cfg.PrimaryInterfacePort,
		Version:   "1",
		SignedAt:  time.Now(),
	}
	sig, err := record.Sign(c.identity)
	if err != nil {
		return err
	}
	if err := c.CAN.Publish(ctx, record, sig, canRecordValidity); err != nil {
		return err
	}

	encoded, err := record.Marshal()
	if err != nil {
		return err
	}
	hash := sha256.Sum256(encoded)
	if err := c.store.SetSetting(ctx, settingCANRecordHash, hex.EncodeToString(hash[:])); err != nil {
		return err
	}

	c.logger.Info("republished CAN contact record")
	return nil
}

// Shutdown has nothing to release; both adapters are stateless HTTP
// clients.
func (c *Component) Shutdown(ctx context.Context) error {
	c.logger.Info("collaborators adapters stopping")
	return nil
}
