package config

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
)

// settingsStore is the slice of *store.DB this package depends on, kept as
// an interface so config never imports internal/store's full surface.
type settingsStore interface {
	GetSetting(ctx context.Context, name string) (value string, ok bool, err error)
	SetSetting(ctx context.Context, name, value string) error
}

const (
	settingServerPrivateKey  = "server_identity.private_key"
	settingServerPublicKey   = "server_identity.public_key"
	settingContactAddress    = "server_identity.contact_address"
	settingContactPrimaryPort = "server_identity.contact_primary_port"
)

// ServerIdentity is the singleton Ed25519 key pair that names this server
// on the network, together with the (external address, primary port) pair
// it was last known to be reachable at.
type ServerIdentity struct {
	KeyPair identity.KeyPair

	// ContactInformationChanged is true when the configured external
	// address/port differs from what was persisted on a previous run, per
	// spec.md §4.2 — C10 uses this to decide whether to republish the CAN
	// record at startup.
	ContactInformationChanged bool
}

// LoadOrCreateServerIdentity reads the singleton Server Identity from the
// store; on first run it generates a fresh Ed25519 key pair and persists
// it alongside the current contact info. On later runs it compares the
// configured contact info against what was persisted and flags drift.
func LoadOrCreateServerIdentity(ctx context.Context, s settingsStore, cfg Config) (ServerIdentity, error) {
	privHex, ok, err := s.GetSetting(ctx, settingServerPrivateKey)
	if err != nil {
		return ServerIdentity{}, err
	}

	var kp identity.KeyPair
	if !ok {
		kp, err = identity.GenerateKeyPair()
		if err != nil {
			return ServerIdentity{}, err
		}
		if err := s.SetSetting(ctx, settingServerPrivateKey, hex.EncodeToString(kp.Private)); err != nil {
			return ServerIdentity{}, err
		}
		if err := s.SetSetting(ctx, settingServerPublicKey, hex.EncodeToString(kp.Public)); err != nil {
			return ServerIdentity{}, err
		}
	} else {
		privBytes, decErr := hex.DecodeString(privHex)
		if decErr != nil {
			return ServerIdentity{}, errors.Wrap(decErr, "config: decode persisted server private key")
		}
		pubHex, pubOK, pubErr := s.GetSetting(ctx, settingServerPublicKey)
		if pubErr != nil {
			return ServerIdentity{}, pubErr
		}
		if !pubOK {
			return ServerIdentity{}, errors.New("config: server identity private key present without a matching public key")
		}
		pubBytes, decErr := hex.DecodeString(pubHex)
		if decErr != nil {
			return ServerIdentity{}, errors.Wrap(decErr, "config: decode persisted server public key")
		}
		kp = identity.KeyPair{Public: pubBytes, Private: privBytes}
	}

	changed, err := reconcileContactInfo(ctx, s, cfg)
	if err != nil {
		return ServerIdentity{}, err
	}

	return ServerIdentity{KeyPair: kp, ContactInformationChanged: changed}, nil
}

// reconcileContactInfo compares the configured (external address, primary
// port) pair against the persisted one, updates the persisted value to
// match the current configuration, and reports whether it had drifted.
func reconcileContactInfo(ctx context.Context, s settingsStore, cfg Config) (bool, error) {
	currentAddr := cfg.ExternalServerAddress
	currentPort := fmt.Sprintf("%d", cfg.PrimaryInterfacePort)

	prevAddr, addrOK, err := s.GetSetting(ctx, settingContactAddress)
	if err != nil {
		return false, err
	}
	prevPort, portOK, err := s.GetSetting(ctx, settingContactPrimaryPort)
	if err != nil {
		return false, err
	}

	changed := !addrOK || !portOK || prevAddr != currentAddr || prevPort != currentPort

	if err := s.SetSetting(ctx, settingContactAddress, currentAddr); err != nil {
		return false, err
	}
	if err := s.SetSetting(ctx, settingContactPrimaryPort, currentPort); err != nil {
		return false, err
	}
	return changed, nil
}
