package main

import (
	"context"
	"crypto/tls"

	"github.com/pkg/errors"

	"github.com/Internet-of-People/iop-profile-server/internal/config"
	"github.com/Internet-of-People/iop-profile-server/internal/images"
	"github.com/Internet-of-People/iop-profile-server/internal/store"
)

// imageIdentitySource adapts *store.DB to images.IdentitySource: the
// startup reference scan covers both hosted and imported identities.
type imageIdentitySource struct {
	db *store.DB
}

func (s *imageIdentitySource) ListImageReferences(ctx context.Context) ([]images.IdentityImageRefs, error) {
	hosted, err := s.db.ListHostedIdentities(ctx)
	if err != nil {
		return nil, err
	}
	neighbors, err := s.db.ListNeighborIdentities(ctx)
	if err != nil {
		return nil, err
	}

	refs := make([]images.IdentityImageRefs, 0, len(hosted)+len(neighbors))
	for _, h := range hosted {
		refs = append(refs, images.IdentityImageRefs{ProfileImage: h.ProfileImage, ThumbnailImage: h.ThumbnailImage})
	}
	for _, n := range neighbors {
		refs = append(refs, images.IdentityImageRefs{ThumbnailImage: n.ThumbnailImage})
	}
	return refs, nil
}

// maxThumbnailBytes bounds a generated thumbnail's encoded size, per
// spec.md §4.4's "small" budget for the imported/neighbor representation.
const maxThumbnailBytes = 64 * 1024

// loadServerTLSConfig reads a single combined PEM file (certificate
// followed by its private key) named by Config.TLSServerCertificate, the
// simplest layout that keeps deployment to one configuration value.
func loadServerTLSConfig(path string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(path, path)
	if err != nil {
		return nil, errors.Wrap(err, "profileserver: load TLS server certificate")
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

// tlsConfigForRoles resolves the TLS server config shared by every TLS
// role listener. test_mode deployments may leave tls_server_certificate
// unset, in which case TLS roles fall back to plaintext.
func tlsConfigForRoles(cfg config.Config) (*tls.Config, error) {
	if cfg.TLSServerCertificate == "" {
		return nil, nil
	}
	return loadServerTLSConfig(cfg.TLSServerCertificate)
}

// clientTLSConfig is used when this server dials a neighbor or follower
// over its server-neighbor port; peer identity is proven by the
// application-level handshake, not by the TLS certificate chain, so chain
// validation is intentionally skipped here.
func clientTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12} //nolint:gosec
}
