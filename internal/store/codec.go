package store

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
)

func encode(v interface{}) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	return b, errors.Wrap(err, "store: encode record")
}

func decode(b []byte, v interface{}) error {
	return errors.Wrap(msgpack.Unmarshal(b, v), "store: decode record")
}

// neighborIdentityKey composes the (HostingServerNetworkId, NetworkId)
// unique key for the neighbor_identities bucket.
func neighborIdentityKey(host, id identity.NetworkID) []byte {
	key := make([]byte, 0, 64)
	key = append(key, host.Bytes()...)
	key = append(key, id.Bytes()...)
	return key
}

// relatedIdentityKey composes the (IdentityId, ApplicationId) unique key
// for the related_identities bucket.
func relatedIdentityKey(owner identity.NetworkID, appID string) []byte {
	key := make([]byte, 0, 32+2+len(appID))
	key = append(key, owner.Bytes()...)
	appLen := make([]byte, 2)
	binary.BigEndian.PutUint16(appLen, uint16(len(appID)))
	key = append(key, appLen...)
	key = append(key, []byte(appID)...)
	return key
}

func actionKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}
