package collaborators

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
)

// ContactRecord is the minimal content published to CAN under the
// server's IPNS-style key: enough for a peer to validate the record's
// signer and dial the server, per the Open Question ii decision recorded
// in DESIGN.md.
type ContactRecord struct {
	NetworkID identity.NetworkID `msgpack:"network_id"`
	PublicKey []byte             `msgpack:"public_key"`
	Host      string             `msgpack:"host"`
	Port      int                `msgpack:"port"`
	Version   string             `msgpack:"version"`
	SignedAt  time.Time          `msgpack:"signed_at"`
}

// Marshal encodes the record for signing and for publication, using the
// same msgpack codec the wire protocol (internal/transport) uses.
func (r ContactRecord) Marshal() ([]byte, error) {
	return msgpack.Marshal(r)
}

// Sign produces a detached signature over the record's canonical encoding.
func (r ContactRecord) Sign(kp identity.KeyPair) ([]byte, error) {
	b, err := r.Marshal()
	if err != nil {
		return nil, err
	}
	return kp.Sign(b), nil
}
