package collaborators

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// CanClient is the adapter to the Content-Addressable Network daemon,
// spec.md §6's "CAN collaborator": an HTTP JSON API publishing/updating an
// IPNS record keyed by the server's Ed25519 public key, whose value
// references a content-addressed blob holding the contact record.
type CanClient struct {
	baseURL string
	http    *http.Client
}

// NewCanClient builds a client against a local CAN daemon, per
// internal/config's can_api_port setting.
func NewCanClient(port int) *CanClient {
	return &CanClient{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type publishRequest struct {
	Record    string `json:"record"`    // base64 of the msgpack-encoded ContactRecord
	Signature string `json:"signature"` // base64
	ValiditySeconds int `json:"validity_seconds"`
}

// Publish uploads record (already signed) to CAN, valid for the given
// duration, per spec.md §6's publish(record, signature, validity).
func (c *CanClient) Publish(ctx context.Context, record ContactRecord, signature []byte, validity time.Duration) error {
	encoded, err := record.Marshal()
	if err != nil {
		return err
	}

	body, err := json.Marshal(publishRequest{
		Record:          base64.StdEncoding.EncodeToString(encoded),
		Signature:       base64.StdEncoding.EncodeToString(signature),
		ValiditySeconds: int(validity.Seconds()),
	})
	if err != nil {
		return errors.Wrap(err, "collaborators: encode CAN publish request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/publish", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "collaborators: build CAN publish request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "collaborators: call CAN publish")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("collaborators: CAN publish returned %d", resp.StatusCode)
	}
	return nil
}

// Resolve follows an IPNS-style path to the IPFS path it currently points
// at, per spec.md §6's resolve(ipns_path).
func (c *CanClient) Resolve(ctx context.Context, ipnsPath string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/resolve?path="+ipnsPath, nil)
	if err != nil {
		return "", errors.Wrap(err, "collaborators: build CAN resolve request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "collaborators: call CAN resolve")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("collaborators: CAN resolve returned %d", resp.StatusCode)
	}

	var out struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "collaborators: decode CAN resolve response")
	}
	return out.Path, nil
}

// Cat fetches the raw content at an IPFS path, per spec.md §6's
// cat(ipfs_path).
func (c *CanClient) Cat(ctx context.Context, ipfsPath string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/cat?path="+ipfsPath, nil)
	if err != nil {
		return nil, errors.Wrap(err, "collaborators: build CAN cat request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "collaborators: call CAN cat")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("collaborators: CAN cat returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// PinRM unpins content at path, allowing CAN's own garbage collector to
// reclaim it, per spec.md §6's pin_rm(path).
func (c *CanClient) PinRM(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/pin_rm?path="+path, nil)
	if err != nil {
		return errors.Wrap(err, "collaborators: build CAN pin_rm request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "collaborators: call CAN pin_rm")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("collaborators: CAN pin_rm returned %d", resp.StatusCode)
	}
	return nil
}
