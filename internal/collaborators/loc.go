package collaborators

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/Internet-of-People/iop-profile-server/internal/cron"
	"github.com/Internet-of-People/iop-profile-server/internal/identity"
	"github.com/Internet-of-People/iop-profile-server/internal/store"
)

// LocClient is the adapter to the Location-based neighbor oracle, spec.md
// §6's "LOC collaborator": `get_neighborhood() -> set<{network_id, ip,
// primary_port, location}>`, plus `neighborhood_changed` events. The
// server treats LOC as optional; its absence just freezes the
// neighborhood rather than failing anything.
type LocClient struct {
	baseURL string
	http    *http.Client

	lastSyncOK bool
}

// NewLocClient builds a client against a local LOC daemon, per
// internal/config's loc_port setting.
func NewLocClient(port int) *LocClient {
	return &LocClient{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type locNeighborDTO struct {
	NetworkID   string  `json:"network_id"`
	IP          string  `json:"ip"`
	PrimaryPort int     `json:"primary_port"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// Neighborhood fetches the current neighbor set from LOC.
func (c *LocClient) Neighborhood(ctx context.Context) ([]cron.LocNeighbor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/get_neighborhood", nil)
	if err != nil {
		return nil, errors.Wrap(err, "collaborators: build LOC request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.lastSyncOK = false
		return nil, errors.Wrap(err, "collaborators: call LOC get_neighborhood")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.lastSyncOK = false
		return nil, errors.Errorf("collaborators: LOC get_neighborhood returned %d", resp.StatusCode)
	}

	var dtos []locNeighborDTO
	if err := json.NewDecoder(resp.Body).Decode(&dtos); err != nil {
		c.lastSyncOK = false
		return nil, errors.Wrap(err, "collaborators: decode LOC response")
	}

	neighbors := make([]cron.LocNeighbor, 0, len(dtos))
	for _, d := range dtos {
		id, err := identity.NetworkIDFromHex(d.NetworkID)
		if err != nil {
			continue
		}
		neighbors = append(neighbors, cron.LocNeighbor{
			NetworkID:   id,
			IP:          d.IP,
			PrimaryPort: d.PrimaryPort,
			Location:    store.Location{Latitude: d.Latitude, Longitude: d.Longitude},
		})
	}

	c.lastSyncOK = true
	return neighbors, nil
}

// InSync reports whether the most recent LOC fetch succeeded. C9's
// checkExpiredNeighbors only evicts stale neighbors while LOC is known
// reachable, so an outage doesn't masquerade as every neighbor vanishing.
func (c *LocClient) InSync(ctx context.Context) (bool, error) {
	return c.lastSyncOK, nil
}

var _ cron.LocClient = (*LocClient)(nil)
