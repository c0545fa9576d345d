package hub

import (
	"github.com/bspark23/chatsphere-pro/internal/event"
	"github.com/bspark23/chatsphere-pro/internal/model"
)

// MonitorService provides methods to gather hub statistics
type MonitorService struct {
	hub *Hub
}

// NewMonitorService creates a new monitor service
func NewMonitorService(hub *Hub) *MonitorService {
	return &MonitorService{hub: hub}
}

// GetStats gathers and returns all hub statistics
func (ms *MonitorService) GetStats() model.MonitorResponse {
	clients := ms.getClientList()
	rooms := ms.getRoomStats()
	identities := ms.hub.presence.OnlineCount()

	status := "healthy"
	if len(clients) == 0 {
		status = "idle"
	}

	return model.MonitorResponse{
		Status:      status,
		Connections: len(clients),
		Identities:  identities,
		Rooms:       rooms,
		Clients:     clients,
		StatusCount: map[string]int{
			event.StatusOnline: identities,
		},
	}
}

// getRoomStats walks every shard and reports local room membership.
func (ms *MonitorService) getRoomStats() model.RoomStats {
	stats := model.RoomStats{
		RoomDetails: make([]model.RoomInfo, 0),
	}

	for _, bucket := range ms.hub.shards {
		bucket.RLock()
		for key, members := range bucket.rooms {
			memberIDs := make([]string, 0, len(members))
			seen := make(map[string]bool, len(members))
			for _, c := range members {
				if !seen[c.identity.ID] {
					seen[c.identity.ID] = true
					memberIDs = append(memberIDs, c.identity.ID)
				}
			}

			stats.RoomDetails = append(stats.RoomDetails, model.RoomInfo{
				Room:        key,
				MemberCount: len(members),
				MemberIDs:   memberIDs,
			})
			stats.TotalRooms++
		}
		bucket.RUnlock()
	}

	return stats
}

// getClientList returns a snapshot of all connected clients.
func (ms *MonitorService) getClientList() []model.ClientInfo {
	ms.hub.clientsMu.RLock()
	defer ms.hub.clientsMu.RUnlock()

	clients := make([]model.ClientInfo, 0, len(ms.hub.clients))
	for _, c := range ms.hub.clients {
		clients = append(clients, model.ClientInfo{
			ClientID: c.ID,
			UserID:   c.identity.ID,
			Username: c.identity.Username,
		})
	}

	return clients
}
