package model

// MonitorResponse is the hub statistics payload for the monitor endpoint.
type MonitorResponse struct {
	Status      string         `json:"status"`
	Connections int            `json:"connections"`
	Identities  int            `json:"identities"`
	Rooms       RoomStats      `json:"rooms"`
	Clients     []ClientInfo   `json:"clients"`
	StatusCount map[string]int `json:"statusCount"`
}

// RoomStats summarises room membership across all shards.
type RoomStats struct {
	TotalRooms  int        `json:"totalRooms"`
	RoomDetails []RoomInfo `json:"roomDetails"`
}

// RoomInfo describes one room and its local members.
type RoomInfo struct {
	Room        string   `json:"room"`
	MemberCount int      `json:"memberCount"`
	MemberIDs   []string `json:"memberIds"`
}

// ClientInfo describes one connected client.
type ClientInfo struct {
	ClientID string `json:"clientId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}
