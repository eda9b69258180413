package api

import "time"

// ConnectionStats mirrors one venue adapter's health counters on the
// /stats endpoint.
type ConnectionStats struct {
	Exchange         string    `json:"exchange"`
	Connected        bool      `json:"connected"`
	LastUpdate       time.Time `json:"last_update"`
	MessagesReceived int       `json:"messages_received"`
	Errors           int       `json:"errors"`
}

// statsResponse is the full /stats payload.
type statsResponse struct {
	OrderbookManager map[string]any             `json:"orderbook_manager"`
	Exchanges        map[string]ConnectionStats `json:"exchanges"`
	ConnectedClients int                        `json:"connected_clients"`
}

type marketEntry struct {
	Exchange string `json:"exchange"`
	Market   string `json:"market"`
}

type marketsResponse struct {
	Markets []marketEntry `json:"markets"`
	Count   int           `json:"count"`
}

type assetsResponse struct {
	Assets []string `json:"assets"`
	Count  int      `json:"count"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Timestamp time.Time `json:"timestamp"`
}
