package ws

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// Manager upgrades incoming HTTP requests to websocket connections and
// starts one Session per connection (spec §4.7, §6: "a single bidirectional
// message channel per client, keyed by user_id supplied at connection
// time").
type Manager struct {
	upgrader  websocket.Upgrader
	suggester Suggester
	cfg       Config
}

// NewManager creates a Manager. CheckOrigin is left permissive; a
// production deployment would scope it to the configured frontend origin.
func NewManager(suggester Suggester, cfg Config) *Manager {
	return &Manager{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		suggester: suggester,
		cfg:       cfg,
	}
}

// ServeHTTP upgrades the connection and runs its session until it closes.
// user_id (and, for now, owner_id defaulting to it) are supplied as query
// parameters at connection time per spec §6.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		ownerID = userID
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	session := NewSession(conn, userID, ownerID, m.suggester, m.cfg)
	session.Run(r.Context())
}
