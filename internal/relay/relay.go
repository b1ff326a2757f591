// Package relay pairs two WebSocket peers per room and forwards messages
// between them. The robot joins /p2p/<room>/browser/ and the browser the
// matching robot side; which side a peer names is not enforced.
package relay

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/sumobot/internal/monitoring"
)

// GoneMessage is sent to a peer whose partner has left or is absent.
const GoneMessage = "Gone"

// DefaultReadLimit caps a single message.
const DefaultReadLimit = 1 << 20

var errRoomFull = errors.New("room already has two peers")

type peer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *peer) write(messageType int, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	return p.conn.WriteMessage(messageType, data)
}

func (p *peer) connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

type room struct {
	peers [2]*peer
}

// Relay is an http.Handler serving /p2p/{room}/{side}/.
type Relay struct {
	upgrader websocket.Upgrader
	logf     func(format string, args ...interface{})

	mu    sync.Mutex
	rooms map[string]*room
}

// New creates a Relay.
func New(logf func(format string, args ...interface{})) *Relay {
	return &Relay{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers load the editor from another origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logf:  monitoring.Or(logf),
		rooms: make(map[string]*room),
	}
}

// Handler returns the relay routes.
func (rl *Relay) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /p2p/{room}/{side}/", rl.serve)
	mux.HandleFunc("GET /p2p/{room}/{side}", rl.serve)
	return mux
}

// Peers reports how many connected peers are in roomID.
func (rl *Relay) Peers(roomID string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rm := rl.rooms[roomID]
	if rm == nil {
		return 0
	}
	n := 0
	for _, p := range rm.peers {
		if p != nil && p.connected() {
			n++
		}
	}
	return n
}

func (rl *Relay) serve(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	w.Header().Add("Cache-Control", "no-cache")

	p := &peer{}
	if err := rl.join(roomID, p); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	defer rl.leave(roomID, p)

	ws, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rl.logf("relay: error upgrading websocket: %v", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(DefaultReadLimit)

	p.mu.Lock()
	p.conn = ws
	p.mu.Unlock()
	rl.logf("relay: %s joined room %s as %s", r.RemoteAddr, roomID, r.PathValue("side"))

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				rl.logf("relay: read from %s: %v", r.RemoteAddr, err)
			}
			return
		}
		other := rl.other(roomID, p)
		if other == nil {
			err = p.write(websocket.TextMessage, []byte(GoneMessage))
		} else if werr := other.write(mt, data); werr != nil {
			rl.logf("relay: forward in room %s: %v", roomID, werr)
		}
		if err != nil {
			return
		}
	}
}

func (rl *Relay) join(roomID string, p *peer) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rm := rl.rooms[roomID]
	if rm == nil {
		rm = &room{}
		rl.rooms[roomID] = rm
	}
	for i := range rm.peers {
		if rm.peers[i] == nil {
			rm.peers[i] = p
			return nil
		}
	}
	return errRoomFull
}

// leave removes p and tells the remaining peer its partner is gone.
func (rl *Relay) leave(roomID string, p *peer) {
	rl.mu.Lock()
	rm := rl.rooms[roomID]
	var other *peer
	empty := true
	for i := range rm.peers {
		switch rm.peers[i] {
		case p:
			rm.peers[i] = nil
		case nil:
		default:
			other = rm.peers[i]
			empty = false
		}
	}
	if empty {
		delete(rl.rooms, roomID)
	}
	rl.mu.Unlock()

	if other != nil {
		if err := other.write(websocket.TextMessage, []byte(GoneMessage)); err != nil {
			rl.logf("relay: notify room %s: %v", roomID, err)
		}
	}
}

func (rl *Relay) other(roomID string, p *peer) *peer {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rm := rl.rooms[roomID]
	if rm == nil {
		return nil
	}
	for _, q := range rm.peers {
		if q != nil && q != p {
			return q
		}
	}
	return nil
}
