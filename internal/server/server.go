package server

import (
	"context"
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/board-sync/internal/presence"
	"github.com/npezzotti/board-sync/internal/stats"
)

type stopReq struct {
	done chan struct{}
}

// SyncServer owns the set of live websocket clients.
type SyncServer struct {
	log            *log.Logger
	router         *Router
	tracker        *presence.Tracker
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	registerChan   chan *Client
	deRegisterChan chan *Client
	stop           chan stopReq
	done           chan struct{}
}

// NewSyncServer creates a server. tracker may be nil, in which case
// connections carry no presence.
func NewSyncServer(logger *log.Logger, router *Router, tracker *presence.Tracker, s stats.StatsProvider) *SyncServer {
	return &SyncServer{
		log:            logger,
		router:         router,
		tracker:        tracker,
		stats:          s,
		clients:        make(map[*Client]struct{}),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}
}

func (ss *SyncServer) Router() *Router {
	return ss.router
}

func (ss *SyncServer) Run() {
	var pending *stopReq
	defer close(ss.done)

	for {
		select {
		case client := <-ss.registerChan:
			if pending != nil {
				client.stopClient()
			}
			ss.log.Printf("adding connection from %q", client.userId)
			ss.addClient(client)
		case client := <-ss.deRegisterChan:
			ss.log.Printf("removing connection from %q", client.userId)
			ss.removeClient(client)
		case req := <-ss.stop:
			ss.log.Println("stopping clients")
			pending = &req
			for _, c := range ss.clientList() {
				c.stopClient()
			}
		}

		if pending != nil && ss.NumClients() == 0 {
			close(pending.done)
			return
		}
	}
}

// Connect starts serving conn for userId. Presence failures are logged and
// the connection carries on without presence.
func (ss *SyncServer) Connect(ctx context.Context, conn *websocket.Conn, userId string) *Client {
	client := NewClient(userId, conn, ss, ss.log)

	if ss.tracker != nil {
		sock, err := presence.Open(ctx, ss.tracker, userId)
		if err != nil {
			ss.log.Printf("open presence for user %q: %v", userId, err)
		} else {
			client.presence = sock
		}
	}

	select {
	case ss.registerChan <- client:
	case <-ss.done:
		client.stopClient()
	}

	go client.Write()
	go client.Read()

	return client
}

func (ss *SyncServer) deregister(c *Client) {
	select {
	case ss.deRegisterChan <- c:
	case <-ss.done:
	}
}

func (ss *SyncServer) addClient(c *Client) {
	ss.clientsLock.Lock()
	defer ss.clientsLock.Unlock()
	ss.clients[c] = struct{}{}
	if ss.stats != nil {
		ss.stats.Incr(stats.ActiveClients)
	}
}

func (ss *SyncServer) removeClient(c *Client) {
	ss.clientsLock.Lock()
	defer ss.clientsLock.Unlock()
	if _, ok := ss.clients[c]; !ok {
		return
	}
	delete(ss.clients, c)
	if ss.stats != nil {
		ss.stats.Decr(stats.ActiveClients)
	}
}

func (ss *SyncServer) clientList() []*Client {
	ss.clientsLock.Lock()
	defer ss.clientsLock.Unlock()

	list := make([]*Client, 0, len(ss.clients))
	for c := range ss.clients {
		list = append(list, c)
	}
	return list
}

func (ss *SyncServer) NumClients() int {
	ss.clientsLock.Lock()
	defer ss.clientsLock.Unlock()
	return len(ss.clients)
}

// Shutdown closes every connection and waits until each has released its
// subscriptions and presence, or ctx is done.
func (ss *SyncServer) Shutdown(ctx context.Context) error {
	ss.log.Println("received shutdown signal")
	req := stopReq{done: make(chan struct{})}

	select {
	case ss.stop <- req:
	case <-ss.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
