package ws

import "sync"

// peerQueueSize bounds the payloads buffered for one connection. A client
// that falls this far behind is disconnected.
const peerQueueSize = 16

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans out recipe events to the live connections of each user. Each
// subscriber is written to by its own goroutine, so a slow connection only
// delays itself.
type Hub struct {
	clients   map[string]map[Subscriber]*peer
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	count     chan countRequest
	done      chan struct{}
	closeOnce sync.Once
}

// peer is a subscriber plus its outbound queue.
type peer struct {
	sub   Subscriber
	queue chan []byte
}

// message couples payload with the owning user.
type message struct {
	userID  string
	payload []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	userID string
	client Subscriber
}

type countRequest struct {
	userID string
	reply  chan int
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]*peer),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, 64),
		count:     make(chan countRequest),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.userID]; !ok {
				h.clients[sub.userID] = make(map[Subscriber]*peer)
			}
			if _, ok := h.clients[sub.userID][sub.client]; ok {
				continue
			}
			p := &peer{sub: sub.client, queue: make(chan []byte, peerQueueSize)}
			h.clients[sub.userID][sub.client] = p
			go h.write(sub.userID, p)
		case sub := <-h.unreg:
			h.remove(sub.userID, sub.client, false)
		case msg := <-h.broadcast:
			for _, p := range h.clients[msg.userID] {
				select {
				case p.queue <- msg.payload:
				default:
					h.remove(msg.userID, p.sub, true)
				}
			}
		case req := <-h.count:
			req.reply <- len(h.clients[req.userID])
		case <-h.done:
			for _, peers := range h.clients {
				for _, p := range peers {
					close(p.queue)
					p.sub.Close()
				}
			}
			h.clients = make(map[string]map[Subscriber]*peer)
			return
		}
	}
}

// remove drops a subscriber and stops its writer. Only the run loop calls it.
func (h *Hub) remove(userID string, client Subscriber, closeClient bool) {
	peers, ok := h.clients[userID]
	if !ok {
		return
	}
	p, ok := peers[client]
	if !ok {
		return
	}
	delete(peers, client)
	if len(peers) == 0 {
		delete(h.clients, userID)
	}
	close(p.queue)
	if closeClient {
		p.sub.Close()
	}
}

// write drains a peer's queue until the run loop closes it. A failed send
// closes the subscriber and asks the hub to forget it.
func (h *Hub) write(userID string, p *peer) {
	for payload := range p.queue {
		if err := p.sub.Send(payload); err != nil {
			p.sub.Close()
			h.Unregister(userID, p.sub)
			return
		}
	}
}

// Register adds a client to a user's stream.
func (h *Hub) Register(userID string, client Subscriber) {
	select {
	case h.register <- subscription{userID: userID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(userID string, client Subscriber) {
	select {
	case h.unreg <- subscription{userID: userID, client: client}:
	case <-h.done:
	}
}

// Broadcast queues payload for all of the user's clients. It never waits on
// a client's connection.
func (h *Hub) Broadcast(userID string, payload []byte) {
	select {
	case h.broadcast <- message{userID: userID, payload: payload}:
	case <-h.done:
	}
}

// Subscribers reports how many clients the user has connected.
func (h *Hub) Subscribers(userID string) int {
	reply := make(chan int, 1)
	select {
	case h.count <- countRequest{userID: userID, reply: reply}:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Close disconnects every client and stops the hub.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}
