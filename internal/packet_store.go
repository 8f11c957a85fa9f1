package internal

import (
	"fmt"
	"sync"

	"github.com/driftwood-games/peermux/pkg/p2p"
)

type UnknownSocketError struct {
	SocketID string
}

func (e *UnknownSocketError) Error() string {
	return fmt.Sprintf("No packet queue exists for socket %q", e.SocketID)
}

type DuplicateSocketError struct {
	SocketID string
}

func (e *DuplicateSocketError) Error() string {
	return fmt.Sprintf("A packet queue already exists for socket %q", e.SocketID)
}

// PacketStore keeps one ordered packet queue per registered socket.
// Queues are FIFO except that callers may push priority packets to the
// front. A packet belongs to its queue slot until polled out, at which
// point ownership passes to the caller.
type PacketStore struct {
	mut_queues sync.RWMutex
	queues     map[string][]*p2p.ReceivedPacket
}

func CreatePacketStore() *PacketStore {
	return &PacketStore{
		mut_queues: sync.RWMutex{},
		queues:     make(map[string][]*p2p.ReceivedPacket),
	}
}

func (store *PacketStore) AddSocket(socketId string) error {
	store.mut_queues.Lock()
	defer store.mut_queues.Unlock()

	if _, has := store.queues[socketId]; has {
		return &DuplicateSocketError{SocketID: socketId}
	}

	store.queues[socketId] = nil
	return nil
}

// RemoveSocket drops the socket's queue along with every packet still
// buffered in it.
func (store *PacketStore) RemoveSocket(socketId string) {
	store.mut_queues.Lock()
	defer store.mut_queues.Unlock()
	delete(store.queues, socketId)
}

func (store *PacketStore) HasSocket(socketId string) bool {
	store.mut_queues.RLock()
	defer store.mut_queues.RUnlock()

	_, has := store.queues[socketId]
	return has
}

func (store *PacketStore) Sockets() []string {
	store.mut_queues.RLock()
	defer store.mut_queues.RUnlock()

	sockets := make([]string, 0, len(store.queues))
	for socketId := range store.queues {
		sockets = append(sockets, socketId)
	}
	return sockets
}

func (store *PacketStore) PushBack(socketId string, packet *p2p.ReceivedPacket) error {
	store.mut_queues.Lock()
	defer store.mut_queues.Unlock()

	queue, has := store.queues[socketId]
	if !has {
		return &UnknownSocketError{SocketID: socketId}
	}

	store.queues[socketId] = append(queue, packet)
	return nil
}

func (store *PacketStore) PushFront(socketId string, packet *p2p.ReceivedPacket) error {
	store.mut_queues.Lock()
	defer store.mut_queues.Unlock()

	queue, has := store.queues[socketId]
	if !has {
		return &UnknownSocketError{SocketID: socketId}
	}

	store.queues[socketId] = append([]*p2p.ReceivedPacket{packet}, queue...)
	return nil
}

// PollNext removes and returns the front packet of the socket's queue.
// It returns false when the socket is unknown or its queue is empty.
func (store *PacketStore) PollNext(socketId string) (*p2p.ReceivedPacket, bool) {
	store.mut_queues.Lock()
	defer store.mut_queues.Unlock()

	queue, has := store.queues[socketId]
	if !has || len(queue) == 0 {
		return nil, false
	}

	packet := queue[0]
	queue[0] = nil
	store.queues[socketId] = queue[1:]
	return packet, true
}

// PeekNext returns the front packet without removing it.
func (store *PacketStore) PeekNext(socketId string) (*p2p.ReceivedPacket, bool) {
	store.mut_queues.RLock()
	defer store.mut_queues.RUnlock()

	queue, has := store.queues[socketId]
	if !has || len(queue) == 0 {
		return nil, false
	}
	return queue[0], true
}

func (store *PacketStore) Count(socketId string) int {
	store.mut_queues.RLock()
	defer store.mut_queues.RUnlock()

	return len(store.queues[socketId])
}

func (store *PacketStore) TotalCount() int {
	store.mut_queues.RLock()
	defer store.mut_queues.RUnlock()

	total := 0
	for _, queue := range store.queues {
		total += len(queue)
	}
	return total
}

func (store *PacketStore) CountFromSender(socketId string, sender p2p.UserID) (int, error) {
	store.mut_queues.RLock()
	defer store.mut_queues.RUnlock()

	queue, has := store.queues[socketId]
	if !has {
		return 0, &UnknownSocketError{SocketID: socketId}
	}

	count := 0
	for _, packet := range queue {
		if packet.Sender == sender {
			count++
		}
	}
	return count, nil
}

func (store *PacketStore) Clear(socketId string) error {
	store.mut_queues.Lock()
	defer store.mut_queues.Unlock()

	if _, has := store.queues[socketId]; !has {
		return &UnknownSocketError{SocketID: socketId}
	}

	store.queues[socketId] = nil
	return nil
}

// ClearFromSender removes every buffered packet in the socket's queue
// whose sender matches. Used when a specific remote peer disconnects.
func (store *PacketStore) ClearFromSender(socketId string, sender p2p.UserID) error {
	store.mut_queues.Lock()
	defer store.mut_queues.Unlock()

	queue, has := store.queues[socketId]
	if !has {
		return &UnknownSocketError{SocketID: socketId}
	}

	kept := queue[:0]
	for _, packet := range queue {
		if packet.Sender == sender {
			continue
		}
		kept = append(kept, packet)
	}
	for i := len(kept); i < len(queue); i++ {
		queue[i] = nil
	}
	store.queues[socketId] = kept
	return nil
}
