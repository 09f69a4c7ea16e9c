package quicframing

import "github.com/dustin/go-broadcast"

// Broadcaster fans a notification out to every registered channel. The
// stream registry uses one as its wake fabric towards the owning connection
// task; Close also closes the channels handed out by RegisterNewChan so
// subscribers observe the shutdown.
type Broadcaster struct {
	broadcast.Broadcaster
	channels []chan interface{}
}

func NewBroadcaster(buflen int) Broadcaster {
	return Broadcaster{Broadcaster: broadcast.NewBroadcaster(buflen)}
}

func (b *Broadcaster) RegisterNewChan(size int) chan interface{} {
	c := make(chan interface{}, size)
	b.channels = append(b.channels, c)
	b.Register(c)
	return c
}

func (b *Broadcaster) Close() error {
	for _, c := range b.channels {
		close(c)
	}
	return b.Broadcaster.Close()
}
