package presence

import (
	"context"

	clog "github.com/mahaj/chatcore/pkg/log"
)

type transition struct {
	userID string
	online bool
}

// AsyncObserver queues transitions for a slow Observer, such as the Redis
// mirror, and applies them in order on its own goroutine. Transitions are
// dropped when the queue is full.
type AsyncObserver struct {
	next  Observer
	queue chan transition
}

func NewAsyncObserver(next Observer, size int) *AsyncObserver {
	return &AsyncObserver{next: next, queue: make(chan transition, size)}
}

func (a *AsyncObserver) Online(userID string)  { a.push(transition{userID, true}) }
func (a *AsyncObserver) Offline(userID string) { a.push(transition{userID, false}) }

func (a *AsyncObserver) push(t transition) {
	select {
	case a.queue <- t:
	default:
		clog.L().Warn().Str(clog.FieldUserID, t.userID).Bool("online", t.online).Msg("presence queue full, dropping transition")
	}
}

// Run drains the queue until ctx is cancelled.
func (a *AsyncObserver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-a.queue:
			if t.online {
				a.next.Online(t.userID)
			} else {
				a.next.Offline(t.userID)
			}
		}
	}
}
