package server

import (
	"context"
	"sync"
	"time"

	"github.com/campusmine/campusmine/logger"
	"github.com/campusmine/campusmine/mining"
)

type ShutdownStatus struct {
	StartAt      time.Time
	EndAt        time.Time
	MQStopped    bool
	StoreClosed  bool
	ServerClosed bool
	Duration     time.Duration
}

// AppServer ties the transport server, the hub, the sweeper and the
// event consumer together and owns their shutdown order.
type AppServer struct {
	srv     *Server
	hub     *Hub
	sweeper *mining.Sweeper
	queue   MessageQueue
	store   Closer

	stopConsume chan struct{}
	consumeWG   sync.WaitGroup
	status      ShutdownStatus
}

func NewAppServer(addr string, framer Framer, ctrl *mining.Controller, store Closer, queue MessageQueue, sweepInterval, pushInterval, staleAfter, authTimeout time.Duration) *AppServer {
	hub := NewHub(ctrl, pushInterval, staleAfter)
	srv := NewServer(addr, framer, hub, ctrl, authTimeout)
	return &AppServer{
		srv:         srv,
		hub:         hub,
		sweeper:     mining.NewSweeper(ctrl, sweepInterval),
		queue:       queue,
		store:       store,
		stopConsume: make(chan struct{}),
	}
}

// Start launches the background loops and blocks in the accept loop.
func (a *AppServer) Start(ctx context.Context) error {
	a.consumeWG.Add(1)
	go a.consume(ctx)
	a.hub.Start()
	a.sweeper.Start()
	return a.srv.Start()
}

func (a *AppServer) consume(ctx context.Context) {
	defer a.consumeWG.Done()
	ch := a.queue.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopConsume:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			a.hub.HandleEvent(evt)
		}
	}
}

// Shutdown stops intake first (consumer, sweeper, hub), then closes the
// queue, the store and finally the listener.
func (a *AppServer) Shutdown(ctx context.Context) error {
	a.status.StartAt = time.Now()
	close(a.stopConsume)
	done := make(chan struct{})
	go func() { a.consumeWG.Wait(); close(done) }()
	select {
	case <-done:
		a.status.MQStopped = true
	case <-time.After(10 * time.Second):
	}
	a.sweeper.Stop()
	a.hub.Stop()
	if err := retry(3, 2*time.Second, func() error { return a.queue.Close() }); err != nil {
		logger.WithError(err).Error("mq close failed")
	}
	if err := retry(3, 2*time.Second, func() error { return a.store.Close() }); err != nil {
		logger.WithError(err).Error("store close failed")
	} else {
		a.status.StoreClosed = true
	}
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(cctx); err != nil {
		logger.WithError(err).Error("server shutdown failed")
	} else {
		a.status.ServerClosed = true
	}
	a.status.EndAt = time.Now()
	a.status.Duration = a.status.EndAt.Sub(a.status.StartAt)
	logger.WithFields(logger.Fields{"module": "server", "duration": a.status.Duration}).Info("shutdown done")
	return nil
}

func retry(n int, backoff time.Duration, f func() error) error {
	var err error
	for i := 0; i < n; i++ {
		if err = f(); err == nil {
			return nil
		}
		time.Sleep(backoff)
	}
	return err
}

func (a *AppServer) Status() ShutdownStatus { return a.status }
