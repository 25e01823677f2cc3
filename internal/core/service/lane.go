package service

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/dropspot/internal/core/domain"
)

type laneRequest struct {
	ctx    context.Context
	dropID string
	userID string
	reply  chan laneResult
}

type laneResult struct {
	claim domain.ClaimRecord
	err   error
}

// lane is the single writer for one drop. Every claim decision for the drop
// runs on its goroutine, one at a time.
type lane struct {
	dropID   string
	requests chan laneRequest
	done     chan struct{}
}

// laneSet owns the running lanes. Its lock guards only the map; decisions
// never run under it, so a slow drop cannot hold up another.
type laneSet struct {
	mu     sync.Mutex
	lanes  map[string]*lane
	idle   time.Duration
	decide func(laneRequest) laneResult
}

func newLaneSet(idle time.Duration, decide func(laneRequest) laneResult) *laneSet {
	return &laneSet{
		lanes:  make(map[string]*lane),
		idle:   idle,
		decide: decide,
	}
}

func (s *laneSet) get(dropID string) *lane {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lanes[dropID]
	if !ok {
		l = &lane{
			dropID:   dropID,
			requests: make(chan laneRequest),
			done:     make(chan struct{}),
		}
		s.lanes[dropID] = l
		activeLanes.Inc()
		go s.run(l)
	}
	return l
}

func (s *laneSet) run(l *lane) {
	idle := time.NewTimer(s.idle)
	defer idle.Stop()

	for {
		select {
		case req := <-l.requests:
			req.reply <- s.decide(req)
			idle.Reset(s.idle)
		case <-idle.C:
			s.mu.Lock()
			delete(s.lanes, l.dropID)
			s.mu.Unlock()
			// senders still holding l observe done and fetch a fresh lane
			close(l.done)
			activeLanes.Dec()
			return
		}
	}
}

// submit hands the request to the drop's lane, waiting at most enqueueTimeout
// for the lane to accept it.
func (s *laneSet) submit(ctx context.Context, dropID, userID string, enqueueTimeout time.Duration) (domain.ClaimRecord, error) {
	req := laneRequest{
		ctx:    ctx,
		dropID: dropID,
		userID: userID,
		reply:  make(chan laneResult, 1),
	}

	start := time.Now()
	deadline := time.NewTimer(enqueueTimeout)
	defer deadline.Stop()

	for {
		l := s.get(dropID)
		select {
		case l.requests <- req:
			laneWaitSeconds.Observe(time.Since(start).Seconds())
			select {
			case res := <-req.reply:
				return res.claim, res.err
			case <-ctx.Done():
				// the decision still completes on the lane
				return domain.ClaimRecord{}, ctx.Err()
			}
		case <-l.done:
			continue
		case <-deadline.C:
			laneWaitSeconds.Observe(time.Since(start).Seconds())
			return domain.ClaimRecord{}, domain.ErrAllocatorBusy
		case <-ctx.Done():
			return domain.ClaimRecord{}, ctx.Err()
		}
	}
}

func (s *laneSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lanes)
}
