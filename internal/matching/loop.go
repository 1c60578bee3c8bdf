package matching

import (
	"context"

	"github.com/predictionmkt/engine/internal/model"
)

// intakeJob is one order waiting for the loop goroutine to run it through
// the engine; resp carries the result back to the submitting goroutine.
type intakeJob struct {
	order *model.Order
	lk    Lookups
	resp  chan intakeResponse
}

type intakeResponse struct {
	result *Result
	err    error
}

// cancelJob asks the loop to remove a resting order from the book.
type cancelJob struct {
	orderID  string
	side     model.OrderSide
	contract model.ContractType
	resp     chan bool
}

// Loop is the single-writer goroutine owning one market's Engine, fed by
// buffered channels exactly as the teacher's WSHub.Run owns its
// connection map via register/unregister/broadcast channels rather than a
// mutex. Every order and cancel for this market is serialized through
// here, which is what makes the matching algorithm itself lock-free.
type Loop struct {
	Engine *Engine

	intake chan intakeJob
	cancel chan cancelJob
	stop   chan struct{}
}

// NewLoop wraps an Engine in a single-writer goroutine. Call Run in its
// own goroutine to start serving.
func NewLoop(e *Engine) *Loop {
	return &Loop{
		Engine: e,
		intake: make(chan intakeJob, 256),
		cancel: make(chan cancelJob, 256),
		stop:   make(chan struct{}),
	}
}

// Run drains the intake and cancel queues until Stop is called. Each
// queue is served in its own FIFO order, one job at a time; when both
// have work ready, select picks between them at random, so an intake and
// a cancel queued at about the same time have no guaranteed order.
func (l *Loop) Run() {
	for {
		select {
		case <-l.stop:
			return
		case job := <-l.intake:
			res, err := l.Engine.Submit(job.order, job.lk)
			job.resp <- intakeResponse{result: res, err: err}
		case job := <-l.cancel:
			ok := l.Engine.Book.Queue(job.side, job.contract).Remove(job.orderID)
			job.resp <- ok
		}
	}
}

// Stop terminates Run. Safe to call once.
func (l *Loop) Stop() { close(l.stop) }

// Submit enqueues an order and blocks until the engine has run the match,
// returning its fills; persisting them is left to the caller. This only blocks on the loop's own queue and the
// match itself — per the concurrency model, intake never waits on a
// different market's matcher.
func (l *Loop) Submit(ctx context.Context, o *model.Order, lk Lookups) (*Result, error) {
	job := intakeJob{order: o, lk: lk, resp: make(chan intakeResponse, 1)}
	select {
	case l.intake <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case resp := <-job.resp:
		return resp.result, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel removes a resting order from the book via the same serialized
// queue, so it can never race a concurrent match against that order.
func (l *Loop) Cancel(ctx context.Context, orderID string, side model.OrderSide, contract model.ContractType) (bool, error) {
	job := cancelJob{orderID: orderID, side: side, contract: contract, resp: make(chan bool, 1)}
	select {
	case l.cancel <- job:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case ok := <-job.resp:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
