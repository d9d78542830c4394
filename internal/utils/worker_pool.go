package utils

import (
	"sync"

	"go.uber.org/zap"
)

// WorkerPool 通用协程池
type WorkerPool struct {
	name      string
	jobs      chan func()
	workerNum int
	wg        sync.WaitGroup
	quit      chan struct{}
	stopOnce  sync.Once
	logger    *zap.Logger
}

// NewWorkerPool 创建一个新的协程池，logger 为 nil 时不记录日志
func NewWorkerPool(name string, workerNum, queueSize int, logger *zap.Logger) *WorkerPool {
	if workerNum <= 0 {
		workerNum = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		name:      name,
		jobs:      make(chan func(), queueSize),
		workerNum: workerNum,
		quit:      make(chan struct{}),
		logger:    logger.With(zap.String("pool", name)),
	}
}

// Start 启动协程池
func (p *WorkerPool) Start() {
	for i := 0; i < p.workerNum; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.workerNum))
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			p.run(id, job)
		case <-p.quit:
			// 退出前把已经排队的任务做完
			for {
				select {
				case job := <-p.jobs:
					p.run(id, job)
				default:
					return
				}
			}
		}
	}
}

// run 单个任务 panic 不会让 worker 退出
func (p *WorkerPool) run(id int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker panic", zap.Int("worker", id), zap.Any("panic", r))
		}
	}()
	job()
}

// Submit 提交任务到协程池
// 如果队列已满，此方法会阻塞，直到有空位
func (p *WorkerPool) Submit(job func()) {
	select {
	case p.jobs <- job:
	case <-p.quit:
	}
}

// TrySubmit 非阻塞提交，队列已满或协程池已停止时返回 false
func (p *WorkerPool) TrySubmit(job func()) bool {
	select {
	case <-p.quit:
		return false
	default:
	}
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Pending 队列中等待执行的任务数
func (p *WorkerPool) Pending() int {
	return len(p.jobs)
}

// Stop 停止协程池，等待所有 worker 退出，可重复调用
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		p.wg.Wait()
		p.logger.Info("worker pool stopped")
	})
}
