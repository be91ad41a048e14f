// Package checkpoint 週期性地把帳本快照寫入持久層。
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"ledger/internal/storage"
)

// DefaultTimeout 為單次 checkpoint 的時間上限。
const DefaultTimeout = 10 * time.Second

// Saver 為可以寫出快照的持久層。
type Saver interface {
	Save(ctx context.Context, src storage.Source) error
}

// Scheduler 依 cron 排程呼叫 Saver.Save。
type Scheduler struct {
	cron     *cron.Cron
	saver    Saver
	source   storage.Source
	schedule string
	timeout  time.Duration
	log      *zap.Logger
}

// NewScheduler 建立排程器。schedule 為空字串時 Start 不做任何事。
func NewScheduler(saver Saver, src storage.Source, schedule string, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "checkpoint"))
	cronLog := zapCronLogger{log.Sugar()}
	c := cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)))

	return &Scheduler{
		cron:     c,
		saver:    saver,
		source:   src,
		schedule: schedule,
		timeout:  DefaultTimeout,
		log:      log,
	}
}

// Start 註冊 checkpoint 工作並啟動排程。
func (s *Scheduler) Start() error {
	if s.schedule == "" {
		s.log.Info("checkpoint schedule disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, s.run); err != nil {
		return fmt.Errorf("schedule checkpoint %q: %w", s.schedule, err)
	}
	s.log.Info("scheduled checkpoint job", zap.String("schedule", s.schedule))
	s.cron.Start()
	return nil
}

// Stop 停止排程，並等待執行中的 checkpoint 結束。
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	if err := s.saver.Save(ctx, s.source); err != nil {
		// 下一次排程會再試。
		s.log.Error("checkpoint failed", zap.Error(err))
		return
	}
	s.log.Debug("checkpoint saved", zap.Duration("took", time.Since(start)))
}

// zapCronLogger 讓 cron 的內部日誌走 zap。
type zapCronLogger struct {
	s *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
