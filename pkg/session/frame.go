package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-lockstep/pkg/barrier"
	"github.com/dd0wney/cluso-lockstep/pkg/framecache"
	"github.com/dd0wney/cluso-lockstep/pkg/logging"
	"github.com/dd0wney/cluso-lockstep/pkg/protocol"
	"github.com/dd0wney/cluso-lockstep/pkg/syncobj"
)

// GateReport is the outcome of one barrier wait
type GateReport struct {
	Result      string        `json:"result"`
	ThreadWait  time.Duration `json:"thread_wait"`
	BarrierWait time.Duration `json:"barrier_wait"`
}

// FrameReport describes one completed frame
type FrameReport struct {
	Frame        uint64                `json:"frame"`
	DeltaTime    float64               `json:"delta_time"`
	Timecode     string                `json:"timecode"`
	Gates        map[string]GateReport `json:"gates"`
	SyncObjects  map[string]int        `json:"sync_objects"`
	SyncFailed   []string              `json:"sync_failed,omitempty"`
	JSONEvents   int                   `json:"json_events"`
	BinaryEvents int                   `json:"binary_events"`
	Duration     time.Duration         `json:"duration"`
}

// RunFrame executes one frame of app in lockstep with the cluster
func (s *Session) RunFrame(ctx context.Context, app Application) (FrameReport, error) {
	if err := s.terminal(); err != nil {
		return FrameReport{}, err
	}
	if !s.state.IsRunning() {
		return FrameReport{}, ErrNotStarted
	}

	start := time.Now()
	number := s.Frame() + 1
	report := FrameReport{
		Frame:       number,
		Gates:       make(map[string]GateReport, len(protocol.Gates)),
		SyncObjects: make(map[string]int, len(syncobj.Groups)),
	}
	logger := s.logger.With(logging.Frame(number))

	s.mu.Lock()
	first := !s.gameStarted
	s.mu.Unlock()
	if first {
		if err := s.pass(ctx, protocol.GateGameStart, &report); err != nil {
			return report, err
		}
		s.mu.Lock()
		s.gameStarted = true
		s.mu.Unlock()
		logger.Info("Game started")
	}

	if err := s.beginFrame(number); err != nil {
		return report, err
	}
	if err := s.pass(ctx, protocol.GateFrameStart, &report); err != nil {
		return report, err
	}

	f := &Frame{Number: number, s: s}
	var err error
	if f.DeltaTime, err = s.ctrl.GetDeltaTime(ctx); err != nil {
		return report, s.frameErr("delta time", err)
	}
	if f.Timecode, err = s.ctrl.GetTimecode(ctx); err != nil {
		return report, s.frameErr("timecode", err)
	}
	report.DeltaTime = f.DeltaTime
	report.Timecode = f.Timecode.Timecode.String()

	// PreTick carries the replicated events and input along with its sync data
	if err := s.syncGroup(ctx, syncobj.GroupPreTick, &report); err != nil {
		return report, err
	}
	if err := s.replicateEvents(ctx, &report); err != nil {
		return report, err
	}
	if f.Input, err = s.ctrl.GetInputData(ctx); err != nil {
		return report, s.frameErr("input", err)
	}
	if f.NativeInput, err = s.ctrl.GetNativeInputData(ctx); err != nil {
		return report, s.frameErr("native input", err)
	}
	app.PreTick(f)

	if err := s.syncGroup(ctx, syncobj.GroupTick, &report); err != nil {
		return report, err
	}
	app.Tick(f)

	if err := s.syncGroup(ctx, syncobj.GroupPostTick, &report); err != nil {
		return report, err
	}
	app.PostTick(f)

	if err := s.pass(ctx, protocol.GateFrameEnd, &report); err != nil {
		return report, err
	}
	if err := s.ctrl.ClearCache(); err != nil {
		return report, s.frameErr("clear cache", err)
	}
	if err := s.pass(ctx, protocol.GateSwapSync, &report); err != nil {
		return report, err
	}

	report.Duration = time.Since(start)
	s.completeFrame(number, report.Duration)
	logger.Debug("Frame complete",
		logging.Float64("delta_time", report.DeltaTime),
		logging.Latency(report.Duration))

	if s.quitting.Load() {
		s.finish(ErrQuitRequested)
		return report, ErrQuitRequested
	}
	return report, nil
}

// Run executes frames until n frames have completed (n <= 0 runs forever),
// the session ends, or ctx is done. A replicated quit ends Run with nil.
func (s *Session) Run(ctx context.Context, app Application, n int) error {
	for i := 0; n <= 0 || i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.RunFrame(ctx, app); err != nil {
			if errors.Is(err, ErrQuitRequested) {
				return nil
			}
			return err
		}
	}
	return nil
}

// beginFrame prepares the primary's cache and freezes the events emitted
// during the previous frame
func (s *Session) beginFrame(number uint64) error {
	if err := s.ctrl.BeginFrame(number); err != nil {
		if !errors.Is(err, framecache.ErrStaleFrame) {
			return err
		}
		if s.cfg.Debug {
			panic(fmt.Sprintf("frame %d: %v", number, err))
		}
		s.logger.Warn("Frame cache was not cleared", logging.Frame(number), logging.Error(err))
		if err := s.ctrl.ClearCache(); err != nil {
			return err
		}
	}
	s.ctrl.Rollover()
	jsonEvents, binaryEvents := s.events.Pending()
	s.metrics.SetEventsPending(jsonEvents, binaryEvents)
	return nil
}

// pass waits at gate and decides whether the frame can go on. After a
// timeout the primary goes on only once every laggard has been dropped,
// and a secondary goes on only if the primary was not among them. Any other
// failure ends the session.
func (s *Session) pass(ctx context.Context, gate protocol.Gate, report *FrameReport) error {
	res, times, err := s.ctrl.WaitFor(ctx, gate)
	s.metrics.RecordBarrierWait(gate.String(), res.String(), times.BarrierWait)

	gr := GateReport{Result: res.String(), ThreadWait: times.ThreadWait, BarrierWait: times.BarrierWait}
	report.Gates[gate.String()] = gr
	s.mu.Lock()
	s.lastResults[gate] = res
	s.mu.Unlock()

	if err != nil {
		return s.frameErr(gate.RequestName(), err)
	}

	switch res {
	case barrier.ResultOk:
		return nil
	case barrier.ResultTimeout:
		missing, known := s.ctrl.MissingAt(gate)
		s.logger.Warn("Barrier timed out",
			logging.Gate(gate.String()),
			logging.Frame(report.Frame),
			logging.Any("missing", missing))
		if s.ctrl.IsPrimary() {
			return s.dropLaggards(gate, missing)
		}
		return s.checkPrimary(gate, missing, known)
	default:
		if terr := s.terminal(); terr != nil {
			return terr
		}
		reason := fmt.Errorf("%w: %s returned %s", ErrBarrierFailed, gate, res)
		s.Terminate(reason)
		return s.terminal()
	}
}

// syncGroup fetches the dirty objects of group. A secondary applies them to
// its own registry; on the primary the fetch is what exports them.
func (s *Session) syncGroup(ctx context.Context, group syncobj.Group, report *FrameReport) error {
	data, err := s.ctrl.GetSyncData(ctx, group)
	if err != nil {
		return s.frameErr("sync "+group.String(), err)
	}
	report.SyncObjects[group.String()] = len(data)

	if s.ctrl.IsPrimary() {
		s.metrics.RecordSyncExport(group, len(data))
		return nil
	}
	imported := s.registry.ImportSyncData(group, data)
	s.metrics.RecordSyncImport(group, imported)
	report.SyncFailed = append(report.SyncFailed, imported.Failed...)
	return nil
}

// replicateEvents delivers the frame's events snapshot to the local
// listeners. Every node, the primary included, sees the same batch.
func (s *Session) replicateEvents(ctx context.Context, report *FrameReport) error {
	data, err := s.ctrl.GetEventsData(ctx)
	if err != nil {
		return s.frameErr("events", err)
	}
	report.JSONEvents = len(data.JSON)
	report.BinaryEvents = len(data.Binary)
	s.events.ImportEventsData(data.JSON, data.Binary)
	s.metrics.RecordEventsReplicated(len(data.JSON), len(data.Binary))
	return nil
}

func (s *Session) completeFrame(number uint64, took time.Duration) {
	s.mu.Lock()
	s.frame = number
	s.lastFrameAt = time.Now()
	s.lastFrame = took
	s.mu.Unlock()

	s.metrics.RecordFrame(number, took)
	s.metrics.UpdateCacheStats(s.ctrl.CacheStats())
}

// terminal returns the session's terminal error, or nil while it runs
func (s *Session) terminal() error {
	select {
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}
		return ErrStopped
	default:
		return nil
	}
}

// frameErr prefers the session's terminal error over the error that
// surfaced it, so callers see why the session ended
func (s *Session) frameErr(step string, err error) error {
	if terr := s.terminal(); terr != nil {
		return terr
	}
	return fmt.Errorf("%s: %w", step, err)
}
