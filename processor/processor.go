package processor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	Reload   = "reload"
	Shutdown = "shutdown"
)

type operation struct {
	name string
	call func() error
}

type Processor struct {
	ForceShutdownTimeout time.Duration // force shudown timeout
	rChan                chan os.Signal
	shutOps              []operation
	reloadOps            []operation
	stopCtx              context.Context
	stop                 context.CancelFunc
	done                 chan struct{}
	exit                 func(code int)
	mu                   sync.Mutex
	wg                   sync.WaitGroup
	log                  *zap.SugaredLogger
}

// New - creates new processor
func New(timeout time.Duration, log *zap.SugaredLogger) *Processor {
	ctx, stop := context.WithCancel(context.Background())
	return &Processor{
		ForceShutdownTimeout: timeout,
		rChan:                make(chan os.Signal, 1),
		stopCtx:              ctx,
		stop:                 stop,
		done:                 make(chan struct{}),
		exit:                 os.Exit,
		log:                  log,
	}
}

// Run assign proper signals and starts processing
func (p *Processor) Run() error {
	p.spinup()
	return nil
}

// spinup - assigns signals to proper process... calls
func (p *Processor) spinup() {
	ctx, stop := signal.NotifyContext(p.stopCtx, syscall.SIGINT, syscall.SIGTERM)
	signal.Notify(p.rChan, syscall.SIGHUP)
	ctxReload, cancel := context.WithCancel(context.Background())
	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.processReloadSignal(ctxReload)
		signal.Stop(p.rChan)
	}()
	go func() {
		defer p.wg.Done()
		p.processStopSignal(ctx, cancel)
		stop()
	}()
}

// processReloadSignal reload all operations assigned to Reload until ctx is done
func (p *Processor) processReloadSignal(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.log.Infof("shutdown reload")
			return
		case <-p.rChan:
			p.callProcess(Reload)
		}
	}
}

// processStopSignal execute Stop and force exit after ForceShutdownTimeout timeout passes
func (p *Processor) processStopSignal(ctx context.Context, cancel context.CancelFunc) {
	<-ctx.Done()
	tF := time.AfterFunc(p.ForceShutdownTimeout, func() {
		p.log.Warnf("timeout %d ms has been elapsed, force exit, image may not be saved", p.ForceShutdownTimeout.Milliseconds())
		p.exit(1)
	})
	defer tF.Stop()
	p.Shutdown()
	cancel() // cancel processReloadSignal
	close(p.done)
}

// callProcess executes the operations registered for process in registration
// order. Every operation runs even if an earlier one fails.
func (p *Processor) callProcess(process string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ops := p.reloadOps
	if process == Shutdown {
		ops = p.shutOps
	}
	var errs error
	for _, op := range ops {
		if err := op.call(); err != nil {
			p.log.Warnf("%s %s: failed (%s)", process, op.name, err.Error())
			errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", process, op.name, err))
			continue
		}
		p.log.Infof("%s %s: succeeded", process, op.name)
	}
	p.log.Infof("%s sequence completed", process)
	return errs
}

// Register register shutdown and reload operation
func (p *Processor) Register(process, operationName string, operationFunction func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	op := operation{name: operationName, call: operationFunction}
	switch process {
	case Shutdown:
		p.shutOps = append(p.shutOps, op)
	case Reload:
		p.reloadOps = append(p.reloadOps, op)
	default:
		return fmt.Errorf("%s process unknown", process)
	}
	return nil
}

// Trigger starts process as if its signal had been received. A reload
// requested while another one is pending is coalesced with it.
func (p *Processor) Trigger(process string) error {
	switch process {
	case Shutdown:
		p.stop()
	case Reload:
		select {
		case p.rChan <- syscall.SIGHUP:
		default:
		}
	default:
		return fmt.Errorf("%s process unknown", process)
	}
	return nil
}

// Shutdown - runs all shutdown operations
func (p *Processor) Shutdown() error {
	return p.callProcess(Shutdown)
}

// Done is closed once the shutdown sequence started by a signal or by
// Trigger has completed.
func (p *Processor) Done() <-chan struct{} {
	return p.done
}

func (p *Processor) Wait() {
	p.wg.Wait()
}
