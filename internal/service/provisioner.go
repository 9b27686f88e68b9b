package service

import (
	"context"
	"cyberrange_backend/internal/model"
	"fmt"
	"sync"
	"time"
)

// SimulatedProvisioner is the dev-mode backend: it hands out synthetic
// handles after a short delay instead of talking to an orchestrator. The
// delay keeps the timeout path exercised in development.
type SimulatedProvisioner struct {
	Delay time.Duration

	mu     sync.Mutex
	serial int
	live   map[string]bool
}

func NewSimulatedProvisioner(delay time.Duration) *SimulatedProvisioner {
	return &SimulatedProvisioner{
		Delay: delay,
		live:  make(map[string]bool),
	}
}

func (p *SimulatedProvisioner) wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(p.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *SimulatedProvisioner) Allocate(ctx context.Context, lab *model.Lab, session *model.LabSession) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.serial++
	handle := fmt.Sprintf("sim-%s-%d", lab.Image, p.serial)
	p.live[handle] = true
	return handle, nil
}

func (p *SimulatedProvisioner) Reset(ctx context.Context, handle string) error {
	if err := p.wait(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.live[handle] {
		return fmt.Errorf("unknown handle %q", handle)
	}
	return nil
}

func (p *SimulatedProvisioner) Deallocate(ctx context.Context, handle string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, handle)
	return nil
}
