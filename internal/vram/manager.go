package vram

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"renderd/internal/registry"
	"renderd/pkg/types"
)

// Manager tracks which generative models are resident in a fixed VRAM
// budget and decides what must be evicted before a new model is admitted.
// Residency accounting is per accelerator: each worker process owns its
// own Manager and no state is shared across processes.
//
// Policy: at most one heavy model at a time. Admitting a heavy model
// evicts every other resident heavy model first. Light models coexist
// with one heavy model up to the budget; lights are never evicted to make
// room for other lights — the budget is expected to always cover all
// lights combined, and anything else is a configuration error.
type Manager struct {
	mu       sync.Mutex
	registry []types.ModelSpec
	budgetGB float64
	resident map[string]types.ModelSpec
	usedGB   float64
	log      zerolog.Logger
}

// New constructs a Manager over the given registry and budget.
func New(specs []types.ModelSpec, budgetGB float64, log zerolog.Logger) *Manager {
	m := &Manager{
		registry: specs,
		budgetGB: budgetGB,
		resident: make(map[string]types.ModelSpec),
		log:      log.With().Str("component", "vram").Logger(),
	}
	vramBudgetGauge.Set(budgetGB)
	return m
}

// Admit makes the named model resident, evicting other models as the
// policy requires. Admitting an already-resident model is a no-op.
func (m *Manager) Admit(name string) error {
	spec, ok := registry.Find(m.registry, name)
	if !ok {
		return modelNotFoundError{name: name}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.resident[name]; ok {
		return nil
	}

	if spec.Heavy {
		// A single accelerator cannot hold two heavy models; clear the
		// others unconditionally, then admit regardless of what remains.
		m.evictHeavyLocked()
	} else if m.usedGB+spec.VRAMGB > m.budgetGB {
		m.evictHeavyLocked()
		if m.usedGB+spec.VRAMGB > m.budgetGB {
			return budgetExceededError{
				name:     name,
				needGB:   spec.VRAMGB,
				usedGB:   m.usedGB,
				budgetGB: m.budgetGB,
			}
		}
	}

	m.resident[name] = spec
	m.usedGB += spec.VRAMGB
	admissionsTotal.Inc()
	vramUsedGauge.Set(m.usedGB)
	m.log.Info().Str("model", name).Float64("vram_gb", spec.VRAMGB).
		Bool("heavy", spec.Heavy).Float64("used_gb", m.usedGB).Msg("model admitted")
	return nil
}

// Evict releases the named model's residency. Evicting a non-resident
// model is a no-op.
func (m *Manager) Evict(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked(name)
}

// EvictAll releases every resident model. Used at process shutdown.
func (m *Manager) EvictAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.resident {
		m.evictLocked(name)
	}
}

// Status returns a read-only snapshot for observability.
func (m *Manager) Status() types.GPUStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.resident))
	for name := range m.resident {
		names = append(names, name)
	}
	sort.Strings(names)
	return types.GPUStatus{
		Resident:    names,
		UsedGB:      m.usedGB,
		BudgetGB:    m.budgetGB,
		AvailableGB: m.budgetGB - m.usedGB,
	}
}

// Registry returns the static model registry the manager was built over.
func (m *Manager) Registry() []types.ModelSpec {
	out := make([]types.ModelSpec, len(m.registry))
	copy(out, m.registry)
	return out
}

func (m *Manager) evictHeavyLocked() {
	for name, spec := range m.resident {
		if spec.Heavy {
			m.evictLocked(name)
		}
	}
}

func (m *Manager) evictLocked(name string) {
	spec, ok := m.resident[name]
	if !ok {
		return
	}
	delete(m.resident, name)
	m.usedGB -= spec.VRAMGB
	if m.usedGB < 0 {
		m.usedGB = 0
	}
	evictionsTotal.Inc()
	vramUsedGauge.Set(m.usedGB)
	m.log.Info().Str("model", name).Float64("used_gb", m.usedGB).Msg("model evicted")
}
