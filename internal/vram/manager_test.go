package vram

import (
	"testing"

	"github.com/rs/zerolog"

	"renderd/pkg/types"
)

func testRegistry() []types.ModelSpec {
	return []types.ModelSpec{
		{Name: "a", VRAMGB: 14, Heavy: true},
		{Name: "b", VRAMGB: 14, Heavy: true},
		{Name: "tts", VRAMGB: 4},
		{Name: "whisper", VRAMGB: 4},
		{Name: "music", VRAMGB: 6},
	}
}

func newTestManager(budgetGB float64) *Manager {
	return New(testRegistry(), budgetGB, zerolog.Nop())
}

func TestAdmitUnknownModel(t *testing.T) {
	m := newTestManager(16)
	err := m.Admit("nope")
	if err == nil || !IsModelNotFound(err) {
		t.Fatalf("expected model-not-found, got %v", err)
	}
}

func TestAdmitIdempotent(t *testing.T) {
	m := newTestManager(16)
	if err := m.Admit("tts"); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := m.Admit("tts"); err != nil {
		t.Fatalf("second admit: %v", err)
	}
	st := m.Status()
	if st.UsedGB != 4 || len(st.Resident) != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestHeavyAdmissionEvictsOtherHeavy(t *testing.T) {
	m := newTestManager(16)
	if err := m.Admit("a"); err != nil {
		t.Fatalf("admit a: %v", err)
	}
	if err := m.Admit("b"); err != nil {
		t.Fatalf("admit b: %v", err)
	}
	st := m.Status()
	if len(st.Resident) != 1 || st.Resident[0] != "b" {
		t.Fatalf("expected resident {b}, got %v", st.Resident)
	}
	if st.UsedGB != 14 {
		t.Fatalf("expected 14GB used, got %v", st.UsedGB)
	}
}

func TestLightCoexistsWithHeavy(t *testing.T) {
	m := newTestManager(20)
	if err := m.Admit("a"); err != nil {
		t.Fatalf("admit a: %v", err)
	}
	if err := m.Admit("tts"); err != nil {
		t.Fatalf("admit tts: %v", err)
	}
	st := m.Status()
	if len(st.Resident) != 2 || st.UsedGB != 18 {
		t.Fatalf("expected heavy+light resident, got %+v", st)
	}
	if st.AvailableGB != 2 {
		t.Fatalf("expected 2GB available, got %v", st.AvailableGB)
	}
}

func TestLightOverBudgetEvictsHeavy(t *testing.T) {
	m := newTestManager(16)
	if err := m.Admit("a"); err != nil {
		t.Fatalf("admit a: %v", err)
	}
	if err := m.Admit("tts"); err != nil {
		t.Fatalf("admit tts: %v", err)
	}
	// 14 + 4 + 6 > 16: the heavy model goes, both lights stay.
	if err := m.Admit("music"); err != nil {
		t.Fatalf("admit music: %v", err)
	}
	st := m.Status()
	if len(st.Resident) != 2 || st.UsedGB != 10 {
		t.Fatalf("expected lights only, got %+v", st)
	}
	for _, name := range st.Resident {
		if name == "a" {
			t.Fatalf("heavy model still resident: %v", st.Resident)
		}
	}
}

func TestLightBudgetExceededIsFatal(t *testing.T) {
	m := newTestManager(7)
	if err := m.Admit("tts"); err != nil {
		t.Fatalf("admit tts: %v", err)
	}
	err := m.Admit("music")
	if err == nil || !IsBudgetExceeded(err) {
		t.Fatalf("expected budget-exceeded, got %v", err)
	}
	if IsModelNotFound(err) {
		t.Fatalf("misclassified error")
	}
	// The failed admission must not leak accounting.
	if st := m.Status(); st.UsedGB != 4 {
		t.Fatalf("used leaked: %+v", st)
	}
}

func TestEvictAndEvictAll(t *testing.T) {
	m := newTestManager(20)
	if err := m.Admit("a"); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := m.Admit("tts"); err != nil {
		t.Fatalf("admit: %v", err)
	}
	m.Evict("tts")
	m.Evict("tts") // non-resident: no-op
	if st := m.Status(); st.UsedGB != 14 || len(st.Resident) != 1 {
		t.Fatalf("after evict: %+v", st)
	}
	m.EvictAll()
	st := m.Status()
	if st.UsedGB != 0 || len(st.Resident) != 0 {
		t.Fatalf("after evict all: %+v", st)
	}
	if st.AvailableGB != 20 {
		t.Fatalf("expected full budget available, got %v", st.AvailableGB)
	}
}

func TestRegistryReturnsCopy(t *testing.T) {
	m := newTestManager(16)
	out := m.Registry()
	out[0].Name = "mutated"
	if m.Registry()[0].Name != "a" {
		t.Fatalf("registry mutated via returned slice")
	}
}
