package sources

import "testing"

func TestAll_IncludesBothTiers(t *testing.T) {
	all := All()
	if len(all) != len(majorCities)+len(mediumCities) {
		t.Fatalf("expected %d sources, got %d", len(majorCities)+len(mediumCities), len(all))
	}
}

func TestByMaxPriority_FiltersCorrectly(t *testing.T) {
	p1 := ByMaxPriority(1)
	for _, s := range p1 {
		if s.Priority > 1 {
			t.Fatalf("ByMaxPriority(1) returned priority %d source %q", s.Priority, s.Name)
		}
	}
	if len(p1) != len(majorCities) {
		t.Fatalf("expected %d priority-1 sources, got %d", len(majorCities), len(p1))
	}

	p2 := ByMaxPriority(2)
	if len(p2) != len(All()) {
		t.Fatalf("expected ByMaxPriority(2) to return every known source, got %d of %d", len(p2), len(All()))
	}
}

func TestDefault_IsMajorCitiesOnly(t *testing.T) {
	def := Default()
	if len(def) != len(majorCities) {
		t.Fatalf("expected %d default sources, got %d", len(majorCities), len(def))
	}
	for _, s := range def {
		if s.Priority != 1 {
			t.Fatalf("default source %q has priority %d, want 1", s.Name, s.Priority)
		}
	}
}

func TestDefault_ReturnsACopy(t *testing.T) {
	def := Default()
	def[0].Name = "mutated"
	if majorCities[0].Name == "mutated" {
		t.Fatal("Default() must not expose the backing array for mutation")
	}
}
