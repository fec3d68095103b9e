package mathx

import "testing"

func TestClamp(t *testing.T) {
	if got := Clamp(12, 0, 10); got != 10 {
		t.Fatalf("Clamp high = %d", got)
	}
	if got := Clamp(-1.5, 2.0, -2.0); got != -1.5 {
		t.Fatalf("Clamp swapped bounds = %v", got)
	}
}

func TestMap(t *testing.T) {
	cases := []struct{ x, want float64 }{
		{3300, 0}, {3750, 50}, {4200, 100}, {3000, 0}, {4500, 100},
	}
	for _, tc := range cases {
		if got := Map(tc.x, 3300, 4200, 0, 100); got != tc.want {
			t.Errorf("Map(%v) = %v, want %v", tc.x, got, tc.want)
		}
	}
}

func TestFixedSaturates(t *testing.T) {
	if got := U16(231.57, 10); got != 2315 {
		t.Errorf("U16 = %d, want 2315", got)
	}
	if got := U8(-3, 1); got != 0 {
		t.Errorf("U8 negative = %d, want 0", got)
	}
	if got := U8(30, 10); got != 255 {
		t.Errorf("U8 overflow = %d, want 255", got)
	}
	if got := I8(-1.05, 10); got != -10 {
		t.Errorf("I8 = %d, want -10", got)
	}
	if got := I8(-50, 10); got != -128 {
		t.Errorf("I8 floor = %d, want -128", got)
	}
}
