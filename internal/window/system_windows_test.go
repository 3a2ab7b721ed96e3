//go:build windows

package window

import "testing"

func TestUser32System_Enumerates(t *testing.T) {
	records, err := NewEnumerator(NewSystem()).Enumerate()
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	for _, rec := range records {
		if rec.PID == 0 || rec.Title == "" {
			t.Errorf("incomplete record %+v", rec)
		}
	}
}
