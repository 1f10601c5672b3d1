package probe

import "testing"

func TestParseCSVBasic(t *testing.T) {
	out := "0, GPU-abc, NVIDIA A100 80GB, 81920, 1024, 12\n1, GPU-def, NVIDIA A100 80GB, 81920, 0, 0\n"
	records, err := parseCSV(out)
	if err != nil {
		t.Fatalf("parseCSV: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ModelName != "NVIDIA A100 80GB" {
		t.Errorf("model name = %q", records[0].ModelName)
	}
	if records[0].MemoryUsedMiB == nil || *records[0].MemoryUsedMiB != 1024 {
		t.Errorf("memory used = %v", records[0].MemoryUsedMiB)
	}
}

func TestParseCSVMissingValuesBecomeNil(t *testing.T) {
	out := "0, GPU-abc, NVIDIA A100 80GB, N/A, N/A, N/A\n"
	records, err := parseCSV(out)
	if err != nil {
		t.Fatalf("parseCSV: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.MemoryTotalMiB != nil || rec.MemoryUsedMiB != nil || rec.UtilizationPct != nil {
		t.Errorf("expected nil optional fields, got %+v", rec)
	}
}

func TestParseCSVDropsRowsMissingName(t *testing.T) {
	out := "0, GPU-abc, , 81920, 1024, 12\n"
	records, err := parseCSV(out)
	if err != nil {
		t.Fatalf("parseCSV: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected row without name to be dropped, got %+v", records)
	}
}

func TestParseCSVSkipsBlankLines(t *testing.T) {
	out := "0, GPU-abc, NVIDIA A100 80GB, 81920, 1024, 12\n\n"
	records, err := parseCSV(out)
	if err != nil {
		t.Fatalf("parseCSV: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
}
