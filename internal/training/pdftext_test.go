package training

import "testing"

func TestPDFWordCountRejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("not a pdf"), []byte("%PDF-1.4\n%%EOF")} {
		n, err := pdfWordCount(data)
		if err == nil {
			t.Fatalf("expected error for %q", data)
		}
		if n != 0 {
			t.Fatalf("expected zero words, got %d", n)
		}
	}
}
