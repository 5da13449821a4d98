package pipeline

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateAudio(t *testing.T) {
	tests := []struct {
		name      string
		audio     []byte
		mimeType  string
		maxBytes  int64
		wantField string // "" = valid
	}{
		{"valid webm", []byte("data"), "audio/webm", 1 << 20, ""},
		{"valid browser webm container", []byte("data"), "video/webm", 1 << 20, ""},
		{"valid with no declared type", []byte("data"), "", 1 << 20, ""},
		{"missing audio", nil, "audio/webm", 1 << 20, "audio"},
		{"empty audio", []byte{}, "audio/webm", 1 << 20, "audio"},
		{"oversized", make([]byte, 11), "audio/webm", 10, "audio"},
		{"text upload", []byte("data"), "text/plain", 1 << 20, "mime_type"},
		{"size check disabled", make([]byte, 100), "audio/webm", 0, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateAudio(tc.audio, tc.mimeType, tc.maxBytes)
			if tc.wantField == "" {
				if err != nil {
					t.Fatalf("ValidateAudio: %v, want nil", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Field != tc.wantField {
				t.Errorf("field = %q, want %q", verr.Field, tc.wantField)
			}
		})
	}
}

func TestValidationError_MessageIsClientSafe(t *testing.T) {
	err := ValidateAudio(make([]byte, 26<<20), "audio/webm", 25<<20)
	if err == nil {
		t.Fatal("oversized audio accepted")
	}
	if !strings.Contains(err.Error(), "25 MiB") {
		t.Errorf("error should state the limit, got %q", err.Error())
	}
}

func TestLatencyTracker_TotalCoversStages(t *testing.T) {
	tr := NewTracker()
	tr.SetSTT(120 * time.Millisecond)
	tr.SetRetrieval(80 * time.Millisecond)
	tr.SetFirstToken(340 * time.Millisecond)

	rec := tr.Record()
	if rec.STT != 120 || rec.Retrieval != 80 || rec.FirstToken != 340 {
		t.Errorf("record = %+v", rec)
	}
	if rec.Total < 0 {
		t.Errorf("total = %d, want >= 0", rec.Total)
	}
}
