package matchclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClassifyPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    OutcomeKind
	}{
		{"already marked", "Alice is already marked present for Lecture 3 via manual", KindAlreadyMarked},
		{"no match", "No matching student found", KindNoMatch},
		{"no face", "Face not detected: cannot locate landmarks", KindNoFace},
		{"no lecture", "No active lecture. Please ask teacher to start a lecture first.", KindNoActiveLecture},
		{"generic", "internal server error", KindFailure},
		{"empty", "", KindFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.message); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.message, got, tt.want)
			}
		})
	}
}

func TestMarkMatched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/mark-attendance" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"name":"Alice","rollNo":"R42","message":"Attendance marked for Alice (Roll: R42) - Lecture 3"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, false, time.Second)
	res := c.Mark(context.Background(), "data:image/jpeg;base64,xxxx")
	if res.Kind != KindMatched {
		t.Fatalf("kind = %v, want matched", res.Kind)
	}
	if res.RollNo != "R42" || res.Name != "Alice" {
		t.Errorf("identity = %s/%s, want Alice/R42", res.Name, res.RollNo)
	}
}

func TestMarkAlreadyMarkedIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"Bob is already marked present for Lecture 2 via face_recognition"}`))
	}))
	defer srv.Close()

	res := New(srv.URL, false, time.Second).Mark(context.Background(), "data:image/jpeg;base64,xxxx")
	if res.Kind != KindAlreadyMarked {
		t.Errorf("kind = %v, want already_marked", res.Kind)
	}
}

func TestMarkRejectionKinds(t *testing.T) {
	tests := []struct {
		status  int
		message string
		want    OutcomeKind
	}{
		{http.StatusNotFound, "No matching student found", KindNoMatch},
		{http.StatusBadRequest, "Face not detected: blur too high", KindNoFace},
		{http.StatusBadRequest, "No active lecture. Please ask teacher to start a lecture first.", KindNoActiveLecture},
		{http.StatusInternalServerError, "boom", KindFailure},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tt.status)
			w.Write([]byte(`{"message":"` + tt.message + `"}`))
		}))
		res := New(srv.URL, false, time.Second).Mark(context.Background(), "data:image/jpeg;base64,xxxx")
		srv.Close()
		if res.Kind != tt.want {
			t.Errorf("status %d %q: kind = %v, want %v", tt.status, tt.message, res.Kind, tt.want)
		}
	}
}

func TestMarkTransportError(t *testing.T) {
	c := New("http://127.0.0.1:1", false, 200*time.Millisecond)
	res := c.Mark(context.Background(), "data:image/jpeg;base64,xxxx")
	if res.Kind != KindTransportError {
		t.Errorf("kind = %v, want transport_error", res.Kind)
	}
}

func TestMarkTimeoutIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := New(srv.URL, false, time.Second).Mark(ctx, "data:image/jpeg;base64,xxxx")
	if res.Kind != KindTransportError {
		t.Errorf("kind = %v, want transport_error on context timeout", res.Kind)
	}
}

func TestMarkSkipMode(t *testing.T) {
	res := New("", true, time.Second).Mark(context.Background(), "whatever")
	if res.Kind != KindMatched || res.RollNo == "" {
		t.Errorf("skip mode result = %+v, want canned match", res)
	}
}
