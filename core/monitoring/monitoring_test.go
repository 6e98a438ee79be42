package monitoring

import (
	"errors"
	"testing"
	"time"
)

type fakeMonitor struct {
	errs      []error
	tags      []map[string]string
	recovered any
	flushed   bool
}

func (f *fakeMonitor) CaptureException(err error, tags map[string]string) {
	f.errs = append(f.errs, err)
	f.tags = append(f.tags, tags)
}
func (f *fakeMonitor) Flush(time.Duration) { f.flushed = true }
func (f *fakeMonitor) RecoverValue(v any)  { f.recovered = v }

func TestCaptureDelivery(t *testing.T) {
	f := &fakeMonitor{}
	Init(f)
	defer Init(NopMonitor{})

	CaptureException(nil, nil)
	CaptureDelivery(errors.New("store down"), "assign", "d1")
	if len(f.errs) != 1 {
		t.Fatalf("expected one capture, got %d", len(f.errs))
	}
	if f.tags[0]["operation"] != "assign" || f.tags[0]["delivery_id"] != "d1" {
		t.Fatalf("unexpected tags %v", f.tags[0])
	}
}

func TestRecoverRepanics(t *testing.T) {
	f := &fakeMonitor{}
	Init(f)
	defer Init(NopMonitor{})

	defer func() {
		if r := recover(); r != "boom" {
			t.Fatalf("expected re-panic with boom, got %v", r)
		}
		if f.recovered != "boom" || !f.flushed {
			t.Fatalf("panic not reported: %+v", f)
		}
	}()
	func() {
		defer Recover()
		panic("boom")
	}()
}
