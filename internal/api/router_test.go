package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/atlasterm/ezod/ezo"
)

type fakeStamp struct {
	parser  *ezo.Parser
	encoder *ezo.Encoder
	sent    []string
	err     error
}

func newFakeStamp() *fakeStamp {
	return &fakeStamp{parser: ezo.NewParser(), encoder: ezo.NewEncoder()}
}

func (f *fakeStamp) Properties() ezo.Properties { return f.parser.Properties() }

func (f *fakeStamp) Stats() ezo.Stats { return f.parser.Stats() }

func (f *fakeStamp) Do(op ezo.Op, arg string) error {
	frame, err := f.encoder.Build(op, arg)
	if err != nil {
		return err
	}
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, string(frame))
	return nil
}

func (f *fakeStamp) Calibrate(ctx context.Context, stage ezo.CalStage) (ezo.CalState, error) {
	if f.err != nil {
		return ezo.CalUnset, f.err
	}
	f.parser.Feed([]byte("?CAL," + string(rune('0'+stage)) + "\r"))
	return f.parser.Properties().CalibrationState, nil
}

func (f *fakeStamp) CalibrateOrp(ctx context.Context, ref float64) (ezo.CalState, error) {
	if f.err != nil {
		return ezo.CalUnset, f.err
	}
	frame, err := f.encoder.CalibrateOrp(ref)
	if err != nil {
		return ezo.CalUnset, err
	}
	f.sent = append(f.sent, string(frame))
	f.parser.Feed([]byte("?CAL,1\r"))
	return f.parser.Properties().CalibrationState, nil
}

func (f *fakeStamp) SetLED(ctx context.Context, on bool) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.sent = append(f.sent, string(f.encoder.WriteLED(on)))
	if on {
		f.parser.Feed([]byte("?L,1\r"))
	} else {
		f.parser.Feed([]byte("?L,0\r"))
	}
	return f.parser.Properties().LedOn, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestVersion(t *testing.T) {
	r := NewRouter(newFakeStamp(), Version{Version: "1.2.3", BuildDate: "today"}, time.Second)
	rec := do(t, r, "GET", "/version", "")
	var v Version
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || v.Version != "1.2.3" || v.BuildDate != "today" {
		t.Errorf("Unexpected response %d %+v", rec.Code, v)
	}
}

func TestProperties(t *testing.T) {
	stamp := newFakeStamp()
	stamp.parser.Feed([]byte("?I,pH,1.0\r7.01\r"))
	rec := do(t, NewRouter(stamp, Version{}, time.Second), "GET", "/properties", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var props map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&props); err != nil {
		t.Fatal(err)
	}
	if props["probe_type"] != "pH" || props["ph"] != 7.01 || props["orp"] != nil {
		t.Errorf("Unexpected properties %v", props)
	}
}

func TestCommand(t *testing.T) {
	stamp := newFakeStamp()
	r := NewRouter(stamp, Version{}, time.Second)

	for _, tc := range []struct {
		path, body string
		code       int
	}{
		{"/command/read_led", "", http.StatusOK},
		{"/command/write_temperature", "25", http.StatusOK},
		{"/command/write_led", "false", http.StatusOK},
		{"/command/write_name", `"tank1"`, http.StatusOK},
		{"/command/calibrate_ph", `"bogus"`, http.StatusBadRequest},
		{"/command/write_led", "{}", http.StatusBadRequest},
		{"/command/self_destruct", "", http.StatusNotFound},
	} {
		if rec := do(t, r, "POST", tc.path, tc.body); rec.Code != tc.code {
			t.Errorf("%s %s: expected %d, got %d (%s)", tc.path, tc.body, tc.code, rec.Code, rec.Body)
		}
	}
	want := []string{"L,?\r", "T,25.00\r", "L,0\r", "NAME,tank1\r"}
	if strings.Join(stamp.sent, "|") != strings.Join(want, "|") {
		t.Errorf("Expected frames %q, got %q", want, stamp.sent)
	}
}

func TestCommandNotConnected(t *testing.T) {
	stamp := newFakeStamp()
	stamp.err = ezo.ErrNotConnected
	rec := do(t, NewRouter(stamp, Version{}, time.Second), "POST", "/command/read_status", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}

func TestCalibrate(t *testing.T) {
	stamp := newFakeStamp()
	r := NewRouter(stamp, Version{}, time.Second)

	rec := do(t, r, "POST", "/calibrate/low", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%s)", rec.Code, rec.Body)
	}
	var res struct {
		State int    `json:"calibration_state"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.State != 2 || res.Name != "low" {
		t.Errorf("Unexpected result %+v", res)
	}

	if rec := do(t, r, "POST", "/calibrate/extreme", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}

	stamp.err = ezo.ErrTimeout
	if rec := do(t, r, "POST", "/calibrate/mid", ""); rec.Code != http.StatusGatewayTimeout {
		t.Errorf("Expected 504, got %d", rec.Code)
	}
}

func TestCalibrateOrp(t *testing.T) {
	stamp := newFakeStamp()
	r := NewRouter(stamp, Version{}, time.Second)

	rec := do(t, r, "POST", "/calibrate/orp", "225")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%s)", rec.Code, rec.Body)
	}
	if len(stamp.sent) != 1 || stamp.sent[0] != "Cal,225.0\r" {
		t.Errorf("Expected Cal,225.0, got %q", stamp.sent)
	}
	for _, body := range []string{"", `"high"`, "true"} {
		if rec := do(t, r, "POST", "/calibrate/orp", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestLED(t *testing.T) {
	stamp := newFakeStamp()
	r := NewRouter(stamp, Version{}, time.Second)

	rec := do(t, r, "POST", "/led", "false")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%s)", rec.Code, rec.Body)
	}
	var res struct {
		LedOn bool `json:"led_on"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.LedOn {
		t.Errorf("Expected LED off")
	}
	if len(stamp.sent) != 1 || stamp.sent[0] != "L,0\r" {
		t.Errorf("Expected L,0, got %q", stamp.sent)
	}
	if rec := do(t, r, "POST", "/led", `"blink"`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}
