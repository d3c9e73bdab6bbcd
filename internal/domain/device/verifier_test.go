package device

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medhealth/telemetry/internal/platform/auth"
)

const (
	testDeviceSecret = "test_device_secret_for_hmac_testing_32_chars"
	testDeviceID     = "TEST-DEVICE-001"
	testWindow       = 60
)

// -- Mock Repository --

type mockDeviceRepo struct {
	store map[string]*Device
}

func newMockDeviceRepo() *mockDeviceRepo {
	return &mockDeviceRepo{store: make(map[string]*Device)}
}

func (m *mockDeviceRepo) add(d *Device) *Device {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	m.store[d.DeviceID] = d
	return d
}

func (m *mockDeviceRepo) GetActiveByDeviceID(_ context.Context, deviceID string) (*Device, error) {
	d, ok := m.store[deviceID]
	if !ok || !d.IsActive {
		return nil, ErrUnknownDevice
	}
	return d, nil
}

func (m *mockDeviceRepo) TouchLastSeen(_ context.Context, id uuid.UUID) error {
	for _, d := range m.store {
		if d.ID == id {
			now := time.Now()
			d.LastSeenAt = &now
			return nil
		}
	}
	return errors.New("not found")
}

// -- Verifier Tests --

func newTestVerifier(at time.Time) (*Verifier, *mockDeviceRepo) {
	repo := newMockDeviceRepo()
	repo.add(&Device{DeviceID: testDeviceID, DeviceName: "Test Monitor", IsActive: true})
	v := NewVerifier(repo, testDeviceSecret, testWindow)
	v.now = func() time.Time { return at }
	return v, repo
}

func signedAt(ts int64, body []byte) string {
	return auth.SignDevicePayload(testDeviceSecret, ts, body)
}

func TestVerify_Success(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v, _ := newTestVerifier(now)
	body := []byte(`{"heartRate":72,"spo2":98,"temperature":36.6,"timestamp":1700000000}`)
	ts := now.Unix()

	d, err := v.Verify(context.Background(), testDeviceID, "1700000000", signedAt(ts, body), body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.DeviceID != testDeviceID {
		t.Errorf("DeviceID = %q, want %q", d.DeviceID, testDeviceID)
	}
}

func TestVerify_MissingDeviceID(t *testing.T) {
	v, _ := newTestVerifier(time.Now())
	_, err := v.Verify(context.Background(), "", "123", "sig", nil)
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("error = %v, want ErrMissingCredential", err)
	}
	var missing *MissingHeaderError
	if !errors.As(err, &missing) || missing.Header != "X-Device-Id" {
		t.Errorf("missing header = %v, want X-Device-Id", err)
	}
}

func TestVerify_MissingTimestamp(t *testing.T) {
	v, _ := newTestVerifier(time.Now())
	_, err := v.Verify(context.Background(), testDeviceID, "", "sig", nil)
	var missing *MissingHeaderError
	if !errors.As(err, &missing) || missing.Header != "X-Timestamp" {
		t.Errorf("missing header = %v, want X-Timestamp", err)
	}
}

func TestVerify_MalformedTimestamp(t *testing.T) {
	// An unparseable timestamp is treated like an absent one.
	v, _ := newTestVerifier(time.Now())
	_, err := v.Verify(context.Background(), testDeviceID, "not-a-number", "sig", nil)
	var missing *MissingHeaderError
	if !errors.As(err, &missing) || missing.Header != "X-Timestamp" {
		t.Errorf("missing header = %v, want X-Timestamp", err)
	}
}

func TestVerify_MissingSignature(t *testing.T) {
	v, _ := newTestVerifier(time.Now())
	_, err := v.Verify(context.Background(), testDeviceID, "123", "", nil)
	var missing *MissingHeaderError
	if !errors.As(err, &missing) || missing.Header != "X-Signature" {
		t.Errorf("missing header = %v, want X-Signature", err)
	}
}

func TestVerify_TimestampAtWindowEdgeAccepted(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v, _ := newTestVerifier(now)
	body := []byte(`{"heartRate":72}`)

	for _, ts := range []int64{now.Unix() - testWindow, now.Unix() + testWindow} {
		sig := signedAt(ts, body)
		if _, err := v.Verify(context.Background(), testDeviceID, itoa(ts), sig, body); err != nil {
			t.Errorf("ts offset %d: unexpected error: %v", ts-now.Unix(), err)
		}
	}
}

func TestVerify_TimestampOutsideWindowRejected(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v, _ := newTestVerifier(now)
	body := []byte(`{"heartRate":72}`)

	for _, ts := range []int64{now.Unix() - testWindow - 1, now.Unix() + testWindow + 1} {
		sig := signedAt(ts, body)
		_, err := v.Verify(context.Background(), testDeviceID, itoa(ts), sig, body)
		if !errors.Is(err, ErrReplayRejected) {
			t.Errorf("ts offset %d: error = %v, want ErrReplayRejected", ts-now.Unix(), err)
		}
	}
}

func TestVerify_BadSignature(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v, _ := newTestVerifier(now)
	body := []byte(`{"heartRate":72}`)
	ts := now.Unix()

	_, err := v.Verify(context.Background(), testDeviceID, itoa(ts), "bogus-signature", body)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("error = %v, want ErrBadSignature", err)
	}
}

func TestVerify_SignatureCoversExactBytes(t *testing.T) {
	// Signing and verifying must agree on the raw payload; a semantically
	// equal body with different whitespace is a different message.
	now := time.Unix(1700000000, 0)
	v, _ := newTestVerifier(now)
	ts := now.Unix()
	spaced := []byte(`{"heartRate": 72}`)
	compact := []byte(`{"heartRate":72}`)
	sig := signedAt(ts, spaced)

	if _, err := v.Verify(context.Background(), testDeviceID, itoa(ts), sig, spaced); err != nil {
		t.Fatalf("unexpected error for signed bytes: %v", err)
	}
	if _, err := v.Verify(context.Background(), testDeviceID, itoa(ts), sig, compact); !errors.Is(err, ErrBadSignature) {
		t.Errorf("error = %v, want ErrBadSignature for reformatted body", err)
	}
}

func TestVerify_UnknownDevice(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v, _ := newTestVerifier(now)
	body := []byte(`{"heartRate":72}`)
	ts := now.Unix()

	_, err := v.Verify(context.Background(), "NOBODY-01", itoa(ts), signedAt(ts, body), body)
	if !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("error = %v, want ErrUnknownDevice", err)
	}
}

func TestVerify_InactiveDevice(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v, repo := newTestVerifier(now)
	repo.add(&Device{DeviceID: "RETIRED-01", DeviceName: "Retired", IsActive: false})
	body := []byte(`{"heartRate":72}`)
	ts := now.Unix()

	_, err := v.Verify(context.Background(), "RETIRED-01", itoa(ts), signedAt(ts, body), body)
	if !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("error = %v, want ErrUnknownDevice", err)
	}
}

func TestVerify_SignatureCheckedBeforeLookup(t *testing.T) {
	// A bad signature from an unknown sender must fail as a signature
	// error, not reveal whether the device id exists.
	now := time.Unix(1700000000, 0)
	v, _ := newTestVerifier(now)
	ts := now.Unix()

	_, err := v.Verify(context.Background(), "NOBODY-01", itoa(ts), "bogus", []byte(`{}`))
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("error = %v, want ErrBadSignature", err)
	}
}

func TestVerify_WindowCheckedBeforeSignature(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v, _ := newTestVerifier(now)
	body := []byte(`{"heartRate":72}`)
	ts := now.Unix() - testWindow - 30

	_, err := v.Verify(context.Background(), testDeviceID, itoa(ts), signedAt(ts, body), body)
	if !errors.Is(err, ErrReplayRejected) {
		t.Fatalf("error = %v, want ErrReplayRejected", err)
	}
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
