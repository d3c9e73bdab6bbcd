package device

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/medhealth/telemetry/internal/platform/auth"
)

// Verification failures callers are expected to branch on. Anything else
// returned by Verify is a storage fault.
var (
	ErrMissingCredential = errors.New("missing signature header")
	ErrReplayRejected    = errors.New("timestamp out of range")
	ErrBadSignature      = errors.New("signature mismatch")
	ErrUnknownDevice     = errors.New("unknown device")
)

// MissingHeaderError reports which signature header was absent or unusable.
// It matches ErrMissingCredential under errors.Is.
type MissingHeaderError struct{ Header string }

func (e *MissingHeaderError) Error() string { return "missing header " + e.Header }

func (e *MissingHeaderError) Is(target error) bool { return target == ErrMissingCredential }

// Verifier authenticates signed device submissions. Signatures are checked
// against the fleet-wide ingest secret; the per-device secret_hash column is
// provisioning data and does not participate in verification.
type Verifier struct {
	devices DeviceRepository
	secret  string
	window  int64
	now     func() time.Time
}

// NewVerifier builds a Verifier. windowSecs bounds the accepted difference
// between the X-Timestamp header and server time, in either direction.
func NewVerifier(devices DeviceRepository, secret string, windowSecs int64) *Verifier {
	return &Verifier{devices: devices, secret: secret, window: windowSecs, now: time.Now}
}

// Verify authenticates one submission and resolves the sending device.
// Checks run in a fixed order: header presence, timestamp window, signature,
// then the device lookup. The signature covers the body bytes exactly as
// received.
func (v *Verifier) Verify(ctx context.Context, deviceID, timestamp, signature string, body []byte) (*Device, error) {
	if deviceID == "" {
		return nil, &MissingHeaderError{Header: "X-Device-Id"}
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, &MissingHeaderError{Header: "X-Timestamp"}
	}
	if signature == "" {
		return nil, &MissingHeaderError{Header: "X-Signature"}
	}

	if d := v.now().Unix() - ts; d > v.window || d < -v.window {
		return nil, ErrReplayRejected
	}

	if !auth.VerifyDeviceSignature(v.secret, ts, body, signature) {
		return nil, ErrBadSignature
	}

	return v.devices.GetActiveByDeviceID(ctx, deviceID)
}
