package backend

import "strings"

// Role selects which capture endpoint a session targets.
type Role int

const (
	// RoleMicrophone captures the default input device.
	RoleMicrophone Role = iota
	// RoleSystemMix captures the machine's output mix (render loopback).
	RoleSystemMix
)

func (r Role) String() string {
	if r == RoleSystemMix {
		return "system"
	}
	return "microphone"
}

// Encoding is the sample encoding a device delivers raw frames in.
type Encoding int

const (
	EncodingUnknown Encoding = iota
	EncodingIntPCM
	EncodingFloatPCM
)

// Format describes the native stream format of an open device. It is
// discovered from the device at open time, never chosen by the caller.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Encoding      Encoding
}

// FrameSize returns the size in bytes of one interleaved frame.
func (f Format) FrameSize() int {
	return f.Channels * f.BitsPerSample / 8
}

// Transport is a best-effort classification of how a device is connected.
type Transport int

const (
	TransportUnknown Transport = iota
	TransportWired
	TransportWireless
)

// Device is best-effort metadata about a capture endpoint.
type Device struct {
	ID        string
	Name      string
	Transport Transport
	Default   bool
}

// Wireless devices (Bluetooth headsets in particular) are slow to hand out a
// working stream after connecting, so sessions give them a longer retry
// ladder. The keyword list matches the vendors that show up in practice.
var wirelessKeywords = []string{
	"bluetooth", "airpods", "beats", "jabra", "sony", "bose", "jbl",
}

// IsFlaky reports whether the device should get the extended retry policy.
func (d Device) IsFlaky() bool {
	if d.Transport == TransportWireless {
		return true
	}
	name := strings.ToLower(d.Name)
	for _, kw := range wirelessKeywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}

// Packet is one hardware delivery of raw frames. Data is only valid until
// the next ReadPacket call; the capture loop consumes it synchronously.
type Packet struct {
	Data   []byte
	Frames int
	// Silent marks a delivery the device flagged as silence. The frames
	// still advance the stream clock and are treated as zero samples.
	Silent bool
}

// Backend is the platform audio subsystem a session acquires devices from.
// Acquisition is staged so a session can release exactly what it obtained
// when a stage fails partway through.
type Backend interface {
	// DefaultDevice enumerates the default endpoint for the role.
	DefaultDevice(role Role) (Device, error)
	// Activate obtains a handle on the device. The caller owns the handle
	// and must Close it on every path.
	Activate(dev Device) (Handle, error)
}

// Handle is an activated but not necessarily started device stream.
type Handle interface {
	// Format queries the device's native stream format.
	Format() (Format, error)
	// Initialize configures the stream at the given (native) format.
	Initialize(f Format) error
	// BufferFrames reports the device buffer size in frames.
	BufferFrames() (int, error)
	// Reader obtains the frame-reader capability. The caller must Release
	// it before closing the handle.
	Reader() (Reader, error)
	// Start begins delivering frames to the reader.
	Start() error
	// Stop halts frame delivery. Safe to call on a never-started handle.
	Stop() error
	// Close releases the handle. Idempotent.
	Close() error
}

// Reader drains raw frame packets from a started stream.
type Reader interface {
	// ReadPacket returns the next available frame block. ok is false when
	// no frames are ready yet; err is a stream-level failure.
	ReadPacket() (Packet, bool, error)
	// Release frees the reader capability. Idempotent.
	Release() error
}
