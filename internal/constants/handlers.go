package constants

// Handler pagination constants
const (
	// DefaultHandlerPageSize is the page size for paginated handler endpoints
	DefaultHandlerPageSize = 100

	// MaxHandlerPageSize caps the limit query parameter
	MaxHandlerPageSize = 1000
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)

// File upload constants
const (
	// MaxUploadSize is the maximum photo upload size in bytes (16MB)
	MaxUploadSize = 16 << 20
)

// Time formats used in notifications and reports
const (
	DateLayout        = "2006-01-02"
	DisplayDateLayout = "January 2, 2006"
	DisplayTimeLayout = "03:04 PM"
)
