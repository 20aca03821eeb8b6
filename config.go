package oru

import (
	"crypto/ed25519"
	"fmt"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"
)

// Namespace is the rendezvous namespace every node registers under.
const Namespace = "oru"

// DefaultIntroducer is the introducer the command-line node connects to.
const DefaultIntroducer = "/ip4/127.0.0.1/tcp/4001"

// Default configuration values.
const (
	DefaultStartupGrace         = 1 * time.Second
	DefaultReservationAttempts  = 1
	DefaultReservationBaseDelay = 1 * time.Second
	DefaultReservationMaxDelay  = 30 * time.Second
	DefaultRedialCooldown       = 1 * time.Minute
	DefaultRedialCacheSize      = 1024
	DefaultDialTimeout          = 30 * time.Second
	DefaultRequestTimeout       = 30 * time.Second
	DefaultRegistrationTTL      = 2 * time.Hour
	DefaultEventBufferSize      = 64
	DefaultStatusBufferSize     = 100
)

// Config holds the configuration for an oru node.
type Config struct {
	// PrivateKey is the Ed25519 private key for this node's identity.
	// If nil, a fresh identity is generated.
	PrivateKey ed25519.PrivateKey

	// ListenIP is the local interface Connect listens on. If nil, all IPv4
	// interfaces are used.
	ListenIP net.IP

	// StartupGrace is how long Connect waits after opening the listener
	// before dialing the introducer.
	StartupGrace time.Duration

	// ReservationAttempts is the number of times the relay reservation is
	// tried before the connection fails. 1 means no retry.
	ReservationAttempts int

	// ReservationBaseDelay is the initial delay before retrying a failed
	// reservation.
	ReservationBaseDelay time.Duration

	// ReservationMaxDelay is the maximum delay between reservation attempts
	// after exponential backoff.
	ReservationMaxDelay time.Duration

	// RediscoveryInterval enables periodic discovery rounds. Zero runs a
	// single round.
	RediscoveryInterval time.Duration

	// RedialCooldown is how long a discovered peer is skipped after it was
	// dialed.
	RedialCooldown time.Duration

	// RedialCacheSize bounds the number of peers remembered for the redial
	// cooldown.
	RedialCacheSize int

	// DialTimeout bounds each outbound dial.
	DialTimeout time.Duration

	// RequestTimeout bounds each rendezvous and relay request.
	RequestTimeout time.Duration

	// RegistrationTTL is the registration lifetime requested from the
	// rendezvous node.
	RegistrationTTL time.Duration

	// EventBufferSize is the buffer size of the protocol event stream.
	EventBufferSize int

	// StatusBufferSize is the buffer size for the status events channel.
	StatusBufferSize int

	// NATPortMap enables UPnP / NAT-PMP port mapping on the host.
	NATPortMap bool

	// Clock drives the startup grace period and periodic timers. If nil,
	// the wall clock is used.
	Clock clock.Clock

	// Logger is the logger for the node. If nil, a NopLogger is used.
	// The logger must be safe for concurrent use.
	Logger Logger

	// Metrics is the metrics collector for the node. If nil, a NopMetrics is used.
	// The metrics collector must be safe for concurrent use.
	Metrics Metrics

	// TracerProvider supplies the tracer for boot sequence spans. If nil,
	// tracing is disabled.
	TracerProvider trace.TracerProvider
}

// Validate checks that the configuration is valid and returns an error
// describing any problems found.
func (c *Config) Validate() error {
	if c.PrivateKey != nil && len(c.PrivateKey) != ed25519.PrivateKeySize {
		return fmt.Errorf("%w: %w: expected %d bytes, got %d",
			ErrInvalidConfig, ErrInvalidPrivateKey, ed25519.PrivateKeySize, len(c.PrivateKey))
	}
	if c.ListenIP != nil && len(c.ListenIP) != net.IPv4len && len(c.ListenIP) != net.IPv6len {
		return fmt.Errorf("%w: listen ip is malformed", ErrInvalidConfig)
	}
	if c.StartupGrace < 0 {
		return fmt.Errorf("%w: startup grace cannot be negative", ErrInvalidConfig)
	}
	if c.ReservationAttempts < 0 {
		return fmt.Errorf("%w: reservation attempts cannot be negative", ErrInvalidConfig)
	}
	if c.ReservationBaseDelay < 0 {
		return fmt.Errorf("%w: reservation base delay cannot be negative", ErrInvalidConfig)
	}
	if c.ReservationMaxDelay < 0 {
		return fmt.Errorf("%w: reservation max delay cannot be negative", ErrInvalidConfig)
	}
	if c.ReservationMaxDelay > 0 && c.ReservationMaxDelay < c.ReservationBaseDelay {
		return fmt.Errorf("%w: reservation max delay cannot be less than base delay", ErrInvalidConfig)
	}
	if c.RediscoveryInterval < 0 {
		return fmt.Errorf("%w: rediscovery interval cannot be negative", ErrInvalidConfig)
	}
	if c.RedialCooldown < 0 {
		return fmt.Errorf("%w: redial cooldown cannot be negative", ErrInvalidConfig)
	}
	if c.RedialCacheSize < 0 {
		return fmt.Errorf("%w: redial cache size cannot be negative", ErrInvalidConfig)
	}
	if c.DialTimeout < 0 {
		return fmt.Errorf("%w: dial timeout cannot be negative", ErrInvalidConfig)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("%w: request timeout cannot be negative", ErrInvalidConfig)
	}
	if c.RegistrationTTL < 0 {
		return fmt.Errorf("%w: registration ttl cannot be negative", ErrInvalidConfig)
	}
	if c.EventBufferSize < 0 {
		return fmt.Errorf("%w: event buffer size cannot be negative", ErrInvalidConfig)
	}
	if c.StatusBufferSize < 0 {
		return fmt.Errorf("%w: status buffer size cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// applyDefaults sets default values for any unset optional fields.
func (c *Config) applyDefaults() {
	if c.ListenIP == nil {
		c.ListenIP = net.IPv4zero
	}
	if c.StartupGrace == 0 {
		c.StartupGrace = DefaultStartupGrace
	}
	if c.ReservationAttempts == 0 {
		c.ReservationAttempts = DefaultReservationAttempts
	}
	if c.ReservationBaseDelay == 0 {
		c.ReservationBaseDelay = DefaultReservationBaseDelay
	}
	if c.ReservationMaxDelay == 0 {
		c.ReservationMaxDelay = DefaultReservationMaxDelay
	}
	if c.RedialCooldown == 0 {
		c.RedialCooldown = DefaultRedialCooldown
	}
	if c.RedialCacheSize == 0 {
		c.RedialCacheSize = DefaultRedialCacheSize
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RegistrationTTL == 0 {
		c.RegistrationTTL = DefaultRegistrationTTL
	}
	if c.EventBufferSize == 0 {
		c.EventBufferSize = DefaultEventBufferSize
	}
	if c.StatusBufferSize == 0 {
		c.StatusBufferSize = DefaultStatusBufferSize
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
}

// ConfigOption is a functional option for configuring a Node.
type ConfigOption func(*Config)

// WithPrivateKey sets the node identity.
func WithPrivateKey(key ed25519.PrivateKey) ConfigOption {
	return func(c *Config) {
		c.PrivateKey = key
	}
}

// WithListenIP sets the local interface Connect listens on.
func WithListenIP(ip net.IP) ConfigOption {
	return func(c *Config) {
		c.ListenIP = ip
	}
}

// WithStartupGrace sets the delay between opening the listener and
// dialing the introducer.
func WithStartupGrace(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.StartupGrace = d
	}
}

// WithReservationRetry sets how many times the relay reservation is tried
// and the backoff between attempts.
func WithReservationRetry(attempts int, baseDelay, maxDelay time.Duration) ConfigOption {
	return func(c *Config) {
		c.ReservationAttempts = attempts
		c.ReservationBaseDelay = baseDelay
		c.ReservationMaxDelay = maxDelay
	}
}

// WithRediscoveryInterval enables periodic discovery rounds.
func WithRediscoveryInterval(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RediscoveryInterval = d
	}
}

// WithRedialCooldown sets how long a dialed peer is skipped.
func WithRedialCooldown(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RedialCooldown = d
	}
}

// WithTimeouts sets the dial and request timeouts.
func WithTimeouts(dial, request time.Duration) ConfigOption {
	return func(c *Config) {
		c.DialTimeout = dial
		c.RequestTimeout = request
	}
}

// WithRegistrationTTL sets the requested rendezvous registration lifetime.
func WithRegistrationTTL(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RegistrationTTL = d
	}
}

// WithEventBufferSize sets the buffer size of the protocol event stream.
func WithEventBufferSize(size int) ConfigOption {
	return func(c *Config) {
		c.EventBufferSize = size
	}
}

// WithStatusBufferSize sets the buffer size for the status channel.
func WithStatusBufferSize(size int) ConfigOption {
	return func(c *Config) {
		c.StatusBufferSize = size
	}
}

// WithNATPortMap enables UPnP / NAT-PMP port mapping.
func WithNATPortMap(enabled bool) ConfigOption {
	return func(c *Config) {
		c.NATPortMap = enabled
	}
}

// WithClock sets the clock driving timers.
func WithClock(clk clock.Clock) ConfigOption {
	return func(c *Config) {
		c.Clock = clk
	}
}

// WithLogger sets the logger for the node.
// The logger must be safe for concurrent use.
func WithLogger(l Logger) ConfigOption {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMetrics sets the metrics collector for the node.
// The metrics collector must be safe for concurrent use.
func WithMetrics(m Metrics) ConfigOption {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithTracerProvider enables tracing of the boot sequence.
func WithTracerProvider(tp trace.TracerProvider) ConfigOption {
	return func(c *Config) {
		c.TracerProvider = tp
	}
}

// NewConfig creates a new Config and applies any provided options. It
// applies defaults for unset optional fields but does not validate the
// configuration.
func NewConfig(opts ...ConfigOption) *Config {
	c := &Config{}
	for _, opt := range opts {
		opt(c)
	}
	c.applyDefaults()
	return c
}
