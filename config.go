package ovnet

import (
	"time"

	"github.com/rs/zerolog"
)

// Wire format constants (bit-exact), spec.md §6.
const (
	DefaultUDPPort          = 9993
	MaxVirtualMTU           = 2800
	MaxCircuitTestHops      = 512
	MaxCircuitTestHopBreadth = 256
	MaxClusterMessageLength = 1452
	MaxPeerNetworkPaths     = 4
	MaxAssignedAddresses    = 16
	MaxClusterMembers       = 128
)

// nodeConfig holds every tunable named in spec.md, seeded by configDefaults
// and adjusted by Option values, following ironwood's config.go pattern.
type nodeConfig struct {
	logger zerolog.Logger

	pathAliveTimeout   time.Duration
	pingInterval       time.Duration
	whoisRateLimit     time.Duration
	rendezvousBurst    int
	reassemblyTimeout  time.Duration
	maxReassemblies    int
	maxFragmentPayload int

	multicastTTL           time.Duration
	multicastLimitDefault  int
	maxMulticastLikers     int
	multicastGatherTimeout time.Duration

	netconfBackoffBase time.Duration
	netconfBackoffCap  time.Duration

	offlineTimeout time.Duration

	clusterMemberAliveTimeout time.Duration

	rootVerifyKey []byte // Ed25519 public key used to verify World signatures
}

// Option configures a Node at construction time.
type Option func(*nodeConfig)

func configDefaults() nodeConfig {
	return nodeConfig{
		logger:                    zerolog.Nop(),
		pathAliveTimeout:          60 * time.Second,
		pingInterval:              60 * time.Second,
		whoisRateLimit:            time.Second,
		rendezvousBurst:           3,
		reassemblyTimeout:         500 * time.Millisecond,
		maxReassemblies:           4096,
		maxFragmentPayload:        1444,
		multicastTTL:              5 * time.Minute,
		multicastLimitDefault:     32,
		maxMulticastLikers:        256,
		multicastGatherTimeout:    5 * time.Second,
		netconfBackoffBase:        10 * time.Second,
		netconfBackoffCap:         5 * time.Minute,
		offlineTimeout:            60 * time.Second,
		clusterMemberAliveTimeout: 30 * time.Second,
	}
}

// WithLogger injects a zerolog.Logger for internal diagnostics, following
// rflandau/Orv's VaultKeeper(id, logger, ...) convention. If unset, the
// Node logs nothing (zerolog.Nop()).
func WithLogger(l zerolog.Logger) Option {
	return func(c *nodeConfig) { c.logger = l }
}

// WithPathAliveTimeout overrides PATH_ALIVE_TIMEOUT (spec.md §3, "Path").
func WithPathAliveTimeout(d time.Duration) Option {
	return func(c *nodeConfig) { c.pathAliveTimeout = d }
}

// WithPingInterval overrides PING_INTERVAL (spec.md §4.2).
func WithPingInterval(d time.Duration) Option {
	return func(c *nodeConfig) { c.pingInterval = d }
}

// WithWHOISRateLimit overrides the per-target WHOIS rate limit (spec.md §4.4, "≈1/s").
func WithWHOISRateLimit(d time.Duration) Option {
	return func(c *nodeConfig) { c.whoisRateLimit = d }
}

// WithReassemblyTimeout overrides the fragment reassembly timeout (spec.md §4.1, "≈500ms").
func WithReassemblyTimeout(d time.Duration) Option {
	return func(c *nodeConfig) { c.reassemblyTimeout = d }
}

// WithMaxReassemblies bounds the global in-flight reassembly table (spec.md §5).
func WithMaxReassemblies(n int) Option {
	return func(c *nodeConfig) { c.maxReassemblies = n }
}

// WithMulticastTTL overrides the multicast membership TTL (spec.md §4.3, "≈5 min").
func WithMulticastTTL(d time.Duration) Option {
	return func(c *nodeConfig) { c.multicastTTL = d }
}

// WithNetconfBackoff overrides the network config request backoff schedule
// (spec.md §4.3: base ≈10s, cap ≈5 min).
func WithNetconfBackoff(base, cap_ time.Duration) Option {
	return func(c *nodeConfig) { c.netconfBackoffBase, c.netconfBackoffCap = base, cap_ }
}

// WithOfflineTimeout overrides the no-root-response timeout that drives the
// ONLINE/OFFLINE event transition (spec.md §4.3).
func WithOfflineTimeout(d time.Duration) Option {
	return func(c *nodeConfig) { c.offlineTimeout = d }
}

// WithClusterMemberAliveTimeout overrides CLUSTER_MEMBER_ALIVE_TIMEOUT (spec.md §4.7).
func WithClusterMemberAliveTimeout(d time.Duration) Option {
	return func(c *nodeConfig) { c.clusterMemberAliveTimeout = d }
}

// WithRootVerifyKey sets the planetary root's Ed25519 public key used to
// verify World signatures (SPEC_FULL.md §3's resolution of where that trust
// anchor comes from).
func WithRootVerifyKey(key []byte) Option {
	return func(c *nodeConfig) { c.rootVerifyKey = append([]byte(nil), key...) }
}
