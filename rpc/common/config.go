package common

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dht/lib/cluster"
	"github.com/docker/go-units"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	DefaultFlushThreshold = "1MiB"
	DefaultQueueCapacity  = 256
	DefaultTimeoutSecond  = 5
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a node.
type ServerConfig struct {
	// HTTP api settings
	Endpoint string // listen address, e.g. 0.0.0.0:8080
	SelfURL  string // url under which the other members reach this node

	// Cluster, identical on every node
	ClusterMembers []cluster.Node

	// Storage
	DataDir             string
	FlushThresholdBytes int

	// Admission control
	Workers       int
	QueueCapacity int

	// Forwarding timeout
	TimeoutSecond int64

	// Metrics endpoint, empty = disabled
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// ParseFlushThreshold parses a human readable size like "1MiB" or "512k".
// Units are binary (1k = 1024 bytes).
func ParseFlushThreshold(s string) (int, error) {
	size, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid flush threshold %q: %w", s, err)
	}
	if size <= 0 {
		return 0, fmt.Errorf("flush threshold must be positive, got %q", s)
	}
	return int(size), nil
}

// Validate checks the configuration for errors
func (c *ServerConfig) Validate() error {
	var errs []error

	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint must not be empty"))
	}
	if len(c.ClusterMembers) == 0 {
		errs = append(errs, errors.New("cluster must have at least one member"))
	}
	if c.SelfURL == "" {
		errs = append(errs, errors.New("self url must not be empty"))
	} else if !c.isMember() {
		errs = append(errs, fmt.Errorf("self url %s is not a cluster member", c.SelfURL))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data directory must not be empty"))
	}
	if c.FlushThresholdBytes <= 0 {
		errs = append(errs, fmt.Errorf("flush threshold must be positive, got %d", c.FlushThresholdBytes))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("queue capacity must be positive, got %d", c.QueueCapacity))
	}
	if c.TimeoutSecond <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %d", c.TimeoutSecond))
	}

	return errors.Join(errs...)
}

// isMember reports whether the self url belongs to one of the cluster members
func (c *ServerConfig) isMember() bool {
	for _, n := range c.ClusterMembers {
		if cluster.IsSelf(n, c.SelfURL) {
			return true
		}
	}
	return false
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Self URL", c.SelfURL)
	addField("Forward Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}

	// Admission control
	addSection("Worker Pool")
	addField("Workers", strconv.Itoa(c.Workers))
	addField("Queue Capacity", strconv.Itoa(c.QueueCapacity))

	// Storage
	addSection("Storage")
	addField("Data Directory", c.DataDir)
	addField("Flush Threshold", units.BytesSize(float64(c.FlushThresholdBytes)))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Cluster
	addSection("Cluster")
	for i, n := range c.ClusterMembers {
		marker := ""
		if cluster.IsSelf(n, c.SelfURL) {
			marker = " (self)"
		}
		addField(strconv.Itoa(i), n.String()+marker)
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints     []string
	TimeoutSecond int
	RetryCount    int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
