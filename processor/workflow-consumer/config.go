package workflowconsumer

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// workflowConsumerSchema defines the configuration schema.
var workflowConsumerSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the workflow-consumer component.
type Config struct {
	// Substrate selects the durable queue backend.
	Substrate string `json:"substrate" schema:"type:string,description:Queue substrate backend (jetstream | pgmq | memory),category:basic,default:jetstream"`

	// StreamName is the JetStream stream carrying the queue subjects.
	StreamName string `json:"stream_name" schema:"type:string,description:JetStream stream carrying queue subjects,category:basic,default:EVOQ"`

	// PGMQDSN is the Postgres connection string for the pgmq substrate.
	PGMQDSN string `json:"pgmq_dsn,omitempty" schema:"type:string,description:Postgres DSN for the pgmq substrate,category:advanced"`

	// PGMQMaxConns bounds the Postgres connection pool for pgmq.
	// Zero derives workers+2.
	PGMQMaxConns int `json:"pgmq_max_conns" schema:"type:int,description:Postgres connection pool size for pgmq (0 derives workers+2),category:advanced,default:6,min:1,max:32"`

	// Workers is the handler pool size.
	Workers int `json:"workers" schema:"type:int,description:Number of parallel handler workers,category:basic,default:4,min:1,max:64"`

	// BatchSize is the maximum messages read per queue poll.
	BatchSize int `json:"batch_size" schema:"type:int,description:Maximum messages per queue read,category:basic,default:10,min:1,max:100"`

	// PollInterval is the pause between polls of an idle queue.
	PollInterval string `json:"poll_interval" schema:"type:string,description:Pause between polls of an idle queue,category:advanced,default:1s"`

	// VisibilityTimeout hides a read message from other consumers. Must
	// cover the longest handler timeout plus the cancellation grace.
	VisibilityTimeout string `json:"visibility_timeout" schema:"type:string,description:How long a read message stays hidden,category:advanced,default:60s"`

	// CancelGrace is how long an expired handler may keep running before
	// its worker abandons it.
	CancelGrace string `json:"cancel_grace" schema:"type:string,description:Grace window after handler timeout before abandonment,category:advanced,default:2s"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Input/output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Substrate:         "jetstream",
		StreamName:        "EVOQ",
		PGMQMaxConns:      6,
		Workers:           4,
		BatchSize:         10,
		PollInterval:      "1s",
		VisibilityTimeout: "60s",
		CancelGrace:       "2s",
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "rule-updates",
					Type:        "jetstream",
					Subject:     "q.rule_updates",
					StreamName:  "EVOQ",
					Description: "Consume safety rule update requests",
					Required:    true,
				},
				{
					Name:        "llm-config-updates",
					Type:        "jetstream",
					Subject:     "q.llm_config_updates",
					StreamName:  "EVOQ",
					Description: "Consume model routing update requests",
					Required:    true,
				},
				{
					Name:        "job-requests",
					Type:        "jetstream",
					Subject:     "q.job_requests",
					StreamName:  "EVOQ",
					Description: "Consume code execution requests",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "results",
					Type:        "jetstream",
					Subject:     "q.*_results",
					Description: "Publish per-workflow result envelopes",
					Required:    true,
				},
				{
					Name:        "dead-letters",
					Type:        "jetstream",
					Subject:     "q.*_dlq",
					Description: "Dead-letter undeliverable messages",
					Required:    false,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Substrate {
	case "jetstream", "pgmq", "memory":
	default:
		return fmt.Errorf("unknown substrate %q (want jetstream, pgmq, or memory)", c.Substrate)
	}
	if c.Substrate == "jetstream" && c.StreamName == "" {
		return fmt.Errorf("stream_name is required for the jetstream substrate")
	}
	if c.Substrate == "pgmq" && c.PGMQDSN == "" {
		return fmt.Errorf("pgmq_dsn is required for the pgmq substrate")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.Workers > 64 {
		return fmt.Errorf("workers cannot exceed 64")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	if c.BatchSize > 100 {
		return fmt.Errorf("batch_size cannot exceed 100")
	}
	// Reading more than the pool can absorb between polls just parks
	// messages in memory while their visibility clocks run down.
	if c.BatchSize > c.Workers*4 {
		return fmt.Errorf("batch_size %d exceeds 4x workers (%d)", c.BatchSize, c.Workers*4)
	}

	for field, value := range map[string]string{
		"poll_interval":      c.PollInterval,
		"visibility_timeout": c.VisibilityTimeout,
		"cancel_grace":       c.CancelGrace,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", field, err)
		}
	}

	// A visibility window shorter than a handler's worst case would hand the
	// message to a second reader while the first attempt is still running.
	floor := maxRouteTimeout() + c.GetCancelGrace()
	if vis := c.GetVisibilityTimeout(); vis < floor {
		return fmt.Errorf("visibility_timeout %s is below handler timeout plus grace (%s)", vis, floor)
	}

	return nil
}

// GetPollInterval returns the idle poll interval.
// Returns default 1s if parsing fails.
func (c *Config) GetPollInterval() time.Duration {
	if c.PollInterval == "" {
		return time.Second
	}
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// GetVisibilityTimeout returns the visibility window duration.
// Returns default 60s if parsing fails.
func (c *Config) GetVisibilityTimeout() time.Duration {
	if c.VisibilityTimeout == "" {
		return 60 * time.Second
	}
	d, err := time.ParseDuration(c.VisibilityTimeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// GetCancelGrace returns the abandonment grace duration.
// Returns default 2s if parsing fails.
func (c *Config) GetCancelGrace() time.Duration {
	if c.CancelGrace == "" {
		return 2 * time.Second
	}
	d, err := time.ParseDuration(c.CancelGrace)
	if err != nil || d < 0 {
		return 2 * time.Second
	}
	return d
}
