package dkvbatch

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PolicyDefaults seeds a Policy from an operations YAML file, the
// same role config.Config/MigrateConfig play for the teacher's
// migration knobs (SPEC_FULL.md §2.3). Unlike the teacher's
// internal/config/parser.go (a hand-rolled line parser), this loads
// directly with yaml.v3 since there is no legacy file format to stay
// compatible with here.
type PolicyDefaults struct {
	SocketTimeoutMillis int     `yaml:"socket_timeout_ms"`
	TotalTimeoutMillis  int     `yaml:"total_timeout_ms"`
	MaxRetries          int     `yaml:"max_retries"`
	Replica             string  `yaml:"replica"`
	ReadModeAP          string  `yaml:"read_mode_ap"`
	ReadModeSC          string  `yaml:"read_mode_sc"`
	Concurrent          bool    `yaml:"concurrent"`
	AllowInline         bool    `yaml:"allow_inline"`
	SendSetName         bool    `yaml:"send_set_name"`
	Deserialize         bool    `yaml:"deserialize"`
	RetryQPS            float64 `yaml:"retry_qps"`
	RetryBurst          int     `yaml:"retry_burst"`
}

// LoadPolicyDefaults reads and parses a PolicyDefaults document from
// path. It is an additive convenience for callers who externalize
// tuning, not a requirement of the core (SPEC_FULL.md §2.3).
func LoadPolicyDefaults(path string) (*PolicyDefaults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dkvbatch: read policy defaults %s: %w", path, err)
	}
	var d PolicyDefaults
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("dkvbatch: parse policy defaults %s: %w", path, err)
	}
	return &d, nil
}

// Apply builds a Policy from d, falling back to NewPolicy's defaults
// for any numeric or string field d leaves unset. Boolean fields are
// copied as given, so an omitted boolean sets false, including
// Deserialize, which NewPolicy sets true.
func (d *PolicyDefaults) Apply() (*Policy, error) {
	p := NewPolicy()
	if d.SocketTimeoutMillis > 0 {
		p.SocketTimeout = time.Duration(d.SocketTimeoutMillis) * time.Millisecond
	}
	if d.TotalTimeoutMillis > 0 {
		p.TotalTimeout = time.Duration(d.TotalTimeoutMillis) * time.Millisecond
	}
	if d.MaxRetries > 0 {
		p.MaxRetries = d.MaxRetries
	}
	if d.Replica != "" {
		rp, err := parseReplicaPolicy(d.Replica)
		if err != nil {
			return nil, err
		}
		p.Replica = rp
	}
	if d.ReadModeAP != "" {
		rm, err := parseReadModeAP(d.ReadModeAP)
		if err != nil {
			return nil, err
		}
		p.ReadModeAP = rm
	}
	if d.ReadModeSC != "" {
		rm, err := parseReadModeSC(d.ReadModeSC)
		if err != nil {
			return nil, err
		}
		p.ReadModeSC = rm
	}
	p.Concurrent = d.Concurrent
	p.AllowInline = d.AllowInline
	p.SendSetName = d.SendSetName
	p.Deserialize = d.Deserialize
	if d.RetryQPS > 0 {
		p.RetryQPS = d.RetryQPS
	}
	if d.RetryBurst > 0 {
		p.RetryBurst = d.RetryBurst
	}
	return p, nil
}

func parseReplicaPolicy(s string) (ReplicaPolicy, error) {
	switch s {
	case "master":
		return ReplicaMaster, nil
	case "master_proles":
		return ReplicaMasterProles, nil
	case "sequence":
		return ReplicaSequence, nil
	case "prefer_rack":
		return ReplicaPreferRack, nil
	default:
		return 0, fmt.Errorf("dkvbatch: unknown replica policy %q", s)
	}
}

func parseReadModeAP(s string) (ReadModeAP, error) {
	switch s {
	case "one":
		return ReadModeAPOne, nil
	case "all":
		return ReadModeAPAll, nil
	default:
		return 0, fmt.Errorf("dkvbatch: unknown read_mode_ap %q", s)
	}
}

func parseReadModeSC(s string) (ReadModeSC, error) {
	switch s {
	case "session":
		return ReadModeSCSession, nil
	case "linearize":
		return ReadModeSCLinearize, nil
	case "allow_replica":
		return ReadModeSCAllowReplica, nil
	case "allow_unavailable":
		return ReadModeSCAllowUnavailable, nil
	default:
		return 0, fmt.Errorf("dkvbatch: unknown read_mode_sc %q", s)
	}
}
