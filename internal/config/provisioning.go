package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Provisioning is the static domain, queue and agent layout loaded at startup
type Provisioning struct {
	Domains []DomainSpec `yaml:"domains"`
}

// DomainSpec lists the queues of one domain
type DomainSpec struct {
	Name   string      `yaml:"name"`
	Queues []QueueSpec `yaml:"queues"`
}

// QueueSpec describes one queue and its members
type QueueSpec struct {
	Name          string      `yaml:"name"`
	Mode          string      `yaml:"mode"`
	RingTimeoutMs int64       `yaml:"ringTimeoutMs"`
	RetryLagMs    int64       `yaml:"retryLagMs"`
	CapPolicy     string      `yaml:"capPolicy"`
	SLTarget      int         `yaml:"slTarget"`
	SLSeconds     int         `yaml:"slSeconds"`
	Agents        []AgentSpec `yaml:"agents"`
}

// AgentSpec is one queue member
type AgentSpec struct {
	URI        string `yaml:"uri"`
	AgentLagMs int64  `yaml:"agentLagMs"`
}

// RingTimeout returns the configured ring timeout, zero meaning the default
func (q QueueSpec) RingTimeout() time.Duration {
	return time.Duration(q.RingTimeoutMs) * time.Millisecond
}

// RetryLag returns the configured retry lag, zero meaning the default
func (q QueueSpec) RetryLag() time.Duration {
	return time.Duration(q.RetryLagMs) * time.Millisecond
}

// AgentLag returns the member's wrap-up lag, zero meaning the default
func (a AgentSpec) AgentLag() time.Duration {
	return time.Duration(a.AgentLagMs) * time.Millisecond
}

// LoadProvisioning reads and validates a provisioning file
func LoadProvisioning(path string) (*Provisioning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provisioning file: %w", err)
	}
	return ParseProvisioning(data)
}

// ParseProvisioning decodes and validates a provisioning document
func ParseProvisioning(data []byte) (*Provisioning, error) {
	var p Provisioning
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse provisioning file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks names, modes and lags
func (p *Provisioning) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for i, d := range p.Domains {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("domains[%d]: missing name", i))
			continue
		}
		if seen[d.Name] {
			errs = append(errs, fmt.Errorf("domain %s: listed twice", d.Name))
		}
		seen[d.Name] = true

		queues := make(map[string]bool)
		for j, q := range d.Queues {
			if q.Name == "" {
				errs = append(errs, fmt.Errorf("domain %s: queues[%d]: missing name", d.Name, j))
				continue
			}
			if queues[q.Name] {
				errs = append(errs, fmt.Errorf("queue %s/%s: listed twice", d.Name, q.Name))
			}
			queues[q.Name] = true

			switch q.Mode {
			case "", "ringall", "enterprise":
			default:
				errs = append(errs, fmt.Errorf("queue %s/%s: unknown mode %q", d.Name, q.Name, q.Mode))
			}
			switch q.CapPolicy {
			case "", "dual", "waiting":
			default:
				errs = append(errs, fmt.Errorf("queue %s/%s: unknown cap policy %q", d.Name, q.Name, q.CapPolicy))
			}
			if q.RingTimeoutMs < 0 || q.RetryLagMs < 0 {
				errs = append(errs, fmt.Errorf("queue %s/%s: negative timing", d.Name, q.Name))
			}
			for k, a := range q.Agents {
				if a.URI == "" {
					errs = append(errs, fmt.Errorf("queue %s/%s: agents[%d]: missing uri", d.Name, q.Name, k))
				}
				if a.AgentLagMs < 0 {
					errs = append(errs, fmt.Errorf("queue %s/%s: agent %s: negative lag", d.Name, q.Name, a.URI))
				}
			}
		}
	}
	return errors.Join(errs...)
}
