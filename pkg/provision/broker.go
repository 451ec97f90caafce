package provision

import (
	"context"

	"github.com/fleetops/armada/pkg/container"
	"github.com/fleetops/armada/pkg/fleet"
	"github.com/fleetops/armada/pkg/readiness"
)

type BrokerConfig struct {
	Image string
	Name  string
	// Alias must stay "broker" for the default image; its server
	// certificate is issued for that name.
	Alias     string
	Port      int
	ServerKey string // TLS server key, passed as TLS_SERVER_KEY
	Env       map[string]string
}

func (c BrokerConfig) withDefaults() BrokerConfig {
	c.Image = orDefault(c.Image, "ghcr.io/equinor/flotilla-broker:latest")
	c.Name = orDefault(c.Name, "flotilla_broker")
	c.Alias = orDefault(c.Alias, "broker")
	c.Port = orDefault(c.Port, 1883)
	return c
}

// Broker is a running MQTT broker.
type Broker struct {
	Name    string
	Alias   string
	Port    int
	Process *container.Process
}

// NewBroker provisions the MQTT broker. It is ready once its port accepts
// TCP connections.
func NewBroker(cfg BrokerConfig) fleet.Provisioner {
	cfg = cfg.withDefaults()
	return fleet.ProvisionerFunc(func(ctx context.Context, scope *fleet.Scope) (interface{}, error) {
		d := Descriptor{
			Kind:  ServiceBroker,
			Name:  cfg.Name,
			Image: cfg.Image,
			Alias: cfg.Alias,
			Port:  cfg.Port,
			Env:   cfg.Env,
		}.WithEnv(map[string]string{"TLS_SERVER_KEY": cfg.ServerKey})

		p, err := launch(ctx, scope, d, func(p *container.Process) (readiness.Probe, error) {
			endpoint, err := p.Endpoint(cfg.Port)
			if err != nil {
				return nil, err
			}
			return readiness.TCP(endpoint), nil
		})
		if err != nil {
			return nil, err
		}

		return &Broker{
			Name:    cfg.Name,
			Alias:   cfg.Alias,
			Port:    cfg.Port,
			Process: p,
		}, nil
	})
}
