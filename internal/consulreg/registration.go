// Package consulreg registers the dispatcher process itself with Consul
// for operational discovery. It has no relationship to the static remote
// node registry (internal/registry) that the placement engine reads from.
package consulreg

import (
	"fmt"
	"net"
	"strconv"

	"github.com/foglayer/dispatchd/internal/config"
	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

// Connect establishes a connection to the Consul agent.
func Connect(consulAddress string, logger *zap.Logger) (*consulapi.Client, error) {
	logger.Info("connecting to Consul agent", zap.String("address", consulAddress))
	clientConfig := consulapi.DefaultConfig()
	clientConfig.Address = consulAddress
	client, err := consulapi.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	if _, err := client.Agent().Self(); err != nil {
		return nil, fmt.Errorf("failed to connect/ping consul agent: %w", err)
	}
	return client, nil
}

// RegisterService registers this dispatcher instance with Consul.
func RegisterService(consulClient *consulapi.Client, cfg *config.Config, serviceID string, logger *zap.Logger) error {
	host, portStr, err := net.SplitHostPort(cfg.Port)
	if err != nil {
		portStr = cfg.Port
		if len(portStr) > 0 && portStr[0] == ':' {
			portStr = portStr[1:]
		}
		host = ""
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number %q: %w", portStr, err)
	}

	registration := &consulapi.AgentServiceRegistration{
		ID:      serviceID,
		Name:    cfg.ServiceName,
		Port:    port,
		Address: host,
		Tags:    cfg.ServiceTags,
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d%s", checkAddress(host), port, cfg.HealthCheckPath),
			Interval:                       cfg.HealthCheckInterval.String(),
			Timeout:                        cfg.HealthCheckTimeout.String(),
			DeregisterCriticalServiceAfter: "1m",
			Notes:                          "Health check for the fog dispatcher",
		},
	}

	logger.Info("registering dispatcher with Consul",
		zap.String("service_id", serviceID),
		zap.String("service_name", cfg.ServiceName),
		zap.String("check_url", registration.Check.HTTP),
	)

	if err := consulClient.Agent().ServiceRegister(registration); err != nil {
		return fmt.Errorf("failed to register service %q with consul: %w", cfg.ServiceName, err)
	}
	return nil
}

// checkAddress falls back to the loopback address when the service
// address is unspecified, matching how Consul's own agent would resolve it.
func checkAddress(serviceAddress string) string {
	if serviceAddress == "" || serviceAddress == "0.0.0.0" || serviceAddress == "::" {
		return "127.0.0.1"
	}
	return serviceAddress
}

// DeregisterService deregisters the dispatcher from Consul, typically
// called during graceful shutdown.
func DeregisterService(consulClient *consulapi.Client, serviceID string, logger *zap.Logger) error {
	logger.Info("deregistering dispatcher from Consul", zap.String("service_id", serviceID))
	if err := consulClient.Agent().ServiceDeregister(serviceID); err != nil {
		return fmt.Errorf("failed to deregister service %q: %w", serviceID, err)
	}
	return nil
}
