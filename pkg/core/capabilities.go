package core

type Capability string // Capabilities of services

const (
	CapabilityNotifier Capability = "NOTIFIER"
	CapabilityAPI      Capability = "API"
	CapabilityTrigger  Capability = "TRIGGER"
	CapabilitySecrets  Capability = "SECRETS"
	CapabilityBoard    Capability = "BOARD"
	CapabilityGateway  Capability = "GATEWAY"
)

type ServiceStatus string

const (
	StatusHealthy   ServiceStatus = "HEALTHY"
	StatusUnhealthy ServiceStatus = "UNHEALTHY"
	StatusUnknown   ServiceStatus = "UNKNOWN"
	StatusDegraded  ServiceStatus = "DEGRADED"
	StatusStopped   ServiceStatus = "STOPPED"
)
