package telemetry

// ContractServiceConfig is the telemetry configuration for the contract service
var ContractServiceConfig = Config{
	ServiceName:    "contract-service",
	ServiceVersion: "1.0.0",
}

// WithOTLPEndpoint sets the OTLP endpoint for a config
func (c Config) WithOTLPEndpoint(endpoint string) Config {
	c.OTLPEndpoint = endpoint
	return c
}

// WithEnvironment sets the deployment environment for a config
func (c Config) WithEnvironment(env string) Config {
	c.Environment = env
	return c
}

// WithVersion sets the service version for a config
func (c Config) WithVersion(version string) Config {
	c.ServiceVersion = version
	return c
}
