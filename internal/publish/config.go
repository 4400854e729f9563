package publish

// MinIOConfig holds MinIO connection configuration
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// Enabled reports whether an endpoint is configured.
func (c *MinIOConfig) Enabled() bool { return c != nil && c.Endpoint != "" }
