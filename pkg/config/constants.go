package config

const (
	// EnvPrefix namespaces every environment variable read by Load.
	EnvPrefix = "CARTLY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "CARTLY_DB_DSN"
	EnvDBHost = "CARTLY_DB_HOST"
	EnvDBUser = "CARTLY_DB_USER"
	EnvDBName = "CARTLY_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
