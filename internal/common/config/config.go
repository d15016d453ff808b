// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig                 `mapstructure:"app"`
	Node          NodeConfig                `mapstructure:"node"`
	Database      DatabaseConfig            `mapstructure:"database"`
	APIs          APIsConfig                `mapstructure:"apis"`
	Actions       ActionsConfig             `mapstructure:"actions"`
	Executors     map[string]ExecutorConfig `mapstructure:"executors"`
	Federation    FederationConfig          `mapstructure:"federation"`
	Auth          AuthConfig                `mapstructure:"auth"`
	Workflow      WorkflowConfig            `mapstructure:"workflow"`
	Integrations  IntegrationConfig         `mapstructure:"integrations"`
	Notifications NotificationConfig        `mapstructure:"notifications"`
	Logging       LoggingConfig             `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	ListenAddr  string `mapstructure:"listen_addr"` // health + metrics
}

// NodeConfig is this deployment's federation identity.
type NodeConfig struct {
	Slug        string `mapstructure:"slug"`
	DisplayName string `mapstructure:"display_name"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	SSLEnabled bool     `mapstructure:"ssl_enabled"`
	URL        string   `mapstructure:"url"` // Single URL for backwards compatibility
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// --- Action Engine Config ---

// ActionsConfig holds the pending-action and catalog settings.
type ActionsConfig struct {
	PendingTTL           int     `mapstructure:"pending_ttl"`            // milliseconds
	DiscoveryCacheTTL    int     `mapstructure:"discovery_cache_ttl"`    // milliseconds
	MinDynamicConfidence float64 `mapstructure:"min_dynamic_confidence"` // create-<Entity> match threshold
	RegistryPath         string  `mapstructure:"registry_path"`
	EntityIndex          string  `mapstructure:"entity_index"` // elasticsearch index for relationship search
}

// ExecutorConfig holds the core settings applicable to every executor.
type ExecutorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Timeout int  `mapstructure:"timeout"` // milliseconds
}

// FederationConfig holds routing and the inbound peer API settings.
type FederationConfig struct {
	Enabled        bool              `mapstructure:"enabled"`
	ListenAddress  string            `mapstructure:"listen_address"`
	AuthToken      string            `mapstructure:"auth_token"` // accepted inbound bearer token
	RequestTimeout int               `mapstructure:"request_timeout"` // milliseconds
	PinTTL         int               `mapstructure:"pin_ttl"`         // milliseconds
	Nodes          []PeerConfig      `mapstructure:"nodes"`
	Ownership      map[string]string `mapstructure:"ownership"` // collection -> node slug
}

// PeerConfig identifies one remote node.
type PeerConfig struct {
	Slug      string `mapstructure:"slug"`
	BaseURL   string `mapstructure:"base_url"`
	AuthToken string `mapstructure:"auth_token"`
}

// --- External APIs ---

// APIsConfig holds settings for external API integrations.
type APIsConfig struct {
	GenAI struct {
		BaseURL         string  `mapstructure:"base_url"`
		APIKey          string  `mapstructure:"api_key"`
		Model           string  `mapstructure:"model"`
		MaxTokens       int     `mapstructure:"max_tokens"`
		Temperature     float64 `mapstructure:"temperature"`
		Timeout         int     `mapstructure:"timeout"`          // milliseconds, generation calls
		ClassifyTimeout int     `mapstructure:"classify_timeout"` // milliseconds, classification calls
	} `mapstructure:"genai"`
}

// AuthConfig holds the service-to-service token source used for peer calls.
type AuthConfig struct {
	Keycloak struct {
		URL          string `mapstructure:"url"`
		Realm        string `mapstructure:"realm"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
	} `mapstructure:"keycloak"`
}

// WorkflowConfig holds the BPMN engine settings for complex tasks.
type WorkflowConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	ProcessID      string `mapstructure:"process_id"`
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

// IntegrationConfig holds settings for CRM, Email, and other external services.
type IntegrationConfig struct {
	Zoho struct {
		Enabled       bool     `mapstructure:"enabled"`
		APIKey        string   `mapstructure:"api_key"`
		AuthToken     string   `mapstructure:"oauth_token"`
		MirrorClasses []string `mapstructure:"mirror_classes"` // entity classes pushed to CRM after create
	} `mapstructure:"zoho"`

	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled   bool   `mapstructure:"enabled"`
			FromEmail string `mapstructure:"from_email"`
		} `mapstructure:"ses"`
		SNS struct {
			Enabled            bool   `mapstructure:"enabled"`
			DefaultSMSSenderID string `mapstructure:"default_sms_sender_id"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`
}

// NotificationConfig holds settings for post-execution confirmations.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"sms"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
