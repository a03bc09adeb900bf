package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	General      GeneralConfig      `mapstructure:"general"`
	Server       ServerConfig       `mapstructure:"server"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Ingestion    IngestionConfig    `mapstructure:"ingestion"`
	LLM          LLMConfig          `mapstructure:"llm"`
	CodeAnalysis CodeAnalysisConfig `mapstructure:"code_analysis"`
	Enrichment   EnrichmentConfig   `mapstructure:"enrichment"`
	News         NewsConfig         `mapstructure:"news"`
	Mail         MailConfig         `mapstructure:"mail"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug         bool   `mapstructure:"debug"`
	ResultURLBase string `mapstructure:"result_url_base"`
}

func (g GeneralConfig) Normalize() GeneralConfig {
	g.ResultURLBase = strings.TrimSpace(g.ResultURLBase)
	if g.ResultURLBase == "" {
		g.ResultURLBase = "http://localhost:4200/results/"
	}
	if !strings.HasSuffix(g.ResultURLBase, "/") {
		g.ResultURLBase += "/"
	}
	return g
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address        string        `mapstructure:"address"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	SecureCookies  bool          `mapstructure:"secure_cookies"`
}

func (s ServerConfig) Normalize() ServerConfig {
	if s.Address == "" {
		s.Address = ":8000"
	} else if s.Address[0] != ':' && !strings.Contains(s.Address, ":") {
		s.Address = ":" + s.Address
	}
	if s.TokenTTL <= 0 {
		s.TokenTTL = 24 * time.Hour
	}
	if len(s.AllowedOrigins) == 0 {
		s.AllowedOrigins = []string{"*"}
	}
	if s.MaxUploadBytes <= 0 {
		s.MaxUploadBytes = 32 << 20
	}
	return s
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("server.jwt_secret required")
	}
	return nil
}

// StorageConfig groups every backing store the service talks to.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Vector   VectorConfig   `mapstructure:"vector"`
}

// RedisConfig contains Redis connection settings. An empty host disables
// redis-backed locks and caches.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

func (r RedisConfig) Validate() error {
	if r.Enabled() && strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required when storage.redis.host is set")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN renders a lib/pq connection string.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%s", p.Host, port),
		Path:     "/" + p.DBName,
		RawQuery: "sslmode=" + ssl,
	}
	return u.String()
}

// VectorConfig selects the embedding store. Host and port override the
// postgres connection when the vector index lives on a separate server.
type VectorConfig struct {
	Type        string        `mapstructure:"type"` // pgvector, memory
	Host        string        `mapstructure:"host"`
	Port        string        `mapstructure:"port"`
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
}

func (v VectorConfig) Normalize() VectorConfig {
	v.Type = strings.ToLower(strings.TrimSpace(v.Type))
	if v.Type == "" {
		v.Type = "pgvector"
	}
	if v.PingTimeout <= 0 {
		v.PingTimeout = 3 * time.Second
	}
	return v
}

func (v VectorConfig) Validate() error {
	switch v.Type {
	case "pgvector", "memory":
		return nil
	default:
		return fmt.Errorf("storage.vector.type must be pgvector or memory, got %q", v.Type)
	}
}

// DSN returns the vector store DSN, reusing postgres credentials.
func (v VectorConfig) DSN(pg PostgresConfig) string {
	if v.Host != "" {
		pg.URL = ""
		pg.Host = v.Host
	}
	if v.Port != "" {
		pg.URL = ""
		pg.Port = v.Port
	}
	return pg.DSN()
}

// IngestionConfig controls document ingestion and the defaults used for
// retrieval chains when a request omits them.
type IngestionConfig struct {
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
	TempDir           string   `mapstructure:"temp_dir"`
	ChunkSize         int      `mapstructure:"chunk_size"`
	ChunkOverlap      int      `mapstructure:"chunk_overlap"`
	Temperature       float64  `mapstructure:"temperature"`
	MaxTokens         int      `mapstructure:"max_tokens"`
	TopK              int      `mapstructure:"top_k"`
	ModelName         string   `mapstructure:"model_name"`
	PDFToTextPath     string   `mapstructure:"pdftotext_path"`
	TesseractPath     string   `mapstructure:"tesseract_path"`
}

func (c IngestionConfig) Normalize() IngestionConfig {
	if len(c.AllowedExtensions) == 0 {
		c.AllowedExtensions = []string{".pdf", ".png", ".jpg", ".jpeg"}
	}
	c.AllowedExtensions = normaliseExtensions(c.AllowedExtensions)
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 600
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.TopK <= 0 {
		c.TopK = 3
	}
	if c.ModelName == "" {
		c.ModelName = "llama3.1:8b"
	}
	if c.PDFToTextPath == "" {
		c.PDFToTextPath = "pdftotext"
	}
	if c.TesseractPath == "" {
		c.TesseractPath = "tesseract"
	}
	return c
}

func (c IngestionConfig) Validate() error {
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("ingestion.chunk_overlap must be smaller than ingestion.chunk_size")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("ingestion.temperature must be within [0, 2]")
	}
	return nil
}

// LLMConfig points at an OpenAI-compatible model host (Ollama by default).
type LLMConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
	AllowedModels  []string      `mapstructure:"allowed_models"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
}

func (l LLMConfig) Normalize() LLMConfig {
	if l.BaseURL == "" {
		l.BaseURL = "http://localhost:11434/v1"
	}
	l.BaseURL = strings.TrimRight(l.BaseURL, "/")
	if l.APIKey == "" {
		l.APIKey = "ollama"
	}
	if len(l.AllowedModels) == 0 {
		l.AllowedModels = []string{"llama3:7b", "tinyllama", "llama3.1:8b", "phi", "mistral:latest", "qwen:7b", "gemma:2b", "neural-chat"}
	}
	if l.EmbeddingModel == "" {
		l.EmbeddingModel = "all-minilm"
	}
	return l
}

// CodeAnalysisConfig controls the source-code scan endpoint.
type CodeAnalysisConfig struct {
	AllowedExtensions  []string `mapstructure:"allowed_extensions"`
	DefaultModel       string   `mapstructure:"default_model"`
	DefaultTemperature float64  `mapstructure:"default_temperature"`
}

func (c CodeAnalysisConfig) Normalize() CodeAnalysisConfig {
	if len(c.AllowedExtensions) == 0 {
		c.AllowedExtensions = []string{".py", ".js", ".ts", ".java", ".c", ".cpp", ".h", ".cs", ".go", ".php", ".rb", ".rs", ".kt", ".swift", ".sql", ".sh", ".txt"}
	}
	c.AllowedExtensions = normaliseExtensions(c.AllowedExtensions)
	if c.DefaultModel == "" {
		c.DefaultModel = "llama3.1:8b"
	}
	return c
}

// EnrichmentConfig configures the external CVE/CWE reference lookups.
type EnrichmentConfig struct {
	NVDURL     string        `mapstructure:"nvd_url"`
	CVEPageURL string        `mapstructure:"cve_page_url"`
	CWEURL     string        `mapstructure:"cwe_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Retries    int           `mapstructure:"retries"`
}

func (e EnrichmentConfig) Normalize() EnrichmentConfig {
	if e.NVDURL == "" {
		e.NVDURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"
	}
	if e.CVEPageURL == "" {
		e.CVEPageURL = "https://cve.mitre.org/cgi-bin/cvename.cgi?name="
	}
	if e.CWEURL == "" {
		e.CWEURL = "https://cwe.mitre.org/data/definitions/"
	}
	if e.Timeout <= 0 {
		e.Timeout = 10 * time.Second
	}
	if e.Retries < 0 {
		e.Retries = 0
	}
	return e
}

// NewsConfig lists the security feeds served by /news/.
type NewsConfig struct {
	Feeds       map[string]string `mapstructure:"feeds"`
	MaxItems    int               `mapstructure:"max_items"`
	CacheTTL    time.Duration     `mapstructure:"cache_ttl"`
	RefreshCron string            `mapstructure:"refresh_cron"`
	Timeout     time.Duration     `mapstructure:"timeout"`
}

func (n NewsConfig) Normalize() NewsConfig {
	if len(n.Feeds) == 0 {
		n.Feeds = map[string]string{
			"nvd":          "https://nvd.nist.gov/feeds/xml/cve/rss/nvdrss.xml",
			"threatpost":   "https://threatpost.com/feed/",
			"securityweek": "https://www.securityweek.com/feed/",
		}
	}
	if n.MaxItems <= 0 {
		n.MaxItems = 10
	}
	if n.CacheTTL <= 0 {
		n.CacheTTL = 30 * time.Minute
	}
	if n.RefreshCron == "" {
		n.RefreshCron = "*/30 * * * *"
	}
	if n.Timeout <= 0 {
		n.Timeout = 10 * time.Second
	}
	return n
}

// MailConfig configures the SMTP notifier.
type MailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	TLS      bool   `mapstructure:"tls"`
}

func (m MailConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	if strings.TrimSpace(m.Host) == "" {
		return fmt.Errorf("mail.host required when mail is enabled")
	}
	if strings.TrimSpace(m.From) == "" {
		return fmt.Errorf("mail.from required when mail is enabled")
	}
	return nil
}

// ArchiveConfig selects where original uploads are archived.
type ArchiveConfig struct {
	Type         string `mapstructure:"type"` // none, memory, filesystem, s3
	Dir          string `mapstructure:"dir"`
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	Prefix       string `mapstructure:"prefix"`
	AgeRecipient string `mapstructure:"age_recipient"`
}

func (a ArchiveConfig) Normalize() ArchiveConfig {
	a.Type = strings.ToLower(strings.TrimSpace(a.Type))
	if a.Type == "" {
		a.Type = "none"
	}
	return a
}

func (a ArchiveConfig) Validate() error {
	switch a.Type {
	case "none", "memory":
		return nil
	case "filesystem":
		if strings.TrimSpace(a.Dir) == "" {
			return fmt.Errorf("archive.dir required for filesystem archive")
		}
		return nil
	case "s3":
		if strings.TrimSpace(a.Bucket) == "" {
			return fmt.Errorf("archive.bucket required for s3 archive")
		}
		return nil
	default:
		return fmt.Errorf("unknown archive.type: %s", a.Type)
	}
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
}

// AllowsExtension reports whether ext (with leading dot) is in the list.
func AllowsExtension(allowed []string, ext string) bool {
	ext = strings.ToLower(strings.TrimSpace(ext))
	for _, a := range allowed {
		if a == ext {
			return true
		}
	}
	return false
}

func normaliseExtensions(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, ext := range in {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		out = append(out, ext)
	}
	return out
}

// Normalize applies defaults to every section.
func (c *Config) Normalize() {
	c.General = c.General.Normalize()
	c.Server = c.Server.Normalize()
	c.Storage.Vector = c.Storage.Vector.Normalize()
	c.Ingestion = c.Ingestion.Normalize()
	c.LLM = c.LLM.Normalize()
	c.CodeAnalysis = c.CodeAnalysis.Normalize()
	c.Enrichment = c.Enrichment.Normalize()
	c.News = c.News.Normalize()
	c.Archive = c.Archive.Normalize()
}

// Validate checks every section after normalisation.
func (c *Config) Validate() error {
	validators := []func() error{
		c.Server.Validate,
		c.Storage.Postgres.Validate,
		c.Storage.Redis.Validate,
		c.Storage.Vector.Validate,
		c.Ingestion.Validate,
		c.Mail.Validate,
		c.Archive.Validate,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

// LoadConfig loads config from file and SVAT_* environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("svat")
	v.SetConfigType("json")
	v.SetDefault("general.result_url_base", "http://localhost:4200/results/")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("storage.vector.type", "pgvector")
	v.SetDefault("ingestion.temperature", 0.7)
	v.SetDefault("code_analysis.default_temperature", 0.7)
	v.SetDefault("telemetry.metrics_enabled", true)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("SVAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var envKeys = []string{
	"server.jwt_secret",
	"storage.postgres.url", "storage.postgres.host", "storage.postgres.port", "storage.postgres.user",
	"storage.postgres.password", "storage.postgres.dbname", "storage.postgres.sslmode",
	"storage.redis.host", "storage.redis.port", "storage.redis.password",
	"storage.vector.type", "storage.vector.host", "storage.vector.port",
	"llm.base_url", "llm.api_key",
	"mail.enabled", "mail.host", "mail.port", "mail.username", "mail.password", "mail.from",
	"archive.type", "archive.bucket", "archive.access_key", "archive.secret_key", "archive.age_recipient",
}
