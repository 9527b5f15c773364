package config

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	BaseURL     string `env:"BASE_URL"`
	Currency    string `env:"CURRENCY" envDefault:"USD"`

	Database  Database  `envPrefix:"DB_"`
	Redis     Redis     `envPrefix:"REDIS_"`
	AMQP      AMQP      `envPrefix:"AMQP_"`
	Telemetry Telemetry `envPrefix:"OTEL_"`
	Auth      Auth      `envPrefix:"AUTH_"`
	Inventory Inventory `envPrefix:"INVENTORY_"`
	Risk      Risk      `envPrefix:"RISK_"`
	RateLimit RateLimit `envPrefix:"RATE_LIMIT_"`

	Card         Card         `envPrefix:"CARD_"`
	QR           QR           `envPrefix:"QR_"`
	Crypto       Crypto       `envPrefix:"CRYPTO_"`
	Peer         Peer         `envPrefix:"PEER_"`
	Deposit      Deposit      `envPrefix:"DEPOSIT_"`
	Provisioning Provisioning `envPrefix:"PROVISIONING_"`
}

type Database struct {
	Driver string `env:"DRIVER" envDefault:"mysql"` // mysql | sqlite
	URL    string `env:"URL"`
}

type Redis struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type AMQP struct {
	URL                string `env:"URL"`
	NotificationsTopic string `env:"NOTIFICATIONS_EXCHANGE" envDefault:"marketplace.notifications"`
	ProvisioningQueue  string `env:"PROVISIONING_QUEUE" envDefault:"marketplace.provisioning.callbacks"`
}

type Telemetry struct {
	Endpoint    string `env:"EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"digital-goods-marketplace"`
	Insecure    bool   `env:"EXPORTER_OTLP_INSECURE" envDefault:"true"`
}

type Auth struct {
	JWTSecret  string `env:"JWT_SECRET"`
	CronSecret string `env:"CRON_SECRET"`
}

type Inventory struct {
	// base64 encoded 32 byte key
	EncryptionKey string `env:"ENCRYPTION_KEY"`
}

// Risk holds the defaults used until an admin saves the settings row.
type Risk struct {
	HighValueThreshold    string `env:"HIGH_VALUE_THRESHOLD" envDefault:"100"`
	ManualReviewThreshold string `env:"MANUAL_REVIEW_THRESHOLD" envDefault:"500"`
	DeliveryDelayMinutes  int    `env:"DELIVERY_DELAY_MINUTES" envDefault:"30"`
	CommissionRate        string `env:"COMMISSION_RATE" envDefault:"0.10"`
	QRWindowMinutes       int    `env:"QR_WINDOW_MINUTES" envDefault:"15"`
	DepositWindowMinutes  int    `env:"DEPOSIT_WINDOW_MINUTES" envDefault:"60"`
}

// RateLimit covers the buyer poll and public webhook routes, per client IP.
type RateLimit struct {
	RPS   float64 `env:"RPS" envDefault:"5"`
	Burst int     `env:"BURST" envDefault:"10"`
}

type Card struct {
	WebhookSecret string `env:"WEBHOOK_SECRET"`
}

type QR struct {
	BaseApiURL    string `env:"BASE_API_URL"`
	APIKey        string `env:"API_KEY"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
}

type Crypto struct {
	PaymentKey string `env:"PAYMENT_KEY"`
}

type Peer struct {
	SecretKey string `env:"SECRET_KEY"`
}

type Deposit struct {
	BaseApiURL string `env:"BASE_API_URL"`
	APIKey     string `env:"API_KEY"`
	SecretKey  string `env:"SECRET_KEY"`
	Coin       string `env:"COIN" envDefault:"USDT"`
	Network    string `env:"NETWORK" envDefault:"TRX"`
}

type Provisioning struct {
	BaseApiURL     string `env:"BASE_API_URL"`
	APIKey         string `env:"API_KEY"`
	CallbackSecret string `env:"CALLBACK_SECRET"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}
