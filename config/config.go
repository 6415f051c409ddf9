/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/ordersync/model"
)

const (
	DEFAULT_PORT              = "5005"
	DEFAULT_STATE_DIR         = "state"
	DEFAULT_PER_PAGE          = 100
	DEFAULT_STORE_TIMEOUT     = 30
	DEFAULT_CHUNK_UPLOAD_SIZE = 50
	DEFAULT_BATCH_DELAY_MS    = 1000
	DEFAULT_MESSAGE_DELAY     = 10
	DEFAULT_CURRENCY          = "NGN"
	DEFAULT_SHEET_RANGE       = "Sheet1"
	DEFAULT_QUEUE             = "ordersync"
	DEFAULT_SCHEDULE          = "@every 15m"
	DEFAULT_LOCK_TTL          = 1800
	DEFAULT_WHATSAPP_API_URL  = "https://graph.facebook.com/v19.0"
	DEFAULT_MONITORING_PORT   = "5004"
)

// Cursor, ledger and messaging drivers.
const (
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverSheets   = "sheets"
	DriverWhatsApp = "whatsapp"
	DriverLog      = "log"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"ORDERSYNC_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"ORDERSYNC_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"ORDERSYNC_SERVER_PORT"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"ORDERSYNC_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"ORDERSYNC_REDIS_SKIP_TLS_VERIFY"`
}

type CursorConfig struct {
	Driver string `json:"driver" envconfig:"ORDERSYNC_CURSOR_DRIVER"`
	Dns    string `json:"dns" envconfig:"ORDERSYNC_CURSOR_DNS"`
}

// StoreConfig points at the WooCommerce storefront the orders come from.
type StoreConfig struct {
	Url            string `json:"url" envconfig:"ORDERSYNC_STORE_URL"`
	ConsumerKey    string `json:"consumer_key" envconfig:"ORDERSYNC_STORE_CONSUMER_KEY"`
	ConsumerSecret string `json:"consumer_secret" envconfig:"ORDERSYNC_STORE_CONSUMER_SECRET"`
	PerPage        int    `json:"per_page" envconfig:"ORDERSYNC_STORE_PER_PAGE"`
	TimeoutSec     int    `json:"timeout_sec" envconfig:"ORDERSYNC_STORE_TIMEOUT_SEC"`
}

type LedgerConfig struct {
	Driver          string `json:"driver" envconfig:"ORDERSYNC_LEDGER_DRIVER"`
	CredentialsFile string `json:"credentials_file" envconfig:"ORDERSYNC_LEDGER_CREDENTIALS_FILE"`
	MasterSheetID   string `json:"master_sheet_id" envconfig:"ORDERSYNC_LEDGER_MASTER_SHEET_ID"`
	SheetRange      string `json:"sheet_range" envconfig:"ORDERSYNC_LEDGER_SHEET_RANGE"`
}

type DistributionConfig struct {
	ChunkUploadSize   int `json:"chunk_upload_size" envconfig:"ORDERSYNC_DISTRIBUTION_CHUNK_UPLOAD_SIZE"`
	InterBatchDelayMs *int `json:"inter_batch_delay_ms" envconfig:"ORDERSYNC_DISTRIBUTION_INTER_BATCH_DELAY_MS"`
}

type MessagingConfig struct {
	Driver        string `json:"driver" envconfig:"ORDERSYNC_MESSAGING_DRIVER"`
	ApiUrl        string `json:"api_url" envconfig:"ORDERSYNC_MESSAGING_API_URL"`
	PhoneNumberID string `json:"phone_number_id" envconfig:"ORDERSYNC_MESSAGING_PHONE_NUMBER_ID"`
	AccessToken   string `json:"access_token" envconfig:"ORDERSYNC_MESSAGING_ACCESS_TOKEN"`
	Currency      string `json:"currency" envconfig:"ORDERSYNC_MESSAGING_CURRENCY"`
	DelaySeconds  *int   `json:"delay_seconds" envconfig:"ORDERSYNC_MESSAGING_DELAY_SECONDS"`
}

type QueueConfig struct {
	Name           string `json:"name" envconfig:"ORDERSYNC_QUEUE_NAME"`
	Schedule       string `json:"schedule" envconfig:"ORDERSYNC_QUEUE_SCHEDULE"`
	UniqueTTLSec   int    `json:"unique_ttl_sec" envconfig:"ORDERSYNC_QUEUE_UNIQUE_TTL_SEC"`
	MonitoringPort string `json:"monitoring_port" envconfig:"ORDERSYNC_QUEUE_MONITORING_PORT"`
}

type LockConfig struct {
	TTLSec int `json:"ttl_sec" envconfig:"ORDERSYNC_LOCK_TTL_SEC"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"ORDERSYNC_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"ORDERSYNC_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"ORDERSYNC_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type OtelConfig struct {
	ExporterOtlpProtocol string `json:"exporter_otlp_protocol" envconfig:"ORDERSYNC_OTEL_EXPORTER_OTLP_PROTOCOL"`
	ExporterOtlpEndpoint string `json:"exporter_otlp_endpoint" envconfig:"ORDERSYNC_OTEL_EXPORTER_OTLP_ENDPOINT"`
	ExporterOtlpHeaders  string `json:"exporter_otlp_headers" envconfig:"ORDERSYNC_OTEL_EXPORTER_OTLP_HEADERS"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"ORDERSYNC_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName     string             `json:"project_name" envconfig:"ORDERSYNC_PROJECT_NAME"`
	StateDir        string             `json:"state_dir" envconfig:"ORDERSYNC_STATE_DIR"`
	EnableTelemetry bool               `json:"enable_telemetry" envconfig:"ORDERSYNC_ENABLE_TELEMETRY"`
	Server          ServerConfig       `json:"server"`
	Redis           RedisConfig        `json:"redis"`
	Cursor          CursorConfig       `json:"cursor"`
	Store           StoreConfig        `json:"store"`
	Ledger          LedgerConfig       `json:"ledger"`
	Distribution    DistributionConfig `json:"distribution"`
	Messaging       MessagingConfig    `json:"messaging"`
	Roster          []model.Worker     `json:"roster" ignored:"true"`
	Queue           QueueConfig        `json:"queue"`
	Lock            LockConfig         `json:"lock"`
	RateLimit       RateLimitConfig    `json:"rate_limit"`
	Otel            OtelConfig         `json:"otel"`
	Notification    Notification       `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("ordersync", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return nil
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called ordersync.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Ordersync"
	}

	cnf.Store.Url = strings.TrimRight(strings.TrimSpace(cnf.Store.Url), "/")
	cnf.Ledger.MasterSheetID = strings.TrimSpace(cnf.Ledger.MasterSheetID)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)

	if cnf.Store.Url == "" {
		log.Println("Error: Store URL is empty. It's a required field.")
		return errors.New("store URL is required")
	}

	if cnf.Ledger.MasterSheetID == "" {
		log.Println("Error: Master sheet ID is empty. It's a required field.")
		return errors.New("master sheet ID is required")
	}

	if err := model.ValidateRoster(cnf.Roster); err != nil {
		return fmt.Errorf("invalid roster: %w", err)
	}

	if cnf.StateDir == "" {
		cnf.StateDir = DEFAULT_STATE_DIR
	}
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
	}
	if cnf.Store.PerPage <= 0 {
		cnf.Store.PerPage = DEFAULT_PER_PAGE
	}
	if cnf.Store.TimeoutSec <= 0 {
		cnf.Store.TimeoutSec = DEFAULT_STORE_TIMEOUT
	}

	if cnf.Cursor.Driver == "" {
		cnf.Cursor.Driver = DriverFile
	}
	switch cnf.Cursor.Driver {
	case DriverFile:
	case DriverRedis:
		if cnf.Redis.Dns == "" {
			return errors.New("redis DNS is required for the redis cursor driver")
		}
	case DriverPostgres:
		if cnf.Cursor.Dns == "" {
			return errors.New("cursor DNS is required for the postgres cursor driver")
		}
	default:
		return fmt.Errorf("unknown cursor driver %q", cnf.Cursor.Driver)
	}

	if cnf.Ledger.Driver == "" {
		cnf.Ledger.Driver = DriverSheets
	}
	switch cnf.Ledger.Driver {
	case DriverSheets:
		if cnf.Ledger.CredentialsFile == "" {
			return errors.New("credentials file is required for the sheets ledger driver")
		}
	case DriverRedis:
		if cnf.Redis.Dns == "" {
			return errors.New("redis DNS is required for the redis ledger driver")
		}
	default:
		return fmt.Errorf("unknown ledger driver %q", cnf.Ledger.Driver)
	}
	cnf.Ledger.SheetRange = strings.TrimSpace(cnf.Ledger.SheetRange)
	if cnf.Ledger.SheetRange == "" {
		cnf.Ledger.SheetRange = DEFAULT_SHEET_RANGE
	}
	if strings.Contains(cnf.Ledger.SheetRange, "!") {
		return fmt.Errorf("ledger sheet_range %q must be a sheet name, not a cell range", cnf.Ledger.SheetRange)
	}

	if cnf.Distribution.ChunkUploadSize <= 0 {
		cnf.Distribution.ChunkUploadSize = DEFAULT_CHUNK_UPLOAD_SIZE
	}
	if cnf.Distribution.InterBatchDelayMs == nil || *cnf.Distribution.InterBatchDelayMs < 0 {
		delay := DEFAULT_BATCH_DELAY_MS
		cnf.Distribution.InterBatchDelayMs = &delay
	}

	if cnf.Messaging.Driver == "" {
		cnf.Messaging.Driver = DriverWhatsApp
	}
	switch cnf.Messaging.Driver {
	case DriverWhatsApp:
		if cnf.Messaging.PhoneNumberID == "" || cnf.Messaging.AccessToken == "" {
			return errors.New("phone number ID and access token are required for the whatsapp messaging driver")
		}
		if cnf.Messaging.ApiUrl == "" {
			cnf.Messaging.ApiUrl = DEFAULT_WHATSAPP_API_URL
		}
	case DriverLog:
	default:
		return fmt.Errorf("unknown messaging driver %q", cnf.Messaging.Driver)
	}
	if cnf.Messaging.Currency == "" {
		cnf.Messaging.Currency = DEFAULT_CURRENCY
	}
	if cnf.Messaging.DelaySeconds == nil || *cnf.Messaging.DelaySeconds < 0 {
		delay := DEFAULT_MESSAGE_DELAY
		cnf.Messaging.DelaySeconds = &delay
	}

	if cnf.Queue.Name == "" {
		cnf.Queue.Name = DEFAULT_QUEUE
	}
	if cnf.Queue.Schedule == "" {
		cnf.Queue.Schedule = DEFAULT_SCHEDULE
	}
	if cnf.Queue.UniqueTTLSec <= 0 {
		cnf.Queue.UniqueTTLSec = DEFAULT_LOCK_TTL
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = DEFAULT_MONITORING_PORT
	}
	if cnf.Lock.TTLSec <= 0 {
		cnf.Lock.TTLSec = DEFAULT_LOCK_TTL
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// InterBatchDelay is the pause between two sub-batch uploads to the same worker ledger.
func (cnf *Configuration) InterBatchDelay() time.Duration {
	if cnf.Distribution.InterBatchDelayMs == nil {
		return DEFAULT_BATCH_DELAY_MS * time.Millisecond
	}
	return time.Duration(*cnf.Distribution.InterBatchDelayMs) * time.Millisecond
}

// MessageDelay is the pause between two consecutive notification sends.
func (cnf *Configuration) MessageDelay() time.Duration {
	if cnf.Messaging.DelaySeconds == nil {
		return DEFAULT_MESSAGE_DELAY * time.Second
	}
	return time.Duration(*cnf.Messaging.DelaySeconds) * time.Second
}

// SetOtelExporterEnvs exports the configured OTLP settings so the otlptracehttp exporter picks
// them up.
func SetOtelExporterEnvs() error {
	cnf, err := Fetch()
	if err != nil {
		return err
	}
	envs := map[string]string{
		"OTEL_EXPORTER_OTLP_PROTOCOL": cnf.Otel.ExporterOtlpProtocol,
		"OTEL_EXPORTER_OTLP_ENDPOINT": cnf.Otel.ExporterOtlpEndpoint,
		"OTEL_EXPORTER_OTLP_HEADERS":  cnf.Otel.ExporterOtlpHeaders,
	}
	for k, v := range envs {
		if v == "" {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
