package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Conf is the application configuration, loaded once at startup.
var Conf *Config

type (
	Config struct {
		Debug    bool
		TestMode bool
		Env      string // DEV (default), TEST, QA, PROD
		AppName  string
		Build    string
		WorkDir  string

		SecretKey                 string
		FrontendBaseURL           string
		DefaultFromEmailAddr      string
		SendgridApiKey            string
		RollbarToken              string
		PasswordResetTimeoutDelta time.Duration

		Server   ServerConfig
		Database DatabaseConfig
		Broker   BrokerConfig
		Media    MediaConfig
		Chat     ChatConfig
	}

	ServerConfig struct {
		Host                      string
		Port                      string
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		ShutdownTimeout           time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Name          string
		Host          string
		Port          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	// BrokerConfig configures the realtime pub/sub broker.
	// When Embedded is set, an in-process NATS server is started and URL is ignored.
	BrokerConfig struct {
		URL      string
		Embedded bool
	}

	// MediaConfig configures uploaded-file storage.
	MediaConfig struct {
		Dir     string
		BaseURL string
	}

	// ChatConfig carries the messaging policy knobs.
	ChatConfig struct {
		HistoryPageSize       int
		AttachmentMaxSize     int64
		MaterialMaxSize       int64
		MaterialAllowedExts   []string
		AttachmentsBucket     string
		LessonMaterialsBucket string
	}
)

func (c ServerConfig) Addr() string      { return net.JoinHostPort(c.Host, c.Port) }
func (c DatabaseConfig) Address() string { return net.JoinHostPort(c.Host, c.Port) }

func (c *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: c.AppName, Address: c.DefaultFromEmailAddr}
}

func init() {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	// defaults
	v.SetDefault("debug", true)
	v.SetDefault("appName", "Darasa")
	v.SetDefault("build", "dev")
	v.SetDefault("secretKey", "w3m$=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy+57-poq5)enb")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)

	v.SetDefault("serverHost", "0.0.0.0")
	v.SetDefault("serverPort", "8000")
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("shutdownTimeout", 20*time.Second)

	v.SetDefault("databaseEngine", "postgres")
	v.SetDefault("databaseName", "darasa")
	v.SetDefault("databaseHost", "localhost")
	v.SetDefault("databasePort", "5432")
	v.SetDefault("databaseUser", "")
	v.SetDefault("databasePassword", "")
	v.SetDefault("databaseAdminUser", "")
	v.SetDefault("databaseAdminPassword", "")
	v.SetDefault("databaseDisableTLS", true)

	v.SetDefault("brokerURL", "nats://localhost:4222")
	v.SetDefault("brokerEmbedded", true)

	v.SetDefault("mediaDir", "media")
	v.SetDefault("mediaBaseURL", "http://localhost:8000/media")

	v.SetDefault("chatHistoryPageSize", 200)
	v.SetDefault("chatAttachmentMaxSize", 10<<20) // 10 MB
	v.SetDefault("materialMaxSize", 50<<20)       // 50 MB
	v.SetDefault("materialAllowedExts", []string{
		".pdf", ".doc", ".docx", ".ppt", ".pptx", ".xls", ".xlsx", ".png", ".jpg", ".jpeg", ".mp4", ".zip",
	})
	v.SetDefault("chatAttachmentsBucket", "chat-attachments")
	v.SetDefault("lessonMaterialsBucket", "lesson-materials")

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	v.SetEnvPrefix(env)

	wd := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err = godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	Conf = &Config{
		Debug:    v.GetBool("debug") && env != "QA" && env != "PROD",
		TestMode: env == "TEST",
		Env:      env,
		AppName:  v.GetString("appName"),
		Build:    v.GetString("build"),
		WorkDir:  wd,

		SecretKey:                 v.GetString("secretKey"),
		FrontendBaseURL:           v.GetString("frontendBaseURL"),
		DefaultFromEmailAddr:      v.GetString("defaultFromEmail"),
		SendgridApiKey:            v.GetString("sendgridApiKey"),
		RollbarToken:              v.GetString("rollbarToken"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),

		Server: ServerConfig{
			Host:                      v.GetString("serverHost"),
			Port:                      v.GetString("serverPort"),
			JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
			ShutdownTimeout:           v.GetDuration("shutdownTimeout"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("databaseEngine"),
			Name:          v.GetString("databaseName"),
			Host:          v.GetString("databaseHost"),
			Port:          v.GetString("databasePort"),
			User:          v.GetString("databaseUser"),
			Password:      v.GetString("databasePassword"),
			AdminUser:     v.GetString("databaseAdminUser"),
			AdminPassword: v.GetString("databaseAdminPassword"),
			DisableTLS:    v.GetBool("databaseDisableTLS"),
		},
		Broker: BrokerConfig{
			URL:      v.GetString("brokerURL"),
			Embedded: v.GetBool("brokerEmbedded"),
		},
		Media: MediaConfig{
			Dir:     v.GetString("mediaDir"),
			BaseURL: v.GetString("mediaBaseURL"),
		},
		Chat: ChatConfig{
			HistoryPageSize:       v.GetInt("chatHistoryPageSize"),
			AttachmentMaxSize:     v.GetInt64("chatAttachmentMaxSize"),
			MaterialMaxSize:       v.GetInt64("materialMaxSize"),
			MaterialAllowedExts:   v.GetStringSlice("materialAllowedExts"),
			AttachmentsBucket:     v.GetString("chatAttachmentsBucket"),
			LessonMaterialsBucket: v.GetString("lessonMaterialsBucket"),
		},
	}
}
