package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	ServerPort string

	RedisURL string

	// VAPID key pair for signing web push requests. Both are required:
	// a half-configured pair would otherwise only surface on the first delivery.
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string

	OpenAQAPIKey string

	BcryptCost         int
	BroadcastWorkers   int
	PushTimeoutSeconds int
}

func LoadConfig() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading it, relying on environment variables")
	}

	serverPort := os.Getenv("SERVER_PORT")
	if serverPort == "" {
		serverPort = "8080"
	}

	bcryptCost, err := strconv.Atoi(os.Getenv("BCRYPT_COST"))
	if err != nil || bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}

	broadcastWorkers, err := strconv.Atoi(os.Getenv("BROADCAST_WORKERS"))
	if err != nil || broadcastWorkers <= 0 {
		broadcastWorkers = 8
	}

	pushTimeout, err := strconv.Atoi(os.Getenv("PUSH_TIMEOUT_SECONDS"))
	if err != nil || pushTimeout <= 0 {
		pushTimeout = 10
	}

	vapidPublic := os.Getenv("VAPID_PUBLIC_KEY")
	vapidPrivate := os.Getenv("VAPID_PRIVATE_KEY")
	if vapidPublic == "" || vapidPrivate == "" {
		return nil, fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY are required (have public=%t private=%t)",
			vapidPublic != "", vapidPrivate != "")
	}

	vapidSubscriber := os.Getenv("VAPID_SUBSCRIBER")
	if vapidSubscriber == "" {
		vapidSubscriber = "admin@example.com"
	}

	return &Config{
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     os.Getenv("DB_PORT"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),

		ServerPort: serverPort,

		RedisURL: os.Getenv("REDIS_URL"),

		VAPIDPublicKey:  vapidPublic,
		VAPIDPrivateKey: vapidPrivate,
		VAPIDSubscriber: vapidSubscriber,

		OpenAQAPIKey: os.Getenv("OPENAQ_API_KEY"),

		BcryptCost:         bcryptCost,
		BroadcastWorkers:   broadcastWorkers,
		PushTimeoutSeconds: pushTimeout,
	}, nil
}
